package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/apperr"
	"github.com/JakeFAU/mediagate/internal/fileguard"
	"github.com/JakeFAU/mediagate/internal/gateway"
	"github.com/JakeFAU/mediagate/internal/ratelimit"
)

// --- helpers/fakes ---

type fakeGateway struct {
	mu        sync.Mutex
	err       error
	urls      []string
	qualities []string
}

func (g *fakeGateway) record(url, quality string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.urls = append(g.urls, url)
	g.qualities = append(g.qualities, quality)
	return g.err
}

func (g *fakeGateway) Analyze(_ context.Context, url string) (*gateway.Metadata, error) {
	if err := g.record(url, ""); err != nil {
		return nil, err
	}
	return &gateway.Metadata{Success: true, Title: "Clip", Formats: []gateway.FormatSummary{}}, nil
}

func (g *fakeGateway) ListFormats(_ context.Context, url string) (*gateway.FormatList, error) {
	if err := g.record(url, ""); err != nil {
		return nil, err
	}
	return &gateway.FormatList{Success: true, VideoFormats: []gateway.FormatEntry{}, AudioFormats: []gateway.FormatEntry{}}, nil
}

func (g *fakeGateway) Download(_ context.Context, url, quality string) (*gateway.DownloadResult, error) {
	if err := g.record(url, quality); err != nil {
		return nil, err
	}
	return &gateway.DownloadResult{Success: true, Message: "Video downloaded successfully", Filename: "download_x.mp4"}, nil
}

type prefixValidator struct{}

func (prefixValidator) Valid(raw string) bool {
	return strings.HasPrefix(raw, "https://") && !strings.Contains(raw, "127.0.0.1")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type testEnv struct {
	server    *Server
	gateway   *fakeGateway
	downloads string
	static    string
}

func newTestEnv(t *testing.T, maxRequests int) *testEnv {
	t.Helper()

	downloads := filepath.Join(t.TempDir(), "downloads")
	dl, err := fileguard.New(fileguard.Config{Name: "downloads", Root: downloads, Create: true})
	require.NoError(t, err)

	staticRoot := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(staticRoot, "index.html"), []byte("<h1>mediagate</h1>"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(staticRoot, "css"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(staticRoot, "css", "app.css"), []byte("body{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(staticRoot, "server.py"), []byte("print()"), 0o600))
	st, err := fileguard.New(fileguard.Config{
		Name: "static", Root: staticRoot, Nested: true, Extensions: fileguard.StaticExtensions,
	})
	require.NoError(t, err)

	keys, err := ratelimit.NewKeyResolver(false, nil)
	require.NoError(t, err)
	window := ratelimit.NewWindow(ratelimit.Config{Window: time.Minute, MaxRequests: maxRequests},
		&fakeClock{now: time.Unix(1_700_000_000, 0)})

	gw := &fakeGateway{}
	server := NewServer(Deps{
		Gateway:   gw,
		Validator: prefixValidator{},
		Limiter:   window,
		Keys:      keys,
		Downloads: dl,
		Static:    st,
	}, Config{
		AllowedOrigins: []string{`https?://localhost(:\d+)?`, `https://.*\.onrender\.com`},
		MaxBodyBytes:   1024,
	})
	return &testEnv{server: server, gateway: gw, downloads: dl.Root(), static: staticRoot}
}

func (e *testEnv) do(method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	msg, _ := body["error"].(string)
	return msg
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	server net.Conn
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.server, h.client = net.Pipe()
	rw := bufio.NewReadWriter(bufio.NewReader(h.server), bufio.NewWriter(h.server))
	return h.server, rw, nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client == nil {
		return nil
	}
	return h.client.Close()
}

// --- tests ---

func TestAnalyzeSucceeds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodPost, "/api/analyze", `{"url":" https://www.youtube.com/watch?v=abc "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var meta gateway.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	require.True(t, meta.Success)
	require.Equal(t, []string{"https://www.youtube.com/watch?v=abc"}, env.gateway.urls)
}

func TestAnalyzeInputErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	cases := []struct {
		body string
		want string
	}{
		{`not json`, "Invalid JSON data"},
		{`{}`, "URL is required"},
		{`{"url":"   "}`, "URL is required"},
		{`{"url":"http://127.0.0.1/x"}`, "Invalid URL format"},
	}
	for _, tc := range cases {
		rec := env.do(http.MethodPost, "/api/analyze", tc.body)
		require.Equal(t, http.StatusBadRequest, rec.Code, tc.body)
		require.Equal(t, tc.want, decodeError(t, rec), tc.body)
	}
	require.Empty(t, env.gateway.urls)
}

func TestURLValidationOnEveryEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	for _, path := range []string{"/api/analyze", "/api/formats", "/api/download"} {
		rec := env.do(http.MethodPost, path, `{"url":"http://example.com/plain-http","quality":"720p"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Equal(t, "Invalid URL format", decodeError(t, rec), path)

		rec = env.do(http.MethodPost, path, `{"url":""}`)
		require.Equal(t, http.StatusBadRequest, rec.Code, path)
		require.Equal(t, "URL is required", decodeError(t, rec), path)
	}
	require.Empty(t, env.gateway.urls)

	rec := env.do(http.MethodPost, "/api/download", `{"url":" https://example.com/v ","quality":" garbage "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"https://example.com/v"}, env.gateway.urls)
	require.Equal(t, []string{"garbage"}, env.gateway.qualities)
}

func TestFileErrorKinds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		kind apperr.Kind
		msg  string
	}{
		{fileguard.ErrTraversal, apperr.KindForbidden, "Invalid filename"},
		{fileguard.ErrDisallowedType, apperr.KindForbidden, "File type not allowed"},
		{fileguard.ErrNotFound, apperr.KindNotFound, "File not found"},
		{os.ErrNotExist, apperr.KindNotFound, "File not found"},
	}
	for _, tc := range cases {
		got := fileError(tc.err, "Invalid filename")
		require.Equal(t, tc.kind, got.Kind, tc.err.Error())
		require.Equal(t, tc.msg, got.Message, tc.err.Error())
		require.ErrorIs(t, got, tc.err)
	}
}

func TestValidationMessage(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Invalid request", validationMessage(os.ErrInvalid))
}

func TestBodyTooLarge(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	body := `{"url":"https://example.com/` + strings.Repeat("a", 2048) + `"}`
	rec := env.do(http.MethodPost, "/api/formats", body)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGatewayErrorsMapToStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.New(apperr.KindUpstreamTransient, "blocked"), http.StatusServiceUnavailable, "blocked"},
		{apperr.New(apperr.KindUpstreamFatal, "Download failed: private"), http.StatusBadRequest, "Download failed: private"},
		{apperr.New(apperr.KindResourceLimit, "too big"), http.StatusRequestEntityTooLarge, "too big"},
		{os.ErrPermission, http.StatusInternalServerError, apperr.InternalMessage},
	}
	for _, tc := range cases {
		env := newTestEnv(t, 100)
		env.gateway.err = tc.err
		rec := env.do(http.MethodPost, "/api/download", `{"url":"https://example.com/v","quality":"1080p"}`)
		require.Equal(t, tc.status, rec.Code)
		require.Equal(t, tc.msg, decodeError(t, rec))
		require.NotContains(t, rec.Body.String(), "permission")
	}
}

func TestDownloadPassesQuality(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodPost, "/api/download", `{"url":"https://example.com/v","quality":"audio"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"audio"}, env.gateway.qualities)
}

func TestPostOnlyEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	for _, path := range []string{"/api/analyze", "/api/formats", "/api/download"} {
		rec := env.do(http.MethodOptions, path, "")
		require.Equal(t, http.StatusNoContent, rec.Code, path)
		require.Empty(t, rec.Body.String())

		rec = env.do(http.MethodGet, path, "")
		require.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		var body struct {
			Error          string   `json:"error"`
			Message        string   `json:"message"`
			AllowedMethods []string `json:"allowed_methods"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Equal(t, "Method not allowed", body.Error)
		require.Equal(t, "This endpoint does not support GET requests", body.Message)
		require.Equal(t, []string{"POST"}, body.AllowedMethods)
	}
}

func TestRateLimitRejectsWithRetryAfter(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 2)

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodPost, "/api/analyze", `{"url":"https://example.com/v"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := env.do(http.MethodPost, "/api/analyze", `{"url":"https://example.com/v"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "Too many requests. Please try again later.", decodeError(t, rec))
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Preflight is not counted.
	require.Equal(t, http.StatusNoContent, env.do(http.MethodOptions, "/api/analyze", "").Code)
}

func TestCORS(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodOptions, "/api/analyze", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type",
	)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodPost, "/api/analyze", `{"url":"https://example.com/v"}`,
		"Origin", "https://evil.example.com")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodPost, "/api/analyze", `{"url":"https://example.com/v"}`,
		"Origin", "https://app.onrender.com")
	require.Equal(t, "https://app.onrender.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = env.do(http.MethodGet, "/healthz", "", "Origin", "http://localhost:3000")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestDownloadFile(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	require.NoError(t, os.WriteFile(filepath.Join(env.downloads, "download_ab12cd34_clip.mp4"), []byte("video"), 0o600))

	rec := env.do(http.MethodGet, "/api/download-file/download_ab12cd34_clip.mp4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "video", rec.Body.String())
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.Contains(t, rec.Header().Get("Content-Disposition"), "download_ab12cd34_clip.mp4")

	rec = env.do(http.MethodGet, "/api/download-file/..%2F..%2Fetc%2Fpasswd", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Invalid filename", decodeError(t, rec))

	rec = env.do(http.MethodGet, "/api/download-file/missing.mp4", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "File not found", decodeError(t, rec))
}

func TestStaticFiles(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mediagate")

	rec = env.do(http.MethodGet, "/css/app.css", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "body{}", rec.Body.String())

	rec = env.do(http.MethodGet, "/server.py", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "File type not allowed", decodeError(t, rec))

	rec = env.do(http.MethodGet, "/..%2F..%2Fetc%2Fpasswd", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, "Access denied", decodeError(t, rec))

	rec = env.do(http.MethodGet, "/missing.js", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/api/unknown", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Not found", decodeError(t, rec))
}

func TestIndexMissing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	require.NoError(t, os.Remove(filepath.Join(env.static, "index.html")))

	rec := env.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Frontend not found", decodeError(t, rec))
}

func TestAPIInfoAndHealthChecks(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodGet, "/api", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Status    string                  `json:"status"`
		Endpoints map[string]endpointInfo `json:"endpoints"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "running", info.Status)
	require.Contains(t, info.Endpoints, "/api/analyze")

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", "").Code)

	rec = env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestReadyzReportsFailure(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)
	env.server.deps.Ready = func(context.Context) error { return os.ErrNotExist }

	rec := env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, 100)

	rec := env.do(http.MethodGet, "/healthz", "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

func TestRequestIDUsesGenerator(t *testing.T) {
	t.Parallel()

	s := NewServer(Deps{IDs: fixedIDs{id: "req-1"}}, Config{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	s = NewServer(Deps{IDs: fixedIDs{err: os.ErrClosed}}, Config{})
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "Internal server error", decodeError(t, rec))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
}
