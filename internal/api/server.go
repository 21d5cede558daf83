package api

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/apperr"
	"github.com/JakeFAU/mediagate/internal/gateway"
	"github.com/JakeFAU/mediagate/internal/metrics"
	"github.com/JakeFAU/mediagate/internal/ratelimit"
)

// Version is reported by the /api catalog.
const Version = "1.0.1"

// Gateway is the extraction surface the handlers call.
type Gateway interface {
	Analyze(ctx context.Context, url string) (*gateway.Metadata, error)
	ListFormats(ctx context.Context, url string) (*gateway.FormatList, error)
	Download(ctx context.Context, url, quality string) (*gateway.DownloadResult, error)
}

// URLValidator reports whether a URL may be handed to the extractor.
type URLValidator interface {
	Valid(raw string) bool
}

// Limiter admits or rejects a request for a client key.
type Limiter interface {
	Admit(key string) ratelimit.Decision
}

// ClientKeyer derives the rate-limit key for a request.
type ClientKeyer interface {
	Key(r *http.Request) string
}

// IDGenerator mints request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// FileResolver maps a request path to a file under a guarded root.
type FileResolver interface {
	Resolve(requested string) (string, error)
}

// Config holds HTTP-layer settings.
type Config struct {
	// AllowedOrigins are regular expressions matched against the full Origin.
	AllowedOrigins []string
	// MaxBodyBytes caps JSON request bodies.
	MaxBodyBytes int64
}

// Deps are the collaborators the Server is built from.
type Deps struct {
	Gateway   Gateway
	Validator URLValidator
	Limiter   Limiter
	Keys      ClientKeyer
	Downloads FileResolver
	Static    FileResolver
	IDs       IDGenerator
	Logger    *zap.Logger
	// Ready reports readiness; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the gateway, limiter and file guards.
type Server struct {
	router   chi.Router
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	validate *validator.Validate
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}
	s := &Server{
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("api"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	if err := s.validate.RegisterValidation("public_url", s.publicURL); err != nil {
		panic(fmt.Sprintf("register public_url validation: %v", err))
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)

	r.NotFound(s.notFound)
	r.MethodNotAllowed(s.methodNotAllowed)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(corsMiddleware(cfg.AllowedOrigins))
		r.Get("/", s.apiInfo)
		r.Handle("/analyze", postOnly(s.rateLimited(http.HandlerFunc(s.analyze))))
		r.Handle("/formats", postOnly(s.rateLimited(http.HandlerFunc(s.formats))))
		r.Handle("/download", postOnly(s.rateLimited(http.HandlerFunc(s.download))))
		r.Get("/download-file/{filename}", s.downloadFile)
	})

	r.Get("/", s.index)
	r.Get("/*", s.static)

	s.router = r
	return s
}

// publicURL backs the public_url tag: the field must pass the URL validator.
func (s *Server) publicURL(fl validator.FieldLevel) bool {
	if s.deps.Validator == nil {
		return true
	}
	return s.deps.Validator.Valid(fl.Field().String())
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("Readiness check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type endpointInfo struct {
	Methods     []string          `json:"methods"`
	Description string            `json:"description"`
	Body        map[string]string `json:"body,omitempty"`
}

func (s *Server) apiInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "running",
		"version": Version,
		"message": "mediagate API is active",
		"endpoints": map[string]endpointInfo{
			"/api/analyze": {
				Methods:     []string{http.MethodPost},
				Description: "Analyze video URL",
				Body:        map[string]string{"url": "string (required)"},
			},
			"/api/download": {
				Methods:     []string{http.MethodPost},
				Description: "Download video",
				Body: map[string]string{
					"url":     "string (required)",
					"quality": `string (e.g., "720p", "1080p", "audio")`,
				},
			},
			"/api/formats": {
				Methods:     []string{http.MethodPost},
				Description: "Get available formats",
				Body:        map[string]string{"url": "string (required)"},
			},
			"/api/download-file/{filename}": {
				Methods:     []string{http.MethodGet},
				Description: "Download the file",
			},
		},
	})
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.writeAppError(w, r, apperr.New(apperr.KindNotFound, "Not found"))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeMethodNotAllowed(w, r, []string{http.MethodGet})
}

// corsMiddleware allows origins matching any of patterns. Preflight requests
// are passed through so the POST-only handlers answer them with 204.
func corsMiddleware(patterns []string) func(http.Handler) http.Handler {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("^(?:" + p + ")$")
		if err != nil {
			continue
		}
		compiled = append(compiled, re)
	}
	return cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			for _, re := range compiled {
				if re.MatchString(origin) {
					return true
				}
			}
			return false
		},
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type"},
		ExposedHeaders:     []string{"Retry-After", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		OptionsPassthrough: true,
		MaxAge:             600,
	})
}
