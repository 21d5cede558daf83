// Package gateway brokers every call into the media extractor.
//
// It owns the retry/backoff state machine for anti-bot failures, builds the
// per-kind option sets, caches analyze and formats results, enforces the
// artifact size cap, and collapses concurrent identical requests into one
// upstream call.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/mediagate/internal/apperr"
	"github.com/JakeFAU/mediagate/internal/cache"
	"github.com/JakeFAU/mediagate/internal/extractor"
	"github.com/JakeFAU/mediagate/internal/metrics"
	"github.com/JakeFAU/mediagate/internal/validate"
)

// DefaultMaxFilesize is the artifact size cap (20 GiB).
const DefaultMaxFilesize int64 = 20 * 1024 * 1024 * 1024

// Config holds gateway settings.
type Config struct {
	DownloadDir string
	MaxFilesize int64

	UserAgent             string
	Referer               string
	ExtractorArgs         []string
	SocketTimeout         time.Duration
	DownloadSocketTimeout time.Duration
	SleepInterval         time.Duration
	MaxSleepInterval      time.Duration
	Retries               int
	FragmentRetries       int
	ConcurrentFragments   int
}

// Cache is the result store consulted before and updated after extraction.
type Cache interface {
	Get(kind cache.Kind, url string) (any, bool)
	Put(kind cache.Kind, url string, payload any)
}

// Sleeper waits between attempts.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// Hasher derives the artifact name prefix from the source URL.
type Hasher interface {
	Short(s string, n int) string
}

// Pacer throttles calls per upstream host. Optional.
type Pacer interface {
	Wait(ctx context.Context, url string) error
}

// Gateway wraps an extractor.Extractor with retries, caching and limits.
type Gateway struct {
	cfg     Config
	ext     extractor.Extractor
	cache   Cache
	retry   *RetryPolicy
	sleeper Sleeper
	hasher  Hasher
	pacer   Pacer
	logger  *zap.Logger
	flights singleflight.Group

	lifetime context.Context
	shutdown context.CancelFunc
}

// New constructs a Gateway. pacer may be nil.
func New(
	cfg Config,
	ext extractor.Extractor,
	resultCache Cache,
	retry *RetryPolicy,
	sleeper Sleeper,
	hasher Hasher,
	pacer Pacer,
	logger *zap.Logger,
) *Gateway {
	if cfg.MaxFilesize <= 0 {
		cfg.MaxFilesize = DefaultMaxFilesize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	lifetime, shutdown := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		ext:      ext,
		cache:    resultCache,
		retry:    retry,
		sleeper:  sleeper,
		hasher:   hasher,
		pacer:    pacer,
		logger:   logger,
		lifetime: lifetime,
		shutdown: shutdown,
	}
}

// Shutdown cancels every in-flight extraction and backoff sleep.
func (g *Gateway) Shutdown() {
	g.shutdown()
}

// detach returns a context that ignores the caller's cancellation but ends
// on Shutdown. Shared extractions outlive a caller that goes away.
func (g *Gateway) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	detached, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(g.lifetime, cancel)
	return detached, func() {
		stop()
		cancel()
	}
}

// Analyze returns display metadata for url, from cache when fresh.
// Concurrent callers for the same url share one extraction.
func (g *Gateway) Analyze(ctx context.Context, url string) (*Metadata, error) {
	if meta, ok := g.cachedMetadata(url); ok {
		g.logger.Info("Returning cached analysis result", zap.String("url", truncateURL(url)))
		return meta, nil
	}
	v, err, shared := g.flights.Do("metadata|"+url, func() (any, error) {
		// A flight that finished after the check above has filled the cache.
		if meta, ok := g.cachedMetadata(url); ok {
			return meta, nil
		}
		ctx, cancel := g.detach(ctx)
		defer cancel()
		var info *extractor.Info
		err := g.attempt(ctx, opAnalyze, url, func(ctx context.Context) error {
			var callErr error
			info, callErr = g.ext.Extract(ctx, url, g.metadataOptions())
			return callErr
		})
		if err != nil {
			return nil, err
		}
		meta := buildMetadata(info)
		g.cache.Put(cache.KindMetadata, url, meta)
		g.logger.Info("Successfully analyzed", zap.String("title", meta.Title))
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		g.logger.Debug("Shared in-flight analysis", zap.String("url", truncateURL(url)))
	}
	return v.(*Metadata), nil
}

// ListFormats returns every stream variant for url, from cache when fresh.
func (g *Gateway) ListFormats(ctx context.Context, url string) (*FormatList, error) {
	if list, ok := g.cachedFormats(url); ok {
		g.logger.Info("Returning cached formats result", zap.String("url", truncateURL(url)))
		return list, nil
	}
	v, err, _ := g.flights.Do("formats|"+url, func() (any, error) {
		if list, ok := g.cachedFormats(url); ok {
			return list, nil
		}
		ctx, cancel := g.detach(ctx)
		defer cancel()
		var info *extractor.Info
		err := g.attempt(ctx, opFormats, url, func(ctx context.Context) error {
			var callErr error
			info, callErr = g.ext.Extract(ctx, url, g.formatsOptions())
			return callErr
		})
		if err != nil {
			return nil, err
		}
		list := buildFormatList(info)
		g.cache.Put(cache.KindFormats, url, list)
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*FormatList), nil
}

func (g *Gateway) cachedMetadata(url string) (*Metadata, bool) {
	v, ok := g.cache.Get(cache.KindMetadata, url)
	if !ok {
		return nil, false
	}
	meta, ok := v.(*Metadata)
	return meta, ok
}

func (g *Gateway) cachedFormats(url string) (*FormatList, bool) {
	v, ok := g.cache.Get(cache.KindFormats, url)
	if !ok {
		return nil, false
	}
	list, ok := v.(*FormatList)
	return list, ok
}

// Download fetches url at quality into the download directory. Unrecognised
// qualities fall back to DefaultQuality.
func (g *Gateway) Download(ctx context.Context, url, quality string) (*DownloadResult, error) {
	quality = NormalizeQuality(quality)
	g.logger.Info("Downloading",
		zap.String("url", truncateURL(url)),
		zap.String("quality", quality),
	)
	v, err, _ := g.flights.Do("download|"+quality+"|"+url, func() (any, error) {
		ctx, cancel := g.detach(ctx)
		defer cancel()
		return g.download(ctx, url, quality)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DownloadResult), nil
}

func (g *Gateway) download(ctx context.Context, url, quality string) (*DownloadResult, error) {
	base := "download_" + g.hasher.Short(url, 8)
	opts := g.downloadOptions(base, quality)

	var dl *extractor.Download
	err := g.attempt(ctx, opDownload, url, func(ctx context.Context) error {
		var callErr error
		dl, callErr = g.ext.Download(ctx, url, opts)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	path := dl.Path
	if quality == AudioQuality {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + "." + audioCodec
	}

	info, statErr := os.Stat(path)
	if statErr != nil || !info.Mode().IsRegular() {
		if dl.Info != nil && reportedSize(dl.Info) > g.cfg.MaxFilesize {
			metrics.ObserveOversizedArtifact()
			return nil, apperr.New(apperr.KindResourceLimit, g.tooLargeMessage())
		}
		return nil, apperr.Wrap(apperr.KindInternal, "Download completed but file not found",
			fmt.Errorf("stat artifact %s: %w", path, errOrNotRegular(statErr)))
	}

	size := info.Size()
	if size > g.cfg.MaxFilesize {
		if rmErr := os.Remove(path); rmErr != nil {
			g.logger.Error("Failed to remove oversized artifact", zap.String("path", path), zap.Error(rmErr))
		}
		metrics.ObserveOversizedArtifact()
		g.logger.Warn("File exceeds max size", zap.Int64("bytes", size), zap.Int64("max", g.cfg.MaxFilesize))
		return nil, apperr.New(apperr.KindResourceLimit, g.tooLargeMessage())
	}

	metrics.ObserveArtifact(size)
	filename := filepath.Base(path)
	title := "Unknown"
	if dl.Info != nil && dl.Info.Title != "" {
		title = dl.Info.Title
	}
	g.logger.Info("Download completed", zap.String("filename", filename), zap.Int64("bytes", size))
	return &DownloadResult{
		Success:  true,
		Message:  "Video downloaded successfully",
		Filename: filename,
		Title:    validate.SanitizeText(title),
		Filesize: size,
	}, nil
}

func (g *Gateway) tooLargeMessage() string {
	return fmt.Sprintf("File size exceeds maximum limit (%s)", humanBytes(g.cfg.MaxFilesize))
}

// attempt runs call under the retry policy and converts the final failure
// into an *apperr.Error.
//
// States: Attempting(n) for n in [0, MaxRetries]; success ends the loop;
// a fatal tool error ends it immediately; retryable failures sleep and move
// to Attempting(n+1) until the budget is spent.
func (g *Gateway) attempt(ctx context.Context, op operation, url string, call func(context.Context) error) error {
	metrics.IncInflight()
	defer metrics.DecInflight()

	for n := 0; ; n++ {
		if g.pacer != nil {
			if err := g.pacer.Wait(ctx, url); err != nil {
				return apperr.Wrap(apperr.KindInternal, op.internalMsg, err)
			}
		}

		err := call(ctx)
		if err == nil {
			metrics.ObserveExtractorAttempt(op.name, "success")
			return nil
		}

		class := g.retry.classify(err)
		metrics.ObserveExtractorAttempt(op.name, class.String())

		if class == classFatal {
			g.logger.Error("Extractor error", zap.String("op", op.name), zap.Error(err))
			var toolErr *extractor.ToolError
			errors.As(err, &toolErr)
			return apperr.Wrap(apperr.KindUpstreamFatal, op.fatalPrefix+": "+humanize(toolErr.Message), err)
		}

		if !g.retry.shouldRetry(class, n) {
			if class == classAntiBot {
				g.logger.Error("Anti-bot challenge persisted",
					zap.String("op", op.name),
					zap.Int("attempts", n+1),
				)
				return apperr.Wrap(apperr.KindUpstreamTransient, transientMsg, err)
			}
			g.logger.Error("Extractor failed after retries",
				zap.String("op", op.name),
				zap.Int("attempts", n+1),
				zap.Error(err),
			)
			return apperr.Wrap(apperr.KindInternal, op.internalMsg, err)
		}

		wait := g.retry.backoff(class, n)
		g.logger.Warn("Retrying extractor",
			zap.String("op", op.name),
			zap.String("reason", class.String()),
			zap.Int("attempt", n+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		metrics.ObserveBackoff(op.name, wait)
		if err := g.sleeper.Sleep(ctx, wait); err != nil {
			return apperr.Wrap(apperr.KindInternal, op.internalMsg, err)
		}
	}
}

func reportedSize(info *extractor.Info) int64 {
	if info.Filesize != nil {
		return *info.Filesize
	}
	if info.FilesizeApprox != nil {
		return *info.FilesizeApprox
	}
	return 0
}

func errOrNotRegular(err error) error {
	if err != nil {
		return err
	}
	return errors.New("not a regular file")
}

func humanBytes(n int64) string {
	const gib = 1024 * 1024 * 1024
	const mib = 1024 * 1024
	switch {
	case n >= gib && n%gib == 0:
		return fmt.Sprintf("%dGB", n/gib)
	case n >= mib:
		return fmt.Sprintf("%dMB", n/mib)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}

func truncateURL(url string) string {
	if len(url) > 100 {
		return url[:100] + "..."
	}
	return url
}
