// Package ytdlp runs the yt-dlp executable as the media extractor.
package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/extractor"
)

// Config locates the binary and bounds each process run.
type Config struct {
	Binary          string        `mapstructure:"binary"`
	MetadataTimeout time.Duration `mapstructure:"metadata_timeout"`
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
}

// Runner implements extractor.Extractor by shelling out to yt-dlp.
type Runner struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Runner. An empty binary defaults to "yt-dlp" on PATH.
func New(cfg Config, logger *zap.Logger) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = "yt-dlp"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Extract runs the tool in simulate mode and decodes its JSON report.
func (r *Runner) Extract(ctx context.Context, url string, opts extractor.Options) (*extractor.Info, error) {
	args := append(buildArgs(opts), "--dump-single-json", "--skip-download", "--", url)
	out, err := r.run(ctx, r.cfg.MetadataTimeout, args)
	if err != nil {
		return nil, err
	}
	var info extractor.Info
	if err := json.Unmarshal(out, &info); err != nil {
		return nil, fmt.Errorf("decode yt-dlp metadata: %w", err)
	}
	return &info, nil
}

// downloadReport is the JSON printed after a real download.
type downloadReport struct {
	extractor.Info
	Filename          string `json:"_filename"`
	RequestedDownload []struct {
		Filepath string `json:"filepath"`
	} `json:"requested_downloads"`
}

// Download runs the tool for real and reports where the artifact landed.
func (r *Runner) Download(ctx context.Context, url string, opts extractor.Options) (*extractor.Download, error) {
	args := append(buildArgs(opts), "--no-simulate", "--dump-single-json", "--", url)
	out, err := r.run(ctx, r.cfg.DownloadTimeout, args)
	if err != nil {
		return nil, err
	}
	var report downloadReport
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, fmt.Errorf("decode yt-dlp download report: %w", err)
	}
	path := report.Filename
	if len(report.RequestedDownload) > 0 && report.RequestedDownload[0].Filepath != "" {
		path = report.RequestedDownload[0].Filepath
	}
	if path == "" {
		return nil, errors.New("yt-dlp did not report an output path")
	}
	info := report.Info
	return &extractor.Download{Info: &info, Path: path}, nil
}

func (r *Runner) run(ctx context.Context, timeout time.Duration, args []string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	// #nosec G204 -- binary comes from configuration and the URL is passed after "--".
	cmd := exec.CommandContext(ctx, r.cfg.Binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 2 * time.Second

	start := time.Now()
	err := cmd.Run()
	r.logger.Debug("yt-dlp finished",
		zap.Strings("args", args),
		zap.Duration("elapsed", time.Since(start)),
		zap.Error(err),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("yt-dlp aborted: %w", ctxErr)
		}
		return nil, parseToolError(err, stderr.String())
	}
	return stdout.Bytes(), nil
}

var errorLine = regexp.MustCompile(`(?m)^ERROR:\s*(.+)$`)

// parseToolError picks the tool's own ERROR lines out of stderr. When there
// are none the process failed for some other reason (missing binary, crash)
// and the exec error is returned as is.
func parseToolError(runErr error, stderr string) error {
	matches := errorLine.FindAllStringSubmatch(stderr, -1)
	if len(matches) == 0 {
		return fmt.Errorf("run yt-dlp: %w", runErr)
	}
	msgs := make([]string, 0, len(matches))
	for _, m := range matches {
		msgs = append(msgs, strings.TrimSpace(m[1]))
	}
	return &extractor.ToolError{Message: strings.Join(msgs, "; ")}
}

// Ready reports whether the binary can be found.
func (r *Runner) Ready(_ context.Context) error {
	if _, err := exec.LookPath(r.cfg.Binary); err != nil {
		return fmt.Errorf("locate %s: %w", r.cfg.Binary, err)
	}
	return nil
}
