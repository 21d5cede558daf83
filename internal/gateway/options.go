package gateway

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/JakeFAU/mediagate/internal/extractor"
)

// DefaultQuality is used whenever a requested quality is not recognised.
const DefaultQuality = "720p"

// AudioQuality requests audio-only extraction.
const AudioQuality = "audio"

const (
	audioCodec   = "mp3"
	audioBitrate = "192K"
)

var qualityPattern = regexp.MustCompile(`^(\d+p|audio)$`)

// NormalizeQuality returns q if it is "<digits>p" or "audio", else DefaultQuality.
func NormalizeQuality(q string) string {
	if qualityPattern.MatchString(q) {
		return q
	}
	return DefaultQuality
}

// formatSelector maps a normalized quality to the tool's format filter.
func formatSelector(quality string) string {
	if quality == AudioQuality {
		return "bestaudio/best"
	}
	return fmt.Sprintf("best[height<=%s]", strings.TrimSuffix(quality, "p"))
}

// baseOptions holds the identity and extractor hints shared by every call.
func (g *Gateway) baseOptions() extractor.Options {
	headers := map[string]string{
		"User-Agent":      g.cfg.UserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9",
		"Accept-Encoding": "gzip, deflate",
	}
	return extractor.Options{
		Quiet:              true,
		NoWarnings:         true,
		SocketTimeout:      g.cfg.SocketTimeout,
		Referer:            g.cfg.Referer,
		Headers:            headers,
		NoCheckCertificate: true,
		ExtractorArgs:      append([]string(nil), g.cfg.ExtractorArgs...),
		NoPlaylist:         true,
		GeoBypass:          true,
	}
}

func (g *Gateway) metadataOptions() extractor.Options {
	opts := g.baseOptions()
	opts.Headers["DNT"] = "1"
	opts.SleepInterval = g.cfg.SleepInterval
	opts.MaxSleepInterval = g.cfg.MaxSleepInterval
	return opts
}

func (g *Gateway) formatsOptions() extractor.Options {
	opts := g.baseOptions()
	opts.SleepInterval = g.cfg.SleepInterval / 2
	opts.MaxSleepInterval = g.cfg.MaxSleepInterval / 2
	return opts
}

// downloadOptions builds the option set for writing an artifact whose name
// starts with base.
func (g *Gateway) downloadOptions(base, quality string) extractor.Options {
	opts := g.baseOptions()
	opts.Quiet = false
	opts.SocketTimeout = g.cfg.DownloadSocketTimeout
	opts.Headers["Accept-Language"] = "en-us,en;q=0.5"
	opts.Headers["Sec-Fetch-Mode"] = "navigate"
	opts.SleepInterval = g.cfg.SleepInterval
	opts.MaxSleepInterval = g.cfg.MaxSleepInterval
	opts.OutputTemplate = filepath.Join(g.cfg.DownloadDir, base+"_%(title).100s.%(ext)s")
	opts.RestrictFilenames = true
	opts.Retries = g.cfg.Retries
	opts.FragmentRetries = g.cfg.FragmentRetries
	opts.ConcurrentFragments = g.cfg.ConcurrentFragments
	opts.MaxFilesize = g.cfg.MaxFilesize
	opts.Format = formatSelector(quality)
	if quality == AudioQuality {
		opts.AudioOnly = true
		opts.AudioCodec = audioCodec
		opts.AudioQuality = audioBitrate
	} else {
		opts.MergeOutputFormat = "mp4"
	}
	return opts
}
