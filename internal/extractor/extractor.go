// Package extractor defines the contract with the external media-extraction
// tool. The tool is a black box: given a URL and Options it either returns
// metadata or downloads an artifact.
package extractor

import (
	"context"
	"time"
)

// Extractor is implemented by adapters around the media tool.
type Extractor interface {
	// Extract returns metadata for url without downloading media.
	Extract(ctx context.Context, url string, opts Options) (*Info, error)
	// Download fetches media for url according to opts.
	Download(ctx context.Context, url string, opts Options) (*Download, error)
}

// Options is the per-call configuration handed to the tool.
type Options struct {
	Quiet              bool
	NoWarnings         bool
	SocketTimeout      time.Duration
	Referer            string
	Headers            map[string]string
	NoCheckCertificate bool
	ExtractorArgs      []string
	NoPlaylist         bool
	GeoBypass          bool
	SleepInterval      time.Duration
	MaxSleepInterval   time.Duration

	// Download-only settings.
	Format              string
	MergeOutputFormat   string
	OutputTemplate      string
	RestrictFilenames   bool
	Retries             int
	FragmentRetries     int
	ConcurrentFragments int
	MaxFilesize         int64

	// AudioOnly requests audio extraction transcoded to AudioCodec at AudioQuality.
	AudioOnly    bool
	AudioCodec   string
	AudioQuality string
}

// Format is one stream variant reported by the tool.
type Format struct {
	FormatID       string   `json:"format_id"`
	Ext            string   `json:"ext"`
	Height         int      `json:"height"`
	Width          int      `json:"width"`
	VCodec         string   `json:"vcodec"`
	ACodec         string   `json:"acodec"`
	FormatNote     string   `json:"format_note"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	TBR            *float64 `json:"tbr"`
	ABR            *float64 `json:"abr"`
}

// Size returns the exact size when known, else the approximation.
func (f Format) Size() *int64 {
	if f.Filesize != nil {
		return f.Filesize
	}
	return f.FilesizeApprox
}

// Info is the subset of tool metadata the service uses.
type Info struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Thumbnail      string   `json:"thumbnail"`
	Uploader       string   `json:"uploader"`
	Duration       float64  `json:"duration"`
	ViewCount      int64    `json:"view_count"`
	Ext            string   `json:"ext"`
	Filesize       *int64   `json:"filesize"`
	FilesizeApprox *int64   `json:"filesize_approx"`
	Formats        []Format `json:"formats"`
}

// Download describes a finished download.
type Download struct {
	Info *Info
	// Path is where the tool reported writing the artifact.
	Path string
}

// ToolError is a failure reported by the tool itself (as opposed to a failure
// to run it). Message is the tool's own error text.
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return "extractor: " + e.Message
}
