package gateway

import (
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/JakeFAU/mediagate/internal/extractor"
	"github.com/JakeFAU/mediagate/internal/validate"
)

const (
	maxSummaryFormats = 6
	maxDescription    = 200
)

// FormatSummary is one distinct resolution offered by a video.
type FormatSummary struct {
	Quality  string `json:"quality"`
	Height   int    `json:"height"`
	Ext      string `json:"ext"`
	Filesize *int64 `json:"filesize"`
	FormatID string `json:"format_id"`
}

// Metadata is the analyze response payload.
type Metadata struct {
	Success     bool            `json:"success"`
	Title       string          `json:"title"`
	Thumbnail   string          `json:"thumbnail"`
	Duration    float64         `json:"duration"`
	Uploader    string          `json:"uploader"`
	ViewCount   int64           `json:"view_count"`
	Formats     []FormatSummary `json:"formats"`
	Description string          `json:"description"`
}

// FormatEntry is one stream in a format listing.
type FormatEntry struct {
	FormatID   string   `json:"format_id"`
	Ext        string   `json:"ext"`
	Quality    string   `json:"quality"`
	Filesize   *int64   `json:"filesize"`
	TBR        *float64 `json:"tbr"`
	Type       string   `json:"type"`
	Resolution string   `json:"resolution,omitempty"`
	ABR        *float64 `json:"abr,omitempty"`
}

// FormatList is the formats response payload.
type FormatList struct {
	Success      bool          `json:"success"`
	VideoFormats []FormatEntry `json:"video_formats"`
	AudioFormats []FormatEntry `json:"audio_formats"`
}

// DownloadResult is the download response payload.
type DownloadResult struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Filesize int64  `json:"filesize"`
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func buildMetadata(info *extractor.Info) *Metadata {
	formats := make([]FormatSummary, 0, len(info.Formats))
	seen := make(map[int]struct{})
	for _, f := range info.Formats {
		if f.Height <= 0 {
			continue
		}
		if _, dup := seen[f.Height]; dup {
			continue
		}
		seen[f.Height] = struct{}{}
		formats = append(formats, FormatSummary{
			Quality:  fmt.Sprintf("%dp", f.Height),
			Height:   f.Height,
			Ext:      orDefault(f.Ext, "mp4"),
			Filesize: f.Size(),
			FormatID: f.FormatID,
		})
	}
	sort.SliceStable(formats, func(i, j int) bool {
		return formats[i].Height > formats[j].Height
	})
	if len(formats) > maxSummaryFormats {
		formats = formats[:maxSummaryFormats]
	}

	description := validate.SanitizeText(info.Description)
	if utf8.RuneCountInString(description) > maxDescription {
		description = string([]rune(description)[:maxDescription])
	}
	if description != "" && utf8.RuneCountInString(info.Description) > maxDescription {
		description += "..."
	}

	return &Metadata{
		Success:     true,
		Title:       validate.SanitizeText(orDefault(info.Title, "Unknown Title")),
		Thumbnail:   info.Thumbnail,
		Duration:    info.Duration,
		Uploader:    validate.SanitizeText(orDefault(info.Uploader, "Unknown")),
		ViewCount:   info.ViewCount,
		Formats:     formats,
		Description: description,
	}
}

func buildFormatList(info *extractor.Info) *FormatList {
	list := &FormatList{
		Success:      true,
		VideoFormats: []FormatEntry{},
		AudioFormats: []FormatEntry{},
	}
	for _, f := range info.Formats {
		entry := FormatEntry{
			FormatID: f.FormatID,
			Ext:      f.Ext,
			Quality:  orDefault(f.FormatNote, "Unknown"),
			Filesize: f.Size(),
			TBR:      f.TBR,
		}
		hasVideo := f.VCodec != "none"
		hasAudio := f.ACodec != "none"
		switch {
		case hasVideo:
			entry.Type = "video"
			if hasAudio {
				entry.Type = "video+audio"
			}
			entry.Resolution = "Unknown"
			if f.Height > 0 {
				entry.Resolution = fmt.Sprintf("%dp", f.Height)
			}
			list.VideoFormats = append(list.VideoFormats, entry)
		case hasAudio:
			entry.Type = "audio"
			entry.ABR = f.ABR
			list.AudioFormats = append(list.AudioFormats, entry)
		}
	}
	return list
}
