package gateway

import (
	"strings"

	"github.com/JakeFAU/mediagate/internal/validate"
)

// operation names one gateway call and the client messages it uses.
type operation struct {
	name        string
	fatalPrefix string
	internalMsg string
}

var (
	opAnalyze = operation{
		name:        "analyze",
		fatalPrefix: "Failed to analyze video",
		internalMsg: "Failed to analyze video. Please check the URL and try again.",
	}
	opFormats = operation{
		name:        "formats",
		fatalPrefix: "Failed to get formats",
		internalMsg: "Failed to get formats. Please try again.",
	}
	opDownload = operation{
		name:        "download",
		fatalPrefix: "Download failed",
		internalMsg: "Download failed. Please try again or use a different video.",
	}
)

const transientMsg = "The source site is blocking automated requests for this video. " +
	"Please try again later or use a different video."

// humanize turns a tool error into something a user can act on.
func humanize(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "403") || strings.Contains(msg, "Forbidden"):
		return "Access denied. This video may be restricted, age-restricted, or require sign-in. " +
			"Try a different video or quality."
	case strings.Contains(msg, "Private video"):
		return "This is a private video and cannot be downloaded."
	case strings.Contains(msg, "Video unavailable"):
		return "Video is unavailable or has been removed."
	case strings.Contains(lower, "sign in"):
		return "This video requires authentication. Try a public video instead."
	}
	return validate.SanitizeText(msg)
}
