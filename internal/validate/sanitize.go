package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxTextRunes     = 500
	maxFilenameRunes = 255
)

var (
	markupChars     = regexp.MustCompile(`[<>"']`)
	filenameIllegal = regexp.MustCompile(`[^\p{L}\p{N}_\s\-.]`)
)

// SanitizeText strips markup-significant quotes and brackets, trims
// whitespace and caps the result at 500 characters.
func SanitizeText(s string) string {
	if s == "" {
		return ""
	}
	s = markupChars.ReplaceAllString(s, "")
	s = strings.TrimSpace(s)
	return truncateRunes(s, maxTextRunes)
}

// SanitizeFilename keeps only the final path element of name, drops anything
// that is not a letter, digit, underscore, space, hyphen or dot, and caps the
// length at 255 characters while keeping the extension.
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = filenameIllegal.ReplaceAllString(name, "")
	if utf8.RuneCountInString(name) <= maxFilenameRunes {
		return name
	}
	ext := ""
	if dot := strings.LastIndex(name, "."); dot > 0 {
		ext = name[dot:]
		name = name[:dot]
	}
	return truncateRunes(name, maxFilenameRunes-5) + ext
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
