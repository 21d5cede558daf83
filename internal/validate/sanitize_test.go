package validate

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSanitizeText(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "  My Video  ", "My Video"},
		{"markup", `<script>alert("x")</script>`, "scriptalert(x)/script"},
		{"quotes", `It's "fine"`, "Its fine"},
		{"unicode", "  Café ☕ ", "Café ☕"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, SanitizeText(tc.in))
		})
	}
}

func TestSanitizeTextTruncates(t *testing.T) {
	t.Parallel()

	got := SanitizeText(strings.Repeat("é", 800))
	require.Equal(t, 500, utf8.RuneCountInString(got))
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"download_ab12cd34_My_Video.mp4", "download_ab12cd34_My_Video.mp4"},
		{"../../etc/passwd", "passwd"},
		{`..\..\windows\win.ini`, "win.ini"},
		{"bad;name|here.mp3", "badnamehere.mp3"},
		{"spaces are ok-1.webm", "spaces are ok-1.webm"},
		{"", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, SanitizeFilename(tc.in), tc.in)
	}
}

func TestSanitizeFilenameKeepsExtensionWhenTruncating(t *testing.T) {
	t.Parallel()

	got := SanitizeFilename(strings.Repeat("a", 400) + ".mp4")
	require.True(t, strings.HasSuffix(got, ".mp4"))
	require.Equal(t, 254, len(got))
}
