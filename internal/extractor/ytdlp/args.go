package ytdlp

import (
	"sort"
	"strconv"

	"github.com/JakeFAU/mediagate/internal/extractor"
)

// buildArgs translates Options into yt-dlp command-line flags. Output is
// deterministic so it can be asserted in tests.
func buildArgs(o extractor.Options) []string {
	var args []string
	if o.Quiet {
		args = append(args, "--quiet")
	}
	if o.NoWarnings {
		args = append(args, "--no-warnings")
	}
	if o.SocketTimeout > 0 {
		args = append(args, "--socket-timeout", strconv.Itoa(int(o.SocketTimeout.Seconds())))
	}
	if o.Referer != "" {
		args = append(args, "--referer", o.Referer)
	}
	keys := make([]string, 0, len(o.Headers))
	for k := range o.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--add-header", k+":"+o.Headers[k])
	}
	if o.NoCheckCertificate {
		args = append(args, "--no-check-certificates")
	}
	for _, ea := range o.ExtractorArgs {
		args = append(args, "--extractor-args", ea)
	}
	if o.NoPlaylist {
		args = append(args, "--no-playlist")
	}
	if o.GeoBypass {
		args = append(args, "--geo-bypass")
	}
	if o.SleepInterval > 0 {
		args = append(args, "--sleep-interval", strconv.Itoa(int(o.SleepInterval.Seconds())))
	}
	if o.MaxSleepInterval > 0 {
		args = append(args, "--max-sleep-interval", strconv.Itoa(int(o.MaxSleepInterval.Seconds())))
	}
	if o.Format != "" {
		args = append(args, "--format", o.Format)
	}
	if o.MergeOutputFormat != "" {
		args = append(args, "--merge-output-format", o.MergeOutputFormat)
	}
	if o.OutputTemplate != "" {
		args = append(args, "--output", o.OutputTemplate)
	}
	if o.RestrictFilenames {
		args = append(args, "--restrict-filenames")
	}
	if o.Retries > 0 {
		args = append(args, "--retries", strconv.Itoa(o.Retries))
	}
	if o.FragmentRetries > 0 {
		args = append(args, "--fragment-retries", strconv.Itoa(o.FragmentRetries))
	}
	if o.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(o.ConcurrentFragments))
	}
	if o.MaxFilesize > 0 {
		args = append(args, "--max-filesize", strconv.FormatInt(o.MaxFilesize, 10))
	}
	if o.AudioOnly {
		args = append(args, "--extract-audio")
		if o.AudioCodec != "" {
			args = append(args, "--audio-format", o.AudioCodec)
		}
		if o.AudioQuality != "" {
			args = append(args, "--audio-quality", o.AudioQuality)
		}
	}
	return args
}
