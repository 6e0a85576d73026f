// Package metadata resolves the playable properties of a video_change
// URL (title, container format, duration) that the client did not
// already supply, so the room engine can apply the HLS duration
// override and clamp invariants without depending on any particular
// resolution strategy.
package metadata

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// Info is what an Extractor resolves for one URL.
type Info struct {
	Title    string
	Format   string
	Duration float64
}

// Extractor resolves Info for a video_change URL. A production
// implementation might probe the remote file (ffprobe, HLS manifest
// parsing); URLSuffixExtractor below only reasons about the URL
// itself and is always defined, never failing, by design: video
// playback must never be blocked on a resolver being reachable.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (Info, error)
}

// URLSuffixExtractor infers format from the URL's file extension and
// title from its final path segment. It never reports a duration: the
// spec requires an external prober for that and this package is only
// grounded on stdlib URL/path parsing (no prober was available in the
// example pack), so Duration is always left at zero and it is the
// caller's job to treat that as "unknown" rather than "zero-length".
type URLSuffixExtractor struct{}

func NewURLSuffixExtractor() *URLSuffixExtractor {
	return &URLSuffixExtractor{}
}

func (URLSuffixExtractor) Extract(_ context.Context, rawURL string) (Info, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Info{Title: rawURL, Format: ""}, nil
	}

	base := path.Base(parsed.Path)
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(base), "."))
	title := strings.TrimSuffix(base, path.Ext(base))
	if title == "" || title == "." || title == "/" {
		title = rawURL
	}

	return Info{
		Title:  title,
		Format: formatFromExtension(ext),
	}, nil
}

func formatFromExtension(ext string) string {
	switch ext {
	case "m3u8":
		return "hls"
	case "mp4", "m4v", "mov":
		return "mp4"
	case "webm":
		return "webm"
	case "mkv":
		return "mkv"
	default:
		return ext
	}
}
