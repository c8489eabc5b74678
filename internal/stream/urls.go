package stream

import (
	"net/url"
	"path"
	"strings"
)

// EmbedURL returns the iframe embed address for a stored video. It is a pure
// template over the playback host, library, and video identifiers.
func EmbedURL(host, libraryID, videoID string) string {
	return playbackURL(host, "embed", libraryID, videoID)
}

// PlayURL returns the hosted player address for a stored video.
func PlayURL(host, libraryID, videoID string) string {
	return playbackURL(host, "play", libraryID, videoID)
}

func playbackURL(host, kind, libraryID, videoID string) string {
	trimmedHost := strings.TrimSpace(host)
	if trimmedHost == "" {
		trimmedHost = defaultPlaybackHost
	}
	u := url.URL{
		Scheme: "https",
		Host:   trimmedHost,
		Path:   path.Join("/", kind, libraryID, videoID),
	}
	return u.String()
}
