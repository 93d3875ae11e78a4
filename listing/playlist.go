// Package listing turns playlist references into ordered download requests.
package listing

import (
	"errors"
	"regexp"
)

var (
	ErrNoPlaylistID = errors.New("could not extract playlist ID")
)

var playlistURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com|music\.youtube\.com)/(?:playlist|watch)\?(?:.*&)?list=([a-zA-Z0-9_-]+)`),
	regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com|music\.youtube\.com)/embed/videoseries\?list=([a-zA-Z0-9_-]+)`),
}

var bareID = regexp.MustCompile(`^(?:PL|UU|LL|FL|RD|OL)[a-zA-Z0-9_-]{10,}$`)

// PlaylistID extracts the playlist ID from a YouTube playlist URL in any of its usual forms, or accepts a bare ID.
func PlaylistID(ref string) (string, error) {
	for _, pattern := range playlistURLPatterns {
		if match := pattern.FindStringSubmatch(ref); match != nil {
			return match[1], nil
		}
	}
	if bareID.MatchString(ref) {
		return ref, nil
	}
	return "", ErrNoPlaylistID
}

// VideoURL is the canonical watch URL for a video ID.
func VideoURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}
