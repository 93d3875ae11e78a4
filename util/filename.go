package util

import (
	"errors"
	"net/url"
	"strings"
	"unicode"
)

var (
	ErrNoFilename = errors.New("cannot extract valid filename")
)

const DefaultExtension = ".mp4"

// FilenameFromURL returns the last path element of the URL, if it looks like a file name.
func FilenameFromURL(u *url.URL) (string, error) {
	if u == nil {
		return "", ErrNoFilename
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", ErrNoFilename
	}
	pathElements := strings.Split(path, "/")
	filename := pathElements[len(pathElements)-1]
	if filename == "" {
		return "", ErrNoFilename
	}
	// Don't allow "filenames" that are just ".", "..", etc.
	if strings.ReplaceAll(filename, ".", "") == "" {
		return "", ErrNoFilename
	}
	return filename, nil
}

// FilenameFromTitle is the name used when the resolver does not suggest one.
func FilenameFromTitle(title string) string {
	return SanitizeFilename(title + DefaultExtension)
}

// SanitizeFilename makes name safe to use as a single path element on common filesystems. It may return "" if
// nothing usable is left.
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	clean := strings.TrimSpace(b.String())
	clean = strings.TrimRight(clean, ". ")
	if strings.ReplaceAll(clean, ".", "") == "" {
		return ""
	}
	return clean
}
