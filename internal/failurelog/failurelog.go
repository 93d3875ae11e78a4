// Package failurelog persists the requests still failing after a run as a plain text file that an operator can read,
// and that can be loaded back for an explicit retry.
package failurelog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanbriolat/playlist-archiver"
)

const (
	header    = "Failed Video Downloads:"
	separator = "--------------------------------------------------"

	titlePrefix = "Title: "
	urlPrefix   = "URL: "
	errorPrefix = "Error: "
)

var (
	ErrMalformedLog = errors.New("malformed failure log")
)

type Record struct {
	Title string
	URL   string
	Error string
}

func (r Record) Request() playlist_archiver.DownloadRequest {
	return playlist_archiver.DownloadRequest{Title: r.Title, SourceURL: r.URL}
}

// RecordsFromResult converts the failed subset of a pass into records.
func RecordsFromResult(result *playlist_archiver.BatchResult) []Record {
	records := make([]Record, 0, len(result.Failed))
	for _, f := range result.Failed {
		r := Record{Title: f.Request.Title, URL: f.Request.SourceURL}
		if f.Reason != nil {
			r.Error = f.Reason.Error()
		}
		records = append(records, r)
	}
	return records
}

// Store is a failure log at a fixed path. It is not safe for use by concurrent runs.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Write replaces the failure log with records.
func (s *Store) Write(records []Record) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create failure log directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".failurelog-*")
	if err != nil {
		return fmt.Errorf("failed to create failure log: %w", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()
	w := bufio.NewWriter(f)
	if err := Encode(w, records); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write failure log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace failure log: %w", err)
	}
	return nil
}

// Remove deletes the failure log; a log that doesn't exist is not an error.
func (s *Store) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove failure log: %w", err)
	}
	return nil
}

// Exists reports whether a failure log is currently present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Store) Load() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

// List implements playlist_archiver.Lister over a saved failure log; ref is the log's path, or "" for this Store's.
func (s *Store) List(_ context.Context, ref string) (playlist_archiver.Listing, error) {
	store := s
	if ref != "" && ref != s.path {
		store = New(ref)
	}
	records, err := store.Load()
	if err != nil {
		kind := playlist_archiver.ErrListingTransport
		if errors.Is(err, os.ErrNotExist) {
			kind = playlist_archiver.ErrListingNotFound
		}
		return playlist_archiver.Listing{}, &playlist_archiver.ListingError{Kind: kind, Err: err}
	}
	listing := playlist_archiver.Listing{TotalCount: len(records)}
	for _, r := range records {
		listing.Items = append(listing.Items, r.Request())
	}
	return listing, nil
}

const ProviderName = "failurelog"

// Provider matches references naming an existing file, ahead of any playlist provider.
func Provider() playlist_archiver.ListingProvider {
	return playlist_archiver.ListingProvider{
		Name: ProviderName,
		Match: func(ref string) (playlist_archiver.Lister, error) {
			info, err := os.Stat(ref)
			if err != nil {
				return nil, err
			}
			if !info.Mode().IsRegular() {
				return nil, fmt.Errorf("not a regular file: %s", ref)
			}
			return New(ref), nil
		},
		Priority: playlist_archiver.PriorityHighest,
	}
}

// Encode writes records in the failure log format.
func Encode(w io.Writer, records []Record) error {
	if _, err := fmt.Fprintf(w, "%s\n\n", header); err != nil {
		return err
	}
	for _, r := range records {
		if _, err := fmt.Fprintf(w, "%s%s\n%s%s\n", titlePrefix, oneLine(r.Title), urlPrefix, oneLine(r.URL)); err != nil {
			return err
		}
		if r.Error != "" {
			if _, err := fmt.Fprintf(w, "%s%s\n", errorPrefix, oneLine(r.Error)); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintln(w, separator); err != nil {
			return err
		}
	}
	return nil
}

// Decode parses the failure log format. Blank lines and the header are ignored.
func Decode(r io.Reader) ([]Record, error) {
	var records []Record
	var current *Record
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "" || line == header:
		case strings.HasPrefix(line, titlePrefix):
			if current != nil {
				return nil, fmt.Errorf("%w: line %d: record without separator", ErrMalformedLog, lineNo)
			}
			current = &Record{Title: strings.TrimPrefix(line, titlePrefix)}
		case strings.HasPrefix(line, urlPrefix) && current != nil:
			current.URL = strings.TrimPrefix(line, urlPrefix)
		case strings.HasPrefix(line, errorPrefix) && current != nil:
			current.Error = strings.TrimPrefix(line, errorPrefix)
		case line == separator && current != nil:
			records = append(records, *current)
			current = nil
		default:
			return nil, fmt.Errorf("%w: line %d: unexpected %q", ErrMalformedLog, lineNo, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		records = append(records, *current)
	}
	return records, nil
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
