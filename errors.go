package playlist_archiver

import (
	"errors"
	"fmt"
)

var (
	ErrResolverUnreachable = errors.New("resolver unreachable")
	ErrUnexpectedStatus    = errors.New("unexpected resolver status")
	ErrMalformedResponse   = errors.New("malformed resolver response")
)

var (
	ErrTransport = errors.New("transport error")
	ErrEmptyFile = errors.New("downloaded file is empty")
	ErrTransient = errors.New("transient download error")
	ErrExhausted = errors.New("download attempts exhausted")
)

var (
	ErrListingAuth      = errors.New("listing authentication failed")
	ErrListingNotFound  = errors.New("playlist not found")
	ErrListingQuota     = errors.New("listing quota exceeded")
	ErrListingTransport = errors.New("listing transport error")
)

var (
	ErrMissingField = errors.New("missing field")
)

// ResolveError is returned by a Resolver. Kind is one of ErrResolverUnreachable, ErrUnexpectedStatus or
// ErrMalformedResponse.
type ResolveError struct {
	Kind error
	// Status holds the offending status value for ErrUnexpectedStatus.
	Status string
	Err    error
}

func (e *ResolveError) Error() string {
	msg := e.Kind.Error()
	if e.Status != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ResolveError) Is(target error) bool {
	return target == e.Kind
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// DownloadError is returned by a Downloader (ErrTransport, ErrEmptyFile, ErrTransient) or by the retry loop around it
// (ErrExhausted).
type DownloadError struct {
	Kind       error
	StatusCode int
	Attempts   int
	Err        error
}

func (e *DownloadError) Error() string {
	msg := e.Kind.Error()
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: HTTP %d", msg, e.StatusCode)
	}
	if e.Attempts != 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DownloadError) Is(target error) bool {
	return target == e.Kind
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// ListingError is fatal to a run: without a listing there is nothing to process.
type ListingError struct {
	Kind error
	Err  error
}

func (e *ListingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *ListingError) Is(target error) bool {
	return target == e.Kind
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// InputError marks a malformed DownloadRequest; it is recovered locally by skipping the entry.
type InputError struct {
	Field   string
	Request DownloadRequest
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", ErrMissingField, e.Field)
}

func (e *InputError) Is(target error) bool {
	return target == ErrMissingField
}
