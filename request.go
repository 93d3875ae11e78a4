package playlist_archiver

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// A DownloadRequest names one remote item to fetch. It is treated as immutable once created.
type DownloadRequest struct {
	Title     string
	SourceURL string
}

func (r DownloadRequest) String() string {
	return fmt.Sprintf("%q (%s)", r.Title, r.SourceURL)
}

// Validate returns an *InputError if either field is blank.
func (r DownloadRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &InputError{Field: "title", Request: r}
	}
	if strings.TrimSpace(r.SourceURL) == "" {
		return &InputError{Field: "url", Request: r}
	}
	return nil
}

// A ResolvedTarget is a short-lived, directly fetchable form of a DownloadRequest. It must not be reused for a second
// download attempt.
type ResolvedTarget struct {
	FetchURL          string
	SuggestedFilename string
}

// Success describes a completed download.
type Success struct {
	FilePath     string
	BytesWritten int64
	Elapsed      time.Duration
}

// Failure describes a request that could not be downloaded within one pass.
type Failure struct {
	Reason   error
	Attempts int
}

// An Outcome is produced exactly once per valid DownloadRequest per pass; exactly one of Success and Failure is set.
type Outcome struct {
	Request DownloadRequest
	Success *Success
	Failure *Failure
}

func (o Outcome) IsSuccess() bool {
	return o.Success != nil
}

type FailedRequest struct {
	Request DownloadRequest
	Reason  error
}

// BatchResult accumulates the outcomes of one pass. Succeeded and Failed partition the valid requests that were
// started; Skipped holds malformed entries and Remaining holds entries never started because a stop was requested.
type BatchResult struct {
	Pass      int
	Succeeded []DownloadRequest
	Failed    []FailedRequest
	Skipped   []DownloadRequest
	Remaining []DownloadRequest
	Outcomes  []Outcome
}

// Add records an Outcome in the appropriate partition.
func (r *BatchResult) Add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.IsSuccess() {
		r.Succeeded = append(r.Succeeded, o.Request)
	} else {
		var reason error
		if o.Failure != nil {
			reason = o.Failure.Reason
		}
		r.Failed = append(r.Failed, FailedRequest{Request: o.Request, Reason: reason})
	}
}

// FailedRequests returns the failed subset as plain requests, in order, ready for another pass.
func (r *BatchResult) FailedRequests() []DownloadRequest {
	requests := make([]DownloadRequest, 0, len(r.Failed))
	for _, f := range r.Failed {
		requests = append(requests, f.Request)
	}
	return requests
}

// FailedTitles returns the titles of the failed subset, in order.
func (r *BatchResult) FailedTitles() []string {
	titles := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		titles = append(titles, f.Request.Title)
	}
	return titles
}

// Total is the number of input requests accounted for by this result.
func (r *BatchResult) Total() int {
	return len(r.Succeeded) + len(r.Failed) + len(r.Skipped) + len(r.Remaining)
}

// Resolver turns a DownloadRequest into a ResolvedTarget.
type Resolver interface {
	Resolve(ctx context.Context, req DownloadRequest) (ResolvedTarget, error)
}

// Downloader performs a single download attempt of a ResolvedTarget to destPath, emitting progress to sink.
type Downloader interface {
	Download(ctx context.Context, target ResolvedTarget, destPath string, sink Sink) (Success, error)
}

// A Listing is the ordered result of enumerating a playlist.
type Listing struct {
	TotalCount int
	Items      []DownloadRequest
}

// Lister enumerates the items referenced by ref (a playlist URL, ID, file path, etc.).
type Lister interface {
	List(ctx context.Context, ref string) (Listing, error)
}

// StopFlag is checked between items; once IsSet returns true no further item is started.
type StopFlag interface {
	IsSet() bool
}
