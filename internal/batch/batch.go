// Package batch drives an ordered list of download requests through resolution and download, one at a time,
// recording failures and retrying the failed subset once.
package batch

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/r3labs/diff/v3"
	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/internal/failurelog"
	"github.com/alanbriolat/playlist-archiver/util"
)

// Passes is the number of automatic passes in a Run; anything still failing afterwards needs an explicit retry.
const Passes = 2

type Option func(*Orchestrator)

func WithSink(sink playlist_archiver.Sink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

func WithFailureStore(store FailureStore) Option {
	return func(o *Orchestrator) {
		o.failures = store
	}
}

func WithHistory(history History) Option {
	return func(o *Orchestrator) {
		o.history = history
	}
}

// Orchestrator runs batches sequentially. It keeps per-run state, so only one Run may be in progress at a time.
type Orchestrator struct {
	config     playlist_archiver.Config
	resolver   playlist_archiver.Resolver
	downloader playlist_archiver.Downloader
	sink       playlist_archiver.Sink
	failures   FailureStore
	history    History
	log        *zap.SugaredLogger

	// Every item of a run gets a slot, kept when it is retried in a later pass. Destination paths are claimed per
	// slot, so repeated entries never share a file.
	claimed  map[string]int
	paths    map[int]string
	nextSlot int
}

func New(config playlist_archiver.Config, resolver playlist_archiver.Resolver, downloader playlist_archiver.Downloader, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		config:     config,
		resolver:   resolver,
		downloader: downloader,
		sink:       playlist_archiver.Discard,
		failures:   nilFailureStore{},
		history:    NilHistory{},
		log:        zap.S().Named("batch"),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.resetSlots()
	if o.config.MaxAttempts < 1 {
		o.config.MaxAttempts = playlist_archiver.DefaultMaxAttempts
	}
	return o
}

// Report summarises a Run. Failed holds what was still failing after the last pass that ran.
type Report struct {
	RunID   string
	Passes  []*playlist_archiver.BatchResult
	Failed  []playlist_archiver.FailedRequest
	Stopped bool
}

// Succeeded counts successful downloads over all passes.
func (r *Report) Succeeded() int {
	n := 0
	for _, p := range r.Passes {
		n += len(p.Succeeded)
	}
	return n
}

// Run processes requests, then automatically retries the failed subset once. The failure log is rewritten after each
// pass that has failures, and removed when a pass ends with none. The returned error only reports problems with the
// failure log or history; per-item failures are in the Report.
func (o *Orchestrator) Run(ctx context.Context, playlist string, requests []playlist_archiver.DownloadRequest, stop playlist_archiver.StopFlag) (*Report, error) {
	o.resetSlots()
	report := &Report{RunID: newRunID()}
	record := &RunRecord{ID: report.RunID, Playlist: playlist, StartedAt: time.Now()}
	log := o.log.With("run_id", report.RunID)
	var result error

	input := requests
	slots := o.newSlots(len(requests))
	for pass := 1; pass <= Passes; pass++ {
		if pass > 1 {
			playlist_archiver.Warn(o.sink, "Initial run completed with %d failures", len(input))
			playlist_archiver.Info(o.sink, "Starting automatic retry of failed downloads...")
		}
		br, failedSlots := o.runPass(ctx, pass, input, slots, stop)
		failed := br.Failed
		if pass > 1 {
			// Items a stop prevented from being retried are still failing
			failed = append(failed, carryOver(report.Failed, br.Remaining)...)
		}
		report.Passes = append(report.Passes, br)
		report.Failed = failed
		record.Passes = append(record.Passes, newPassRecord(br))
		report.Stopped = len(br.Remaining) > 0 || stopRequested(ctx, stop)
		record.Stopped = report.Stopped
		log.Infow("pass complete", "pass", pass, "succeeded", len(br.Succeeded), "failed", len(br.Failed),
			"skipped", len(br.Skipped), "remaining", len(br.Remaining))

		if len(failed) > 0 {
			playlist_archiver.Warn(o.sink, "%d videos failed to download. Saving to failure log", len(failed))
			if err := o.failures.Write(failureRecords(failed)); err != nil {
				playlist_archiver.Error(o.sink, "Could not save failure log: %v", err)
				result = multierror.Append(result, err)
			} else {
				playlist_archiver.Info(o.sink, "Failure log saved. You can retry these later")
			}
		} else if len(br.Remaining) == 0 {
			if err := o.failures.Remove(); err != nil {
				playlist_archiver.Error(o.sink, "Could not remove stale failure log: %v", err)
				result = multierror.Append(result, err)
			}
		}

		if pass > 1 {
			record.Passes[pass-1].Recovered = o.recovered(report.Passes[pass-2], br)
		}
		if err := o.history.SaveRun(record); err != nil {
			log.Warnw("failed to save run history", "error", err)
			result = multierror.Append(result, err)
		}
		if len(failed) == 0 || report.Stopped {
			break
		}
		input = br.FailedRequests()
		slots = failedSlots
	}

	record.FinishedAt = time.Now()
	if err := o.history.SaveRun(record); err != nil {
		log.Warnw("failed to save run history", "error", err)
		result = multierror.Append(result, err)
	}
	o.summarise(report)
	return report, result
}

// carryOver returns the entries of failed whose request is in remaining.
func carryOver(failed []playlist_archiver.FailedRequest, remaining []playlist_archiver.DownloadRequest) []playlist_archiver.FailedRequest {
	var carried []playlist_archiver.FailedRequest
	for _, req := range remaining {
		for _, f := range failed {
			if f.Request == req {
				carried = append(carried, f)
				break
			}
		}
	}
	return carried
}

func failureRecords(failed []playlist_archiver.FailedRequest) []failurelog.Record {
	result := playlist_archiver.BatchResult{Failed: failed}
	return failurelog.RecordsFromResult(&result)
}

func (o *Orchestrator) summarise(report *Report) {
	switch {
	case report.Stopped:
		playlist_archiver.Warn(o.sink, "Stopped: %d downloaded, %d failed", report.Succeeded(), len(report.Failed))
	case len(report.Failed) > 0:
		lines := []string{fmt.Sprintf("Could not download %d videos after retry:", len(report.Failed))}
		for i, f := range report.Failed {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, f.Request.Title))
		}
		playlist_archiver.Error(o.sink, "%s", strings.Join(lines, "\n"))
		playlist_archiver.Info(o.sink, "Permanent failures saved to the failure log")
	case len(report.Passes) > 1:
		playlist_archiver.Succeeded(o.sink, "All videos successfully downloaded on retry!")
	default:
		playlist_archiver.Succeeded(o.sink, "All videos downloaded successfully on first attempt!")
	}
}

// recovered returns the titles that failed in before and were downloaded in after, logging how the failed set changed.
// Items after never started still count as failing.
func (o *Orchestrator) recovered(before, after *playlist_archiver.BatchResult) []string {
	stillFailing := after.FailedTitles()
	for _, req := range after.Remaining {
		stillFailing = append(stillFailing, req.Title)
	}
	changes, err := diff.Diff(before.FailedTitles(), stillFailing, diff.SliceOrdering(false))
	if err != nil {
		o.log.Errorf("failed to diff failures between passes: %v", err)
		return nil
	}
	var titles []string
	for _, change := range changes {
		if change.Type == diff.DELETE {
			o.log.Debugw("recovered on retry", "title", change.From)
			if title, ok := change.From.(string); ok {
				titles = append(titles, title)
			}
		} else {
			o.log.Debugw("failure set changed", "type", change.Type, "path", change.Path, "from", change.From, "to", change.To)
		}
	}
	return titles
}

// RunPass processes requests in order, once each. Before each item the stop flag and context are checked; once either
// says stop, the rest are returned as Remaining.
func (o *Orchestrator) RunPass(ctx context.Context, pass int, requests []playlist_archiver.DownloadRequest, stop playlist_archiver.StopFlag) *playlist_archiver.BatchResult {
	result, _ := o.runPass(ctx, pass, requests, o.newSlots(len(requests)), stop)
	return result
}

// runPass is RunPass with the slot of each request given; it also returns the slots of the failed requests, in order.
func (o *Orchestrator) runPass(ctx context.Context, pass int, requests []playlist_archiver.DownloadRequest, slots []int, stop playlist_archiver.StopFlag) (*playlist_archiver.BatchResult, []int) {
	result := &playlist_archiver.BatchResult{Pass: pass}
	var failedSlots []int
	playlist_archiver.Info(o.sink, "Processing %d videos...", len(requests))
	for i, req := range requests {
		if stopRequested(ctx, stop) {
			playlist_archiver.Warn(o.sink, "Stop requested, %d videos not started", len(requests)-i)
			result.Remaining = append(result.Remaining, requests[i:]...)
			break
		}
		index := i + 1
		playlist_archiver.Info(o.sink, "Processing video %d of %d", index, len(requests))
		if err := req.Validate(); err != nil {
			playlist_archiver.Warn(o.sink, "Skipping invalid entry: Title=%q, URL=%q (%v)", req.Title, req.SourceURL, err)
			result.Skipped = append(result.Skipped, req)
			continue
		}
		o.sink.Emit(playlist_archiver.ItemStarted{Pass: pass, Index: index, Total: len(requests), Request: req})

		outcome := o.processItem(ctx, index, slots[i], req)
		result.Add(outcome)
		if !outcome.IsSuccess() {
			failedSlots = append(failedSlots, slots[i])
		}
		o.sink.Emit(playlist_archiver.ItemFinished{Pass: pass, Index: index, Outcome: outcome})
	}
	return result, failedSlots
}

func (o *Orchestrator) processItem(ctx context.Context, index int, slot int, req playlist_archiver.DownloadRequest) playlist_archiver.Outcome {
	log := o.log.With("title", req.Title, "url", req.SourceURL)
	playlist_archiver.Info(o.sink, "Processing video: %s (%s)", req.Title, req.SourceURL)
	outcome := playlist_archiver.Outcome{Request: req}

	var lastErr error
	attempts := 0
	destPath := ""
	for attempts < o.config.MaxAttempts {
		// Fetch URLs are short-lived, so every attempt gets a fresh one
		target, err := o.resolver.Resolve(ctx, req)
		if err != nil {
			log.Debugw("resolution failed", "error", err)
			playlist_archiver.Error(o.sink, "Resolution failed for %s: %v", req.Title, err)
			outcome.Failure = &playlist_archiver.Failure{Reason: err, Attempts: attempts}
			return outcome
		}
		if destPath == "" {
			if destPath, err = o.claimPath(slot, index, req, target); err != nil {
				playlist_archiver.Error(o.sink, "No usable file name for %s: %v", req.Title, err)
				outcome.Failure = &playlist_archiver.Failure{Reason: err, Attempts: attempts}
				return outcome
			}
		}

		attempts++
		playlist_archiver.Info(o.sink, "Attempt %d/%d: Downloading %s", attempts, o.config.MaxAttempts, filepath.Base(destPath))
		success, err := o.downloader.Download(ctx, target, destPath, o.sink)
		if err == nil {
			playlist_archiver.Succeeded(o.sink, "Download verified! Saved as %q (%d KB)", success.FilePath, success.BytesWritten/1024)
			playlist_archiver.Info(o.sink, "Time taken: %d seconds", int(success.Elapsed.Seconds()))
			outcome.Success = &success
			return outcome
		}
		lastErr = err
		log.Debugw("download attempt failed", "attempt", attempts, "error", err)

		if attempts < o.config.MaxAttempts {
			playlist_archiver.Warn(o.sink, "Download failed: %v - Retrying...", err)
			if err := sleep(ctx, o.config.RetryBackoff); err != nil {
				playlist_archiver.Error(o.sink, "Download of %s abandoned: %v", req.Title, err)
				outcome.Failure = &playlist_archiver.Failure{Reason: lastErr, Attempts: attempts}
				return outcome
			}
		}
	}

	playlist_archiver.Error(o.sink, "FATAL: Download failed after %d attempts. Last error: %v", attempts, lastErr)
	outcome.Failure = &playlist_archiver.Failure{
		Reason:   &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrExhausted, Attempts: attempts, Err: lastErr},
		Attempts: attempts,
	}
	return outcome
}

func (o *Orchestrator) resetSlots() {
	o.claimed = make(map[string]int)
	o.paths = make(map[int]string)
	o.nextSlot = 0
}

func (o *Orchestrator) newSlots(n int) []int {
	slots := make([]int, n)
	for i := range slots {
		slots[i] = o.nextSlot
		o.nextSlot++
	}
	return slots
}

// claimPath picks the destination for the item in slot, keeping it stable across attempts and passes and distinct from
// every other slot in the run. If the suggested filename is unusable, the last element of the fetch URL is tried.
func (o *Orchestrator) claimPath(slot int, index int, req playlist_archiver.DownloadRequest, target playlist_archiver.ResolvedTarget) (string, error) {
	if path, ok := o.paths[slot]; ok {
		return path, nil
	}
	path, err := o.config.GetTargetPath(index, req, target.SuggestedFilename)
	if err != nil {
		fetchURL, parseErr := url.Parse(target.FetchURL)
		if parseErr != nil {
			return "", err
		}
		filename, nameErr := util.FilenameFromURL(fetchURL)
		if nameErr != nil {
			return "", err
		}
		if path, err = o.config.GetTargetPath(index, req, filename); err != nil {
			return "", err
		}
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	candidate := path
	for n := 2; ; n++ {
		if _, taken := o.claimed[candidate]; !taken {
			break
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
	}
	o.claimed[candidate] = slot
	o.paths[slot] = candidate
	return candidate, nil
}

func stopRequested(ctx context.Context, stop playlist_archiver.StopFlag) bool {
	return ctx.Err() != nil || (stop != nil && stop.IsSet())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func newRunID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
