package batch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/download"
	"github.com/alanbriolat/playlist-archiver/internal/failurelog"
	sync_ "github.com/alanbriolat/playlist-archiver/internal/sync"
)

type fakeResolver struct {
	mu    sync.Mutex
	fail  map[string]int // source URL -> remaining failures (-1 = always)
	calls map[string]int
}

func (r *fakeResolver) Resolve(_ context.Context, req playlist_archiver.DownloadRequest) (playlist_archiver.ResolvedTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	r.calls[req.SourceURL]++
	if n := r.fail[req.SourceURL]; n != 0 {
		if n > 0 {
			r.fail[req.SourceURL] = n - 1
		}
		return playlist_archiver.ResolvedTarget{}, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrResolverUnreachable}
	}
	return playlist_archiver.ResolvedTarget{
		FetchURL:          fmt.Sprintf("http://tunnel/%s/%d", req.SourceURL, r.calls[req.SourceURL]),
		SuggestedFilename: req.Title + ".mp4",
	}, nil
}

type staticResolver struct {
	target playlist_archiver.ResolvedTarget
}

func (r staticResolver) Resolve(context.Context, playlist_archiver.DownloadRequest) (playlist_archiver.ResolvedTarget, error) {
	return r.target, nil
}

type fakeDownloader struct {
	mu      sync.Mutex
	fail    map[string]int // file name -> remaining failures (-1 = always)
	targets []playlist_archiver.ResolvedTarget
	paths   []string
}

func (d *fakeDownloader) Download(_ context.Context, target playlist_archiver.ResolvedTarget, destPath string, sink playlist_archiver.Sink) (playlist_archiver.Success, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, target)
	d.paths = append(d.paths, destPath)
	name := filepath.Base(destPath)
	if n := d.fail[name]; n != 0 {
		if n > 0 {
			d.fail[name] = n - 1
		}
		return playlist_archiver.Success{}, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransient, Err: errors.New("connection reset")}
	}
	sink.Emit(playlist_archiver.ProgressEvent{DownloadedBytes: 10, TotalBytes: 10, TotalKnown: true, Percent: 100})
	return playlist_archiver.Success{FilePath: destPath, BytesWritten: 10}, nil
}

func (d *fakeDownloader) count(name string) int {
	n := 0
	for _, p := range d.paths {
		if filepath.Base(p) == name {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu     sync.Mutex
	events []playlist_archiver.Event
}

func (s *recordingSink) Emit(e playlist_archiver.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

type memoryHistory struct {
	runs map[string]RunRecord
}

func (h *memoryHistory) SaveRun(r *RunRecord) error {
	if h.runs == nil {
		h.runs = make(map[string]RunRecord)
	}
	h.runs[r.ID] = *r
	return nil
}

type fixture struct {
	resolver   *fakeResolver
	downloader *fakeDownloader
	sink       *recordingSink
	store      *failurelog.Store
	history    *memoryHistory
	orch       *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	config := playlist_archiver.DefaultConfig()
	config.TargetDir = dir
	config.RetryBackoff = 0
	f := &fixture{
		resolver:   &fakeResolver{fail: map[string]int{}},
		downloader: &fakeDownloader{fail: map[string]int{}},
		sink:       &recordingSink{},
		store:      failurelog.New(filepath.Join(dir, "failed_downloads.txt")),
		history:    &memoryHistory{},
	}
	f.orch = New(config, f.resolver, f.downloader, WithSink(f.sink), WithFailureStore(f.store), WithHistory(f.history))
	return f
}

var (
	videoA = playlist_archiver.DownloadRequest{Title: "Video A", SourceURL: "u1"}
	videoB = playlist_archiver.DownloadRequest{Title: "Video B", SourceURL: "u2"}
	videoC = playlist_archiver.DownloadRequest{Title: "Video C", SourceURL: "u3"}
)

func TestResolveFailureIsNotRetriedAndIsLogged(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)
	f := newFixture(t)
	f.resolver.fail["u1"] = -1

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA, videoB}, nil)
	require.NoError(err)
	require.Len(report.Passes, 2)

	first := report.Passes[0]
	assert.Equal([]playlist_archiver.DownloadRequest{videoB}, first.Succeeded)
	require.Len(first.Failed, 1)
	assert.Equal(videoA, first.Failed[0].Request)
	assert.ErrorIs(first.Failed[0].Reason, playlist_archiver.ErrResolverUnreachable)

	second := report.Passes[1]
	assert.Empty(second.Succeeded)
	assert.Len(second.Failed, 1)

	// One resolution per pass, and never a download for the unresolvable item
	assert.Equal(2, f.resolver.calls["u1"])
	assert.Equal(0, f.downloader.count("Video A.mp4"))
	assert.Equal(1, f.downloader.count("Video B.mp4"))

	records, err := f.store.Load()
	require.NoError(err)
	require.Len(records, 1)
	assert.Equal("Video A", records[0].Title)
	assert.Equal("u1", records[0].URL)
	assert.NotEmpty(records[0].Error)
	assert.False(report.Stopped)
}

func TestTransientFailureRetriesWithFreshResolution(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.downloader.fail["Video A.mp4"] = 2

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA}, nil)
	assert.NoError(err)
	assert.Len(report.Passes, 1)
	assert.Empty(report.Failed)
	assert.Equal(1, report.Succeeded())

	assert.Equal(3, f.resolver.calls["u1"])
	require_.Len(t, f.downloader.targets, 3)
	seen := map[string]bool{}
	for _, target := range f.downloader.targets {
		assert.False(seen[target.FetchURL], "resolved target reused: %s", target.FetchURL)
		seen[target.FetchURL] = true
	}
	// Same destination for every attempt
	assert.Equal(f.downloader.paths[0], f.downloader.paths[2])
	assert.False(f.store.Exists())
}

func TestExhaustedAttempts(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.downloader.fail["Video A.mp4"] = -1

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA, videoB}, nil)
	assert.NoError(err)
	require_.Len(t, report.Passes, 2)
	require_.Len(t, report.Failed, 1)
	assert.ErrorIs(report.Failed[0].Reason, playlist_archiver.ErrExhausted)
	assert.ErrorIs(report.Failed[0].Reason, playlist_archiver.ErrTransient)
	assert.Equal(3, report.Passes[0].Outcomes[0].Failure.Attempts)
	// 3 attempts in each of the 2 passes
	assert.Equal(6, f.downloader.count("Video A.mp4"))
	assert.Equal(1, f.downloader.count("Video B.mp4"))
	assert.True(f.store.Exists())
}

func TestRetryPassClearsFailureLog(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	require_.NoError(t, f.store.Write([]failurelog.Record{{Title: "stale", URL: "old"}}))
	f.resolver.fail["u2"] = 1

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA, videoB, videoC}, nil)
	assert.NoError(err)
	require_.Len(t, report.Passes, 2)
	assert.Len(report.Passes[0].Failed, 1)
	assert.Equal([]playlist_archiver.DownloadRequest{videoB}, report.Passes[1].Succeeded)
	assert.Empty(report.Failed)
	assert.False(f.store.Exists(), "failure log should be removed once everything succeeded")

	record := f.history.runs[report.RunID]
	require_.Len(t, record.Passes, 2)
	assert.Empty(record.Passes[0].Recovered)
	assert.Equal([]string{"Video B"}, record.Passes[1].Recovered)
}

func TestFirstPassSuccessRemovesStaleLog(t *testing.T) {
	f := newFixture(t)
	require_.NoError(t, f.store.Write([]failurelog.Record{{Title: "stale", URL: "old"}}))
	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA}, nil)
	assert_.NoError(t, err)
	assert_.Len(t, report.Passes, 1)
	assert_.False(t, f.store.Exists())
}

func TestMalformedEntriesAreSkipped(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.resolver.fail["u3"] = -1
	input := []playlist_archiver.DownloadRequest{
		videoA,
		{Title: "", SourceURL: "u9"},
		{Title: "No URL", SourceURL: "  "},
		videoB,
		videoC,
	}
	result := f.orch.RunPass(context.Background(), 1, input, nil)
	assert.Len(result.Skipped, 2)
	assert.Len(result.Succeeded, 2)
	assert.Len(result.Failed, 1)
	assert.Empty(result.Remaining)
	assert.Equal(len(input), result.Total())
	assert.Len(result.Outcomes, 3)
	assert.Equal(0, f.resolver.calls["u9"])

	warnings := 0
	for _, e := range f.sink.events {
		if l, ok := e.(playlist_archiver.LogLine); ok && l.Severity == playlist_archiver.SeverityWarning {
			warnings++
		}
	}
	assert.GreaterOrEqual(warnings, 2)
}

func TestStopBetweenItems(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.resolver.fail["u1"] = -1
	stop := sync_.NewEvent()
	f.orch.sink = playlist_archiver.SinkFunc(func(e playlist_archiver.Event) {
		f.sink.Emit(e)
		if finished, ok := e.(playlist_archiver.ItemFinished); ok && finished.Index == 2 {
			stop.Set()
		}
	})

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA, videoB, videoC}, stop)
	assert.NoError(err)
	assert.True(report.Stopped)
	require_.Len(t, report.Passes, 1, "no retry pass after a stop")
	assert.Equal([]playlist_archiver.DownloadRequest{videoC}, report.Passes[0].Remaining)
	assert.Equal(3, report.Passes[0].Total())
	assert.Equal(0, f.resolver.calls["u3"])
	// The failure seen before stopping is still recorded
	records, err := f.store.Load()
	require_.NoError(t, err)
	assert.Len(records, 1)
}

func TestCancelledContextStopsBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := f.orch.Run(ctx, "playlist", []playlist_archiver.DownloadRequest{videoA, videoB}, nil)
	assert_.NoError(t, err)
	assert_.True(t, report.Stopped)
	assert_.Len(t, report.Passes[0].Remaining, 2)
	assert_.Empty(t, f.downloader.paths)
}

func TestEventsAreNotInterleaved(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.orch.RunPass(context.Background(), 1, []playlist_archiver.DownloadRequest{videoA, videoB}, nil)

	current := 0
	for _, e := range f.sink.events {
		switch e := e.(type) {
		case playlist_archiver.ItemStarted:
			assert.Equal(0, current, "item started before previous finished")
			current = e.Index
		case playlist_archiver.ProgressEvent:
			assert.NotEqual(0, current, "progress outside an item")
		case playlist_archiver.ItemFinished:
			assert.Equal(current, e.Index)
			current = 0
		}
	}
}

func TestDuplicateFilenamesGetDistinctPaths(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	same1 := playlist_archiver.DownloadRequest{Title: "Same", SourceURL: "s1"}
	same2 := playlist_archiver.DownloadRequest{Title: "Same", SourceURL: "s2"}
	f.orch.RunPass(context.Background(), 1, []playlist_archiver.DownloadRequest{same1, same2}, nil)
	require_.Len(t, f.downloader.paths, 2)
	assert.Equal("Same.mp4", filepath.Base(f.downloader.paths[0]))
	assert.Equal("Same (2).mp4", filepath.Base(f.downloader.paths[1]))
}

func TestHistoryRecordsPasses(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.resolver.fail["u1"] = -1
	report, err := f.orch.Run(context.Background(), "PL123", []playlist_archiver.DownloadRequest{videoA, videoB}, nil)
	assert.NoError(err)

	record, ok := f.history.runs[report.RunID]
	require_.True(t, ok)
	assert.Equal("PL123", record.Playlist)
	assert.False(record.FinishedAt.IsZero())
	require_.Len(t, record.Passes, 2)
	assert.Equal([]string{"Video B"}, record.Passes[0].Succeeded)
	assert.Equal("Video A", record.Passes[1].Failed[0].Title)
}

func TestRepeatedEntryKeepsItsPathAcrossPasses(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	f.downloader.fail["Video A (2).mp4"] = 3

	report, err := f.orch.Run(context.Background(), "playlist", []playlist_archiver.DownloadRequest{videoA, videoA}, nil)
	assert.NoError(err)
	require_.Len(t, report.Passes, 2)
	assert.Empty(report.Failed)
	assert.Equal(1, f.downloader.count("Video A.mp4"))
	assert.Equal(4, f.downloader.count("Video A (2).mp4"))
}

func TestFailedRepeatedEntryKeepsEarlierDownload(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.Header().Set("Content-Length", "10")
			_, _ = w.Write([]byte("0123456789"))
			return
		}
		// Shorter than promised, so the client sees an unexpected EOF
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("partial"))
	}))
	defer server.Close()

	dir := t.TempDir()
	config := playlist_archiver.DefaultConfig()
	config.TargetDir = dir
	config.RetryBackoff = 0
	target := playlist_archiver.ResolvedTarget{FetchURL: server.URL + "/video", SuggestedFilename: "Video A.mp4"}
	orch := New(config, staticResolver{target: target}, download.New())

	result := orch.RunPass(context.Background(), 1, []playlist_archiver.DownloadRequest{videoA, videoA}, nil)
	require.Len(result.Succeeded, 1)
	require.Len(result.Failed, 1)
	first := result.Outcomes[0].Success
	require.NotNil(first)
	assert.Equal(filepath.Join(dir, "Video A.mp4"), first.FilePath)
	data, err := os.ReadFile(first.FilePath)
	require.NoError(err)
	assert.Equal("0123456789", string(data))
	assert.NoFileExists(filepath.Join(dir, "Video A (2).mp4"))
}

func TestUnusableFilenameFallsBackToFetchURL(t *testing.T) {
	assert := assert_.New(t)
	f := newFixture(t)
	orch := New(f.orch.config, staticResolver{target: playlist_archiver.ResolvedTarget{
		FetchURL:          "http://tunnel/files/clip.webm?token=abc",
		SuggestedFilename: "..",
	}}, f.downloader)

	result := orch.RunPass(context.Background(), 1, []playlist_archiver.DownloadRequest{videoA}, nil)
	require_.Len(t, result.Succeeded, 1)
	assert.Equal(1, f.downloader.count("clip.webm"))

	orch = New(f.orch.config, staticResolver{target: playlist_archiver.ResolvedTarget{
		FetchURL:          "http://tunnel/",
		SuggestedFilename: "..",
	}}, f.downloader)
	result = orch.RunPass(context.Background(), 1, []playlist_archiver.DownloadRequest{videoA}, nil)
	require_.Len(t, result.Failed, 1)
	assert.Equal(0, result.Outcomes[0].Failure.Attempts)
}
