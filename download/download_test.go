package download

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"

	"github.com/alanbriolat/playlist-archiver"
)

type recordingSink struct {
	progress []playlist_archiver.ProgressEvent
	lines    []playlist_archiver.LogLine
}

func (s *recordingSink) Emit(e playlist_archiver.Event) {
	switch e := e.(type) {
	case playlist_archiver.ProgressEvent:
		s.progress = append(s.progress, e)
	case playlist_archiver.LogLine:
		s.lines = append(s.lines, e)
	}
}

// serve writes body in pieces, flushing between them so the client sees multiple reads.
func serve(t *testing.T, body []byte, withLength bool) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if withLength {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		}
		flusher := w.(http.Flusher)
		for i := 0; i < len(body); i += 1000 {
			end := i + 1000
			if end > len(body) {
				end = len(body)
			}
			_, _ = w.Write(body[i:end])
			flusher.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func assertMonotonic(t *testing.T, events []playlist_archiver.ProgressEvent) {
	for i := 1; i < len(events); i++ {
		assert_.GreaterOrEqual(t, events[i].DownloadedBytes, events[i-1].DownloadedBytes, "bytes must not decrease")
		assert_.GreaterOrEqual(t, events[i].Percent, events[i-1].Percent, "percent must not decrease")
	}
}

func TestDownloadWithLength(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)
	body := bytes.Repeat([]byte("x"), 5000)
	srv := serve(t, body, true)
	dest := filepath.Join(t.TempDir(), "out", "video.mp4")
	sink := &recordingSink{}

	d := New(WithChunkSize(512))
	result, err := d.Download(context.Background(), playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, sink)
	require.NoError(err)
	assert.Equal(dest, result.FilePath)
	assert.EqualValues(5000, result.BytesWritten)

	data, err := os.ReadFile(dest)
	require.NoError(err)
	assert.Equal(body, data)

	require.Greater(len(sink.progress), 2)
	assertMonotonic(t, sink.progress)
	last := sink.progress[len(sink.progress)-1]
	assert.EqualValues(5000, last.DownloadedBytes)
	assert.EqualValues(5000, last.TotalBytes)
	assert.True(last.TotalKnown)
	assert.Equal(100.0, last.Percent)
	for _, e := range sink.progress[:len(sink.progress)-1] {
		assert.Less(e.Percent, 100.0)
	}
}

func TestDownloadWithoutLengthUsesPlaceholder(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)
	body := bytes.Repeat([]byte("y"), 3000)
	srv := serve(t, body, false)
	dest := filepath.Join(t.TempDir(), "video.mp4")
	sink := &recordingSink{}

	d := New(WithPlaceholderTotal(100 * 1024 * 1024))
	result, err := d.Download(context.Background(), playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, sink)
	require.NoError(err)
	assert.EqualValues(3000, result.BytesWritten)

	require.NotEmpty(sink.progress)
	assertMonotonic(t, sink.progress)
	first := sink.progress[0]
	assert.False(first.TotalKnown)
	assert.EqualValues(100*1024*1024, first.TotalBytes)
	assert.Less(first.Percent, 1.0)
	assert.Equal(100.0, sink.progress[len(sink.progress)-1].Percent)
	if assert.NotEmpty(sink.lines) {
		assert.Equal(playlist_archiver.SeverityWarning, sink.lines[0].Severity)
	}
}

func TestDownloadEmptyBody(t *testing.T) {
	assert := assert_.New(t)
	srv := serve(t, nil, false)
	dest := filepath.Join(t.TempDir(), "video.mp4")
	sink := &recordingSink{}

	_, err := New().Download(context.Background(), playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, sink)
	assert.ErrorIs(err, playlist_archiver.ErrEmptyFile)
	assert.NoFileExists(dest)
	for _, e := range sink.progress {
		assert.Less(e.Percent, 100.0)
	}
}

func TestDownloadBadStatus(t *testing.T) {
	assert := assert_.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusForbidden)
	}))
	defer srv.Close()
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := New().Download(context.Background(), playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, nil)
	assert.ErrorIs(err, playlist_archiver.ErrTransport)
	var downloadErr *playlist_archiver.DownloadError
	if assert.ErrorAs(err, &downloadErr) {
		assert.Equal(http.StatusForbidden, downloadErr.StatusCode)
	}
	assert.NoFileExists(dest)
}

func TestDownloadTruncatedBodyRemovesPartialFile(t *testing.T) {
	assert := assert_.New(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "10000")
		_, _ = w.Write(bytes.Repeat([]byte("z"), 2000))
		w.(http.Flusher).Flush()
		// Hijack and close to cut the body short
		conn, _, err := w.(http.Hijacker).Hijack()
		if err == nil {
			_ = conn.Close()
		}
	}))
	defer srv.Close()
	dest := filepath.Join(t.TempDir(), "video.mp4")

	_, err := New().Download(context.Background(), playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, nil)
	assert.ErrorIs(err, playlist_archiver.ErrTransient)
	assert.NoFileExists(dest)
}

func TestDownloadCancelled(t *testing.T) {
	assert := assert_.New(t)
	body := bytes.Repeat([]byte("c"), 4000)
	srv := serve(t, body, true)
	dest := filepath.Join(t.TempDir(), "video.mp4")
	ctx, cancel := context.WithCancel(context.Background())

	cancelling := playlist_archiver.SinkFunc(func(e playlist_archiver.Event) {
		if _, ok := e.(playlist_archiver.ProgressEvent); ok {
			cancel()
		}
	})
	_, err := New(WithChunkSize(100)).Download(ctx, playlist_archiver.ResolvedTarget{FetchURL: srv.URL}, dest, cancelling)
	assert.ErrorIs(err, playlist_archiver.ErrTransient)
	assert.ErrorIs(err, context.Canceled)
	assert.NoFileExists(dest)
}
