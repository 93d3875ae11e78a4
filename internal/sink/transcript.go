package sink

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/alanbriolat/playlist-archiver"
)

// Transcript keeps the text of everything shown to the operator so it can be saved on request.
type Transcript struct {
	mu    sync.Mutex
	lines []string
	now   func() time.Time
}

func NewTranscript() *Transcript {
	return &Transcript{now: time.Now}
}

func (t *Transcript) Emit(e playlist_archiver.Event) {
	var line string
	switch e := e.(type) {
	case playlist_archiver.LogLine:
		line = fmt.Sprintf("%s %-7s %s", t.now().Format("15:04:05"), strings.ToUpper(e.Severity.String()), e.Text)
	case playlist_archiver.ItemStarted:
		line = fmt.Sprintf("==== pass %d, video %d of %d: %s (%s)", e.Pass, e.Index, e.Total, e.Request.Title, e.Request.SourceURL)
	case playlist_archiver.ItemFinished:
		if e.Outcome.IsSuccess() {
			line = fmt.Sprintf("---- saved %s (%d bytes)", e.Outcome.Success.FilePath, e.Outcome.Success.BytesWritten)
		} else if e.Outcome.Failure != nil {
			line = fmt.Sprintf("---- failed: %v", e.Outcome.Failure.Reason)
		}
	default:
		// Progress is rendered live, not transcribed
		return
	}
	if line == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lines = append(t.lines, line)
}

func (t *Transcript) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}

func (t *Transcript) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, line := range t.Lines() {
		n, err := io.WriteString(w, line+"\n")
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Save writes the transcript so far to path, replacing any existing file.
func (t *Transcript) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	if _, err := t.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to save transcript: %w", err)
	}
	return f.Close()
}
