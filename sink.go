package playlist_archiver

import "fmt"

type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// Event is anything a Sink can receive.
type Event interface {
	event()
}

// ProgressEvent reports the state of the current download. TotalBytes is a placeholder when TotalKnown is false, and
// is only good for scaling Percent.
type ProgressEvent struct {
	DownloadedBytes int64
	TotalBytes      int64
	TotalKnown      bool
	Percent         float64
}

type LogLine struct {
	Text     string
	Severity Severity
}

// ItemStarted is emitted before any other event for an item.
type ItemStarted struct {
	Pass    int
	Index   int // 1-based
	Total   int
	Request DownloadRequest
}

// ItemFinished is emitted after the last event for an item.
type ItemFinished struct {
	Pass    int
	Index   int
	Outcome Outcome
}

func (ProgressEvent) event() {}
func (LogLine) event()       {}
func (ItemStarted) event()   {}
func (ItemFinished) event()  {}

// A Sink consumes progress and log events. Emit must not block for long, and must not silently drop events.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a plain function to a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) {
	f(e)
}

// Discard is a Sink that ignores everything.
var Discard Sink = SinkFunc(func(Event) {})

func Info(sink Sink, format string, args ...interface{}) {
	sink.Emit(LogLine{Text: fmt.Sprintf(format, args...), Severity: SeverityInfo})
}

func Succeeded(sink Sink, format string, args ...interface{}) {
	sink.Emit(LogLine{Text: fmt.Sprintf(format, args...), Severity: SeveritySuccess})
}

func Warn(sink Sink, format string, args ...interface{}) {
	sink.Emit(LogLine{Text: fmt.Sprintf(format, args...), Severity: SeverityWarning})
}

func Error(sink Sink, format string, args ...interface{}) {
	sink.Emit(LogLine{Text: fmt.Sprintf(format, args...), Severity: SeverityError})
}
