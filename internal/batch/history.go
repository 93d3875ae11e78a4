package batch

import (
	"time"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/internal/failurelog"
)

// RunRecord is the audit trail of one Run, saved after every pass.
type RunRecord struct {
	ID         string
	Playlist   string
	StartedAt  time.Time
	FinishedAt time.Time
	Stopped    bool
	Passes     []PassRecord
}

type PassRecord struct {
	Number    int
	Succeeded []string
	Failed    []failurelog.Record
	Skipped   int
	Remaining int
	// Recovered lists titles that failed in the previous pass and succeeded in this one.
	Recovered []string `json:",omitempty"`
}

func newPassRecord(result *playlist_archiver.BatchResult) PassRecord {
	p := PassRecord{
		Number:    result.Pass,
		Succeeded: make([]string, 0, len(result.Succeeded)),
		Failed:    failurelog.RecordsFromResult(result),
		Skipped:   len(result.Skipped),
		Remaining: len(result.Remaining),
	}
	for _, req := range result.Succeeded {
		p.Succeeded = append(p.Succeeded, req.Title)
	}
	return p
}

// History stores RunRecords. Saving the same ID again replaces the earlier record.
type History interface {
	SaveRun(*RunRecord) error
}

type NilHistory struct{}

func (NilHistory) SaveRun(*RunRecord) error {
	return nil
}

// FailureStore persists the failures left at the end of a pass.
type FailureStore interface {
	Write([]failurelog.Record) error
	Remove() error
}

type nilFailureStore struct{}

func (nilFailureStore) Write([]failurelog.Record) error { return nil }
func (nilFailureStore) Remove() error                   { return nil }
