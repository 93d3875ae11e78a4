// Package session runs one batch at a time on a dedicated goroutine, with start and stop controls for whatever is
// presenting it.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/internal/batch"
	sync_ "github.com/alanbriolat/playlist-archiver/internal/sync"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrNotStarted     = errors.New("session not started")
	ErrEmptyListing   = errors.New("no videos found in playlist")
)

type Session struct {
	orchestrator *batch.Orchestrator
	sink         playlist_archiver.Sink
	log          *zap.SugaredLogger

	startOnce sync_.Event
	stop      sync_.Event
	running   sync_.Event
	done      sync_.Event

	report *batch.Report
	err    error
}

func New(orchestrator *batch.Orchestrator, sink playlist_archiver.Sink) *Session {
	if sink == nil {
		sink = playlist_archiver.Discard
	}
	return &Session{
		orchestrator: orchestrator,
		sink:         sink,
		log:          zap.S().Named("session"),
	}
}

// Start lists ref with lister and then runs the batch, all on a new goroutine. A listing error ends the session
// before any download starts and is returned by Wait.
func (s *Session) Start(ctx context.Context, lister playlist_archiver.Lister, ref string) error {
	return s.start(func() (*batch.Report, error) {
		playlist_archiver.Info(s.sink, "Fetching videos for %s...", ref)
		listing, err := lister.List(ctx, ref)
		if err != nil {
			playlist_archiver.Error(s.sink, "Listing failed: %v", err)
			return nil, err
		}
		if len(listing.Items) == 0 {
			playlist_archiver.Warn(s.sink, "No videos found in this playlist or the playlist is private/deleted.")
			return nil, ErrEmptyListing
		}
		playlist_archiver.Info(s.sink, "Finished fetching. Total videos found: %d", listing.TotalCount)
		return s.orchestrator.Run(ctx, ref, listing.Items, &s.stop)
	})
}

// StartRequests runs the batch over requests that are already known.
func (s *Session) StartRequests(ctx context.Context, name string, requests []playlist_archiver.DownloadRequest) error {
	return s.start(func() (*batch.Report, error) {
		return s.orchestrator.Run(ctx, name, requests, &s.stop)
	})
}

func (s *Session) start(f func() (*batch.Report, error)) error {
	if !s.startOnce.Set() {
		return ErrAlreadyStarted
	}
	s.running.Set()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("batch panicked: %v", r)
				s.log.Errorw("batch panicked", "panic", r)
			}
			s.running.Clear()
			s.done.Set()
		}()
		s.report, s.err = f()
	}()
	return nil
}

// Stop asks the batch to finish after the current item. It does not wait.
func (s *Session) Stop() {
	if s.stop.Set() {
		s.log.Info("stop requested")
		playlist_archiver.Warn(s.sink, "Stop requested, finishing the current video...")
	}
}

func (s *Session) StopRequested() bool {
	return s.stop.IsSet()
}

func (s *Session) IsRunning() bool {
	return s.running.IsSet()
}

// Done is closed once the batch has finished, successfully or not.
func (s *Session) Done() <-chan struct{} {
	return s.done.Wait()
}

// Wait blocks until the batch is finished and returns its report.
func (s *Session) Wait() (*batch.Report, error) {
	if !s.startOnce.IsSet() {
		return nil, ErrNotStarted
	}
	<-s.done.Wait()
	return s.report, s.err
}
