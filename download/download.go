// Package download streams a resolved target to a local file, reporting progress as it goes.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
)

// Percent reported while a download is still in progress never exceeds this.
const maxStreamingPercent = 99.9

type downloadConfig struct {
	client           *http.Client
	chunkSize        int
	placeholderTotal int64
}

type Option func(*downloadConfig)

func WithHTTPClient(client *http.Client) Option {
	return func(c *downloadConfig) {
		c.client = client
	}
}

func WithChunkSize(n int) Option {
	return func(c *downloadConfig) {
		c.chunkSize = n
	}
}

// WithPlaceholderTotal sets the total assumed for percentages when the server does not send a length.
func WithPlaceholderTotal(n int64) Option {
	return func(c *downloadConfig) {
		c.placeholderTotal = n
	}
}

type Downloader struct {
	config downloadConfig
	log    *zap.SugaredLogger
}

func New(opts ...Option) *Downloader {
	config := downloadConfig{
		client:           &http.Client{},
		chunkSize:        playlist_archiver.DefaultChunkSize,
		placeholderTotal: playlist_archiver.DefaultPlaceholderTotal,
	}
	for _, opt := range opts {
		opt(&config)
	}
	if config.chunkSize < 1 {
		config.chunkSize = playlist_archiver.DefaultChunkSize
	}
	if config.placeholderTotal < 1 {
		config.placeholderTotal = playlist_archiver.DefaultPlaceholderTotal
	}
	return &Downloader{
		config: config,
		log:    zap.S().Named("download"),
	}
}

// Download makes a single attempt at fetching target into destPath. On any failure the partial file is removed.
func (d *Downloader) Download(ctx context.Context, target playlist_archiver.ResolvedTarget, destPath string, sink playlist_archiver.Sink) (result playlist_archiver.Success, err error) {
	if sink == nil {
		sink = playlist_archiver.Discard
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.FetchURL, nil)
	if err != nil {
		return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransport, Err: err}
	}
	resp, err := d.config.client.Do(req)
	if err != nil {
		return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransient, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransport, StatusCode: resp.StatusCode}
	}

	p := progress{sink: sink, total: resp.ContentLength, known: resp.ContentLength > 0}
	if !p.known {
		p.total = d.config.placeholderTotal
		playlist_archiver.Warn(sink, "Content-Length is missing, assuming %d MB for progress", p.total/(1024*1024))
	} else {
		playlist_archiver.Info(sink, "Total size: %d MB", p.total/(1024*1024))
	}

	if dir := filepath.Dir(destPath); dir != "" {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransient, Err: err}
		}
	}
	f, err := os.Create(destPath)
	if err != nil {
		return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransient, Err: fmt.Errorf("failed to open target file: %w", err)}
	}
	defer func() {
		if err != nil {
			cleanupErr := err
			if rmErr := os.Remove(destPath); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				cleanupErr = multierror.Append(cleanupErr, fmt.Errorf("failed to remove partial file: %w", rmErr))
				d.log.Warnw("partial file left behind", "path", destPath, "error", rmErr)
			}
			err = classify(cleanupErr)
		}
	}()

	written, err := d.stream(ctx, f, resp.Body, &p)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("failed to close target file: %w", closeErr)
	}
	if err != nil {
		return result, err
	}

	info, err := os.Stat(destPath)
	if err != nil {
		return result, err
	}
	if written == 0 || info.Size() == 0 {
		return result, &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrEmptyFile}
	}

	p.complete()
	result = playlist_archiver.Success{
		FilePath:     destPath,
		BytesWritten: written,
		Elapsed:      time.Since(start),
	}
	return result, nil
}

func (d *Downloader) stream(ctx context.Context, w io.Writer, r io.Reader, p *progress) (int64, error) {
	r = playlist_archiver.ContextReader(ctx, r)
	buf := make([]byte, d.config.chunkSize)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return p.downloaded, fmt.Errorf("failed to write target file: %w", err)
			}
			p.add(int64(n))
		}
		if readErr == io.EOF {
			return p.downloaded, nil
		} else if readErr != nil {
			return p.downloaded, fmt.Errorf("failed to read stream: %w", readErr)
		}
	}
}

// classify wraps anything that isn't already a DownloadError as ErrTransient.
func classify(err error) error {
	var downloadErr *playlist_archiver.DownloadError
	if errors.As(err, &downloadErr) {
		return err
	}
	return &playlist_archiver.DownloadError{Kind: playlist_archiver.ErrTransient, Err: err}
}
