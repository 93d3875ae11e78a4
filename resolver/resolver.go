// Package resolver is a client for a media resolution service, which turns a source URL into a short-lived direct
// download URL (a "tunnel").
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/util"
)

const StatusTunnel = "tunnel"

// Maximum response body size that will be decoded.
const maxResponseBytes = 1 << 20

type request struct {
	URL           string `json:"url"`
	VideoQuality  string `json:"videoQuality"`
	VideoCodec    string `json:"videoCodec"`
	AudioFormat   string `json:"audioFormat"`
	FilenameStyle string `json:"filenameStyle"`
}

type response struct {
	Status   string `json:"status"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Error    *struct {
		Code string `json:"code"`
	} `json:"error,omitempty"`
}

type Client struct {
	endpoint   string
	format     playlist_archiver.FormatOptions
	httpClient *http.Client
	log        *zap.SugaredLogger
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

func WithFormat(format playlist_archiver.FormatOptions) Option {
	return func(c *Client) {
		c.format = format
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

// New creates a Client for the resolution service at endpoint, which must be an absolute http(s) URL.
func New(endpoint string, opts ...Option) (*Client, error) {
	if err := playlist_archiver.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}
	c := &Client{
		endpoint:   endpoint,
		format:     playlist_archiver.DefaultFormatOptions,
		httpClient: &http.Client{},
		log:        zap.S().Named("resolver"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Resolve performs one request/response exchange with the resolution service.
func (c *Client) Resolve(ctx context.Context, req playlist_archiver.DownloadRequest) (playlist_archiver.ResolvedTarget, error) {
	var target playlist_archiver.ResolvedTarget

	body, err := json.Marshal(request{
		URL:           req.SourceURL,
		VideoQuality:  c.format.VideoQuality,
		VideoCodec:    c.format.VideoCodec,
		AudioFormat:   c.format.AudioFormat,
		FilenameStyle: c.format.FilenameStyle,
	})
	if err != nil {
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrResolverUnreachable, Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrResolverUnreachable, Err: err}
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Content-Type", "application/json")

	c.log.Debugw("resolving", "url", req.SourceURL)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrResolverUnreachable, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrResolverUnreachable, Err: err}
	}

	var decoded response
	decodeErr := json.Unmarshal(data, &decoded)

	if resp.StatusCode != http.StatusOK {
		status := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if decodeErr == nil && decoded.Error != nil && decoded.Error.Code != "" {
			status = fmt.Sprintf("%s (%s)", status, decoded.Error.Code)
		}
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrUnexpectedStatus, Status: status}
	}
	if decodeErr != nil {
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrMalformedResponse, Err: decodeErr}
	}
	if decoded.Status != StatusTunnel {
		status := decoded.Status
		if decoded.Error != nil && decoded.Error.Code != "" {
			status = fmt.Sprintf("%s (%s)", status, decoded.Error.Code)
		}
		return target, &playlist_archiver.ResolveError{Kind: playlist_archiver.ErrUnexpectedStatus, Status: status}
	}
	if decoded.URL == "" {
		return target, &playlist_archiver.ResolveError{
			Kind: playlist_archiver.ErrMalformedResponse,
			Err:  fmt.Errorf("%s status without url", StatusTunnel),
		}
	}

	target.FetchURL = decoded.URL
	target.SuggestedFilename = decoded.Filename
	if target.SuggestedFilename == "" {
		target.SuggestedFilename = util.FilenameFromTitle(req.Title)
	}
	c.log.Debugw("resolved", "url", req.SourceURL, "filename", target.SuggestedFilename)
	return target, nil
}
