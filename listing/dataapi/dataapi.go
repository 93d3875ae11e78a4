// Package dataapi lists playlists through the YouTube Data API v3. An API key is required.
package dataapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/listing"
)

const (
	ProviderName = "dataapi"
	// PageSize is the largest page the API will return.
	PageSize = 50
)

var (
	ErrNoAPIKey = errors.New("no YouTube Data API key configured")
)

var quotaReasons = map[string]bool{
	"quotaExceeded":      true,
	"dailyLimitExceeded": true,
	"rateLimitExceeded":  true,
}

type Option func(*Lister)

// WithEndpoint overrides the API base URL.
func WithEndpoint(endpoint string) Option {
	return func(l *Lister) {
		l.endpoint = endpoint
	}
}

type Lister struct {
	apiKey   string
	endpoint string
	log      *zap.SugaredLogger
}

func New(apiKey string, opts ...Option) (*Lister, error) {
	if apiKey == "" || apiKey == playlist_archiver.PlaceholderAPIKey {
		return nil, ErrNoAPIKey
	}
	l := &Lister{apiKey: apiKey, log: zap.S().Named(ProviderName)}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Provider registers the Data API lister for any reference that contains a playlist ID.
func Provider(apiKey string, opts ...Option) playlist_archiver.ListingProvider {
	return playlist_archiver.ListingProvider{
		Name: ProviderName,
		Match: func(ref string) (playlist_archiver.Lister, error) {
			if _, err := listing.PlaylistID(ref); err != nil {
				return nil, err
			}
			return New(apiKey, opts...)
		},
	}
}

func (l *Lister) List(ctx context.Context, ref string) (playlist_archiver.Listing, error) {
	var result playlist_archiver.Listing
	playlistID, err := listing.PlaylistID(ref)
	if err != nil {
		return result, &playlist_archiver.ListingError{Kind: playlist_archiver.ErrListingNotFound, Err: err}
	}

	serviceOpts := []option.ClientOption{option.WithAPIKey(l.apiKey)}
	if l.endpoint != "" {
		serviceOpts = append(serviceOpts, option.WithEndpoint(l.endpoint))
	}
	service, err := youtube.NewService(ctx, serviceOpts...)
	if err != nil {
		return result, &playlist_archiver.ListingError{Kind: playlist_archiver.ErrListingTransport, Err: err}
	}

	l.log.Infof("Fetching videos for playlist ID: %s", playlistID)
	pageToken := ""
	for {
		call := service.PlaylistItems.List([]string{"snippet", "contentDetails"}).
			PlaylistId(playlistID).
			MaxResults(PageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		response, err := call.Do()
		if err != nil {
			return playlist_archiver.Listing{}, classify(err)
		}
		for _, item := range response.Items {
			result.Items = append(result.Items, requestFromItem(item))
		}
		l.log.Debugw("fetched page", "items", len(response.Items), "total", len(result.Items))
		if len(response.Items) == 0 || response.NextPageToken == "" {
			break
		}
		pageToken = response.NextPageToken
	}
	result.TotalCount = len(result.Items)
	if result.TotalCount == 0 {
		l.log.Warn("No videos found in this playlist or the playlist is private/deleted")
	} else {
		l.log.Infof("Finished fetching. Total videos found: %d", result.TotalCount)
	}
	return result, nil
}

func requestFromItem(item *youtube.PlaylistItem) playlist_archiver.DownloadRequest {
	var req playlist_archiver.DownloadRequest
	videoID := ""
	if item.ContentDetails != nil {
		videoID = item.ContentDetails.VideoId
	}
	if item.Snippet != nil {
		req.Title = item.Snippet.Title
		if videoID == "" && item.Snippet.ResourceId != nil {
			videoID = item.Snippet.ResourceId.VideoId
		}
	}
	if videoID != "" {
		req.SourceURL = listing.VideoURL(videoID)
	}
	return req
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &playlist_archiver.ListingError{Kind: playlist_archiver.ErrListingTransport, Err: err}
	}
	kind := playlist_archiver.ErrListingTransport
	switch apiErr.Code {
	case http.StatusForbidden:
		kind = playlist_archiver.ErrListingAuth
		if hasReason(apiErr, func(reason string) bool { return quotaReasons[reason] }) {
			kind = playlist_archiver.ErrListingQuota
		}
	case http.StatusBadRequest:
		if hasReason(apiErr, func(reason string) bool { return reason == "keyInvalid" }) {
			kind = playlist_archiver.ErrListingAuth
		}
	case http.StatusUnauthorized:
		kind = playlist_archiver.ErrListingAuth
	case http.StatusNotFound:
		kind = playlist_archiver.ErrListingNotFound
	}
	return &playlist_archiver.ListingError{Kind: kind, Err: fmt.Errorf("HTTP %d: %s", apiErr.Code, apiErr.Message)}
}

func hasReason(apiErr *googleapi.Error, match func(string) bool) bool {
	for _, item := range apiErr.Errors {
		if match(item.Reason) {
			return true
		}
	}
	return false
}
