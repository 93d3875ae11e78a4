// Package youtube lists playlists by scraping the public playlist page, so no API key is needed.
package youtube

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/kkdai/youtube/v2"
	"go.uber.org/zap"

	"github.com/alanbriolat/playlist-archiver"
	"github.com/alanbriolat/playlist-archiver/listing"
)

const ProviderName = "youtube"

type Lister struct {
	client youtube.Client
	log    *zap.SugaredLogger
}

func New(timeout time.Duration) *Lister {
	return &Lister{
		client: youtube.Client{HTTPClient: &http.Client{Timeout: timeout}},
		log:    zap.S().Named(ProviderName),
	}
}

// Provider matches the same references as the Data API but at a lower priority.
func Provider(timeout time.Duration) playlist_archiver.ListingProvider {
	return playlist_archiver.ListingProvider{
		Name: ProviderName,
		Match: func(ref string) (playlist_archiver.Lister, error) {
			if _, err := listing.PlaylistID(ref); err != nil {
				return nil, err
			}
			return New(timeout), nil
		},
		Priority: playlist_archiver.PriorityDefault + 10,
	}
}

func (l *Lister) List(ctx context.Context, ref string) (playlist_archiver.Listing, error) {
	playlistID, err := listing.PlaylistID(ref)
	if err != nil {
		return playlist_archiver.Listing{}, &playlist_archiver.ListingError{Kind: playlist_archiver.ErrListingNotFound, Err: err}
	}
	l.log.Infof("Fetching videos for playlist ID: %s", playlistID)
	playlist, err := l.client.GetPlaylistContext(ctx, playlistID)
	if err != nil {
		kind := playlist_archiver.ErrListingTransport
		if errors.Is(err, youtube.ErrInvalidPlaylist) {
			kind = playlist_archiver.ErrListingNotFound
		}
		return playlist_archiver.Listing{}, &playlist_archiver.ListingError{Kind: kind, Err: err}
	}
	result := listingFromPlaylist(playlist)
	l.log.Infof("Finished fetching %q. Total videos found: %d", playlist.Title, result.TotalCount)
	return result, nil
}

func listingFromPlaylist(playlist *youtube.Playlist) playlist_archiver.Listing {
	result := playlist_archiver.Listing{Items: make([]playlist_archiver.DownloadRequest, 0, len(playlist.Videos))}
	for _, entry := range playlist.Videos {
		if entry == nil {
			continue
		}
		req := playlist_archiver.DownloadRequest{Title: entry.Title}
		if entry.ID != "" {
			req.SourceURL = listing.VideoURL(entry.ID)
		}
		result.Items = append(result.Items, req)
	}
	result.TotalCount = len(result.Items)
	return result
}
