package acquisition

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/soundspan/soundspan/internal/constants"
)

var lidarrLogger = slog.Default().WithGroup("lidarr")

// LidarrClient talks to a Lidarr instance over its v1 API.
type LidarrClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewLidarrClient(baseURL, apiKey string) *LidarrClient {
	return &LidarrClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: constants.DefaultHTTPTimeout},
	}
}

type lidarrAlbum struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	ForeignAlbumID string `json:"foreignAlbumId"`
	AlbumType      string `json:"albumType"`
	Monitored      bool   `json:"monitored"`
	Statistics     struct {
		TrackFileCount int `json:"trackFileCount"`
		TrackCount     int `json:"trackCount"`
	} `json:"statistics"`
	Artist struct {
		ArtistName string `json:"artistName"`
	} `json:"artist"`
	Releases []struct {
		ID int64 `json:"id"`
	} `json:"releases"`
}

func (c *LidarrClient) AddAlbum(ctx context.Context, params AddAlbumParams) (*AddedAlbum, error) {
	tag := constants.TagLibrary
	if params.Discovery {
		tag = constants.TagDiscovery
	}

	body := map[string]interface{}{
		"foreignAlbumId": params.AlbumMBID,
		"monitored":      true,
		"artist": map[string]interface{}{
			"artistName":      params.ArtistName,
			"foreignArtistId": params.ArtistMBID,
			"rootFolderPath":  params.RootFolder,
			"monitored":       true,
		},
		"addOptions": map[string]interface{}{
			"searchForNewAlbum": true,
		},
		"tags": []string{tag},
	}

	var album lidarrAlbum
	if err := c.post(ctx, "/api/v1/album", body, &album); err != nil {
		return nil, err
	}

	if len(album.Releases) == 0 && !album.Monitored {
		return nil, NewError(ErrKindNoReleases, false,
			"no releases available for %s - %s", params.ArtistName, params.AlbumTitle)
	}

	return &AddedAlbum{ID: album.ID, ForeignAlbumID: album.ForeignAlbumID}, nil
}

func (c *LidarrClient) GetArtistAlbums(ctx context.Context, artistMBID string) ([]ArtistAlbum, error) {
	u := fmt.Sprintf("/api/v1/album?foreignArtistId=%s", url.QueryEscape(artistMBID))

	var albums []lidarrAlbum
	if err := c.get(ctx, u, &albums); err != nil {
		return nil, err
	}

	out := make([]ArtistAlbum, 0, len(albums))
	for _, a := range albums {
		out = append(out, ArtistAlbum{
			ID:             a.ID,
			Title:          a.Title,
			ForeignAlbumID: a.ForeignAlbumID,
			AlbumType:      a.AlbumType,
		})
	}
	return out, nil
}

type lidarrQueueRecord struct {
	DownloadID string  `json:"downloadId"`
	AlbumID    int64   `json:"albumId"`
	Title      string  `json:"title"`
	Status     string  `json:"status"`
	Size       float64 `json:"size"`
	SizeLeft   float64 `json:"sizeleft"`
	Album      struct {
		ForeignAlbumID string `json:"foreignAlbumId"`
		Title          string `json:"title"`
	} `json:"album"`
	Artist struct {
		ArtistName string `json:"artistName"`
	} `json:"artist"`
}

func (c *LidarrClient) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	var queueResp struct {
		Records []lidarrQueueRecord `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/queue?pageSize=1000&includeAlbum=true&includeArtist=true", &queueResp); err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	var albums []lidarrAlbum
	if err := c.get(ctx, "/api/v1/album", &albums); err != nil {
		return nil, fmt.Errorf("failed to read album catalog: %w", err)
	}

	queue := make([]QueueItem, 0, len(queueResp.Records))
	for _, r := range queueResp.Records {
		progress := 0.0
		if r.Size > 0 {
			progress = (r.Size - r.SizeLeft) / r.Size
		}
		queue = append(queue, QueueItem{
			DownloadID: r.DownloadID,
			AlbumID:    r.AlbumID,
			AlbumMBID:  r.Album.ForeignAlbumID,
			Title:      r.Title,
			ArtistName: r.Artist.ArtistName,
			Status:     r.Status,
			Progress:   progress,
		})
	}

	available := make([]AvailableAlbum, 0, len(albums))
	for _, a := range albums {
		if a.Statistics.TrackFileCount == 0 {
			continue
		}
		available = append(available, AvailableAlbum{
			MBID:   a.ForeignAlbumID,
			Artist: a.Artist.ArtistName,
			Album:  a.Title,
		})
	}

	snap := NewSnapshot(queue, available)
	lidarrLogger.Debug("Snapshot built", "queue", len(queue), "available", len(available))
	return snap, nil
}

func (c *LidarrClient) BlocklistAndSearch(ctx context.Context, downloadID string) error {
	var queueResp struct {
		Records []struct {
			ID         int64  `json:"id"`
			DownloadID string `json:"downloadId"`
		} `json:"records"`
	}
	if err := c.get(ctx, "/api/v1/queue?pageSize=1000", &queueResp); err != nil {
		return fmt.Errorf("failed to read queue: %w", err)
	}

	for _, r := range queueResp.Records {
		if r.DownloadID != downloadID {
			continue
		}
		// Remove from queue, add to blocklist, let Lidarr search again
		path := fmt.Sprintf("/api/v1/queue/%d?removeFromClient=true&blocklist=true&skipRedownload=false", r.ID)
		return c.delete(ctx, path)
	}
	return nil
}

func (c *LidarrClient) get(ctx context.Context, path string, target interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, target)
}

func (c *LidarrClient) post(ctx context.Context, path string, body, target interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, target)
}

func (c *LidarrClient) delete(ctx context.Context, path string) error {
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

func (c *LidarrClient) do(ctx context.Context, method, path string, body, target interface{}) error {
	lidarrLogger.Debug("API request", "method", method, "path", path)

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("X-Api-Key", c.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return NewError(ErrKindUnavailable, true, "acquisition request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(ErrKindAuth, false, "acquisition auth failure: %s", resp.Status)
	case resp.StatusCode == http.StatusNotFound:
		return NewError(ErrKindAlbumNotFound, false, "album not found: %s", resp.Status)
	case resp.StatusCode >= 500:
		return NewError(ErrKindUnavailable, true, "acquisition system unavailable: %s", resp.Status)
	case resp.StatusCode >= 400:
		return NewError(ErrKindUnknown, false, "acquisition request rejected: %s", resp.Status)
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
