// Package musicbrainz resolves artist identifiers against the MusicBrainz
// web service. Lookups are best-effort; the orchestrator tolerates
// failures here.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/soundspan/soundspan/internal/httpclient"
)

const (
	DefaultUserAgent = "soundspan/1.0 (https://github.com/soundspan/soundspan)"
	requestTimeout   = 10 * time.Second

	// MusicBrainz allows one request per second; stay just under it.
	minRequestInterval = 1050 * time.Millisecond
)

type Client struct {
	httpClient *httpclient.Client
	baseURL    string
	userAgent  string
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		userAgent:  DefaultUserAgent,
		httpClient: httpclient.New(requestTimeout, minRequestInterval),
	}
}

type artistSearchResponse struct {
	Artists []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Score int    `json:"score"`
	} `json:"artists"`
}

// SearchArtist returns the MBID of the best-scoring artist for the given
// name, or empty when nothing matches.
func (c *Client) SearchArtist(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", nil
	}

	u := fmt.Sprintf("%s/artist?query=artist:%s&fmt=json&limit=1", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("musicbrainz search failed: %s", resp.Status)
	}

	var result artistSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.Artists) == 0 {
		return "", nil
	}
	return result.Artists[0].ID, nil
}
