package musicbrainz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchArtist(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") != "json" {
			t.Errorf("Expected fmt=json, got %s", r.URL.RawQuery)
		}
		if ua := r.Header.Get("User-Agent"); ua != DefaultUserAgent {
			t.Errorf("Expected user agent %q, got %q", DefaultUserAgent, ua)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"artists":[{"id":"mbid-radiohead","name":"Radiohead","score":100}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	mbid, err := c.SearchArtist(context.Background(), "Radiohead")
	if err != nil {
		t.Fatalf("SearchArtist failed: %v", err)
	}
	if mbid != "mbid-radiohead" {
		t.Errorf("Expected mbid-radiohead, got %q", mbid)
	}
}

func TestSearchArtistNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"artists":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	mbid, err := c.SearchArtist(context.Background(), "Nobody At All")
	if err != nil {
		t.Fatalf("SearchArtist failed: %v", err)
	}
	if mbid != "" {
		t.Errorf("Expected empty mbid, got %q", mbid)
	}
}

func TestSearchArtistEmptyName(t *testing.T) {
	c := NewClient("http://unused")
	mbid, err := c.SearchArtist(context.Background(), "")
	if err != nil {
		t.Fatalf("SearchArtist failed: %v", err)
	}
	if mbid != "" {
		t.Error("Expected empty result for empty name without a request")
	}
}

func TestSearchArtistServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.SearchArtist(context.Background(), "Radiohead"); err == nil {
		t.Error("Expected error from server failure")
	}
}
