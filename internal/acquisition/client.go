// Package acquisition defines the boundary to the external download
// pipeline (an indexer/download-client stack such as Lidarr). The
// orchestrator only ever talks to it through the Client interface and the
// point-in-time Snapshot it produces.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// AddAlbumParams describes an album submission.
type AddAlbumParams struct {
	AlbumMBID  string
	ArtistName string
	AlbumTitle string
	RootFolder string
	ArtistMBID string
	Discovery  bool
}

// AddedAlbum is the acquisition system's acknowledgement of a submission.
type AddedAlbum struct {
	ID             int64  `json:"id"`
	ForeignAlbumID string `json:"foreignAlbumId"`
}

// ArtistAlbum is one release the acquisition system knows for an artist.
type ArtistAlbum struct {
	ID             int64  `json:"id"`
	Title          string `json:"title"`
	ForeignAlbumID string `json:"foreignAlbumId"`
	AlbumType      string `json:"albumType"`
}

// Client is the narrow interface the orchestrator requires. All calls use
// bounded timeouts; retries are expressed through the job state machine,
// never here.
type Client interface {
	// AddAlbum submits an album for acquisition and triggers a search.
	AddAlbum(ctx context.Context, params AddAlbumParams) (*AddedAlbum, error)

	// GetArtistAlbums lists the releases known for an artist.
	GetArtistAlbums(ctx context.Context, artistMBID string) ([]ArtistAlbum, error)

	// GetSnapshot builds a point-in-time index of the download queue and
	// available catalog, reused for O(1) lookups across many jobs.
	GetSnapshot(ctx context.Context) (*Snapshot, error)

	// BlocklistAndSearch marks a failed release so the acquisition system
	// skips it and searches for an alternative.
	BlocklistAndSearch(ctx context.Context, downloadID string) error
}

// ErrorKind classifies typed acquisition errors.
type ErrorKind string

const (
	ErrKindNoReleases    ErrorKind = "no_releases"
	ErrKindAlbumNotFound ErrorKind = "album_not_found"
	ErrKindAuth          ErrorKind = "auth"
	ErrKindUnavailable   ErrorKind = "unavailable"
	ErrKindUnknown       ErrorKind = "unknown"
)

// Error is a typed acquisition failure. Kind and Recoverable are
// propagated verbatim to callers of the start path.
type Error struct {
	Kind        ErrorKind
	Recoverable bool
	Message     string
}

func (e *Error) Error() string {
	return e.Message
}

func NewError(kind ErrorKind, recoverable bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Recoverable: recoverable, Message: fmt.Sprintf(format, args...)}
}

// IsNoReleases reports whether err means the acquisition system found the
// album but has no obtainable release for it. Checks the typed kind first,
// then falls back to message matching for plain errors.
func IsNoReleases(err error) bool {
	if err == nil {
		return false
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind == ErrKindNoReleases
	}
	return strings.Contains(strings.ToLower(err.Error()), "no releases available")
}

// IsAlbumNotFound reports whether err means the album is unknown to the
// acquisition system's catalog.
func IsAlbumNotFound(err error) bool {
	if err == nil {
		return false
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind == ErrKindAlbumNotFound
	}
	return strings.Contains(strings.ToLower(err.Error()), "album not found")
}
