package domain

import (
	"fmt"
	"strings"
	"time"
)

type JobType string

const (
	JobTypeArtist JobType = "artist"
	JobTypeAlbum  JobType = "album"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusExhausted  JobStatus = "exhausted"
)

// ActiveStatuses are the statuses of jobs still consuming acquisition resources.
var ActiveStatuses = []JobStatus{JobStatusPending, JobStatusProcessing}

// IsTerminal reports whether a job in this status can no longer change state
// on its own. Exhausted is terminal for the job itself; its target is handed
// off to a replacement job.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusExhausted
}

// IsActive reports whether a job in this status is still being driven.
func (s JobStatus) IsActive() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

type DownloadType string

const (
	DownloadTypeLibrary       DownloadType = "library"
	DownloadTypeDiscovery     DownloadType = "discovery"
	DownloadTypeSpotifyImport DownloadType = "spotify_import"
)

// DownloadJob is the persisted record the orchestrator drives to a terminal
// state. External identifiers (LidarrRef, LidarrAlbumID) are nil until the
// acquisition system acknowledges the job, and LidarrRef is cleared and
// reassigned across retries.
type DownloadJob struct {
	ID               string     `json:"id" db:"id"`
	UserID           string     `json:"user_id" db:"user_id"`
	Subject          string     `json:"subject" db:"subject"`
	Type             JobType    `json:"type" db:"type"`
	Status           JobStatus  `json:"status" db:"status"`
	TargetMBID       string     `json:"target_mbid" db:"target_mbid"`
	ArtistMBID       string     `json:"artist_mbid" db:"artist_mbid"`
	CorrelationID    string     `json:"correlation_id" db:"correlation_id"`
	LidarrRef        *string    `json:"lidarr_ref,omitempty" db:"lidarr_ref"`
	LidarrAlbumID    *int64     `json:"lidarr_album_id,omitempty" db:"lidarr_album_id"`
	DiscoveryBatchID *string    `json:"discovery_batch_id,omitempty" db:"discovery_batch_id"`
	Meta             JobMeta    `json:"metadata" db:"metadata"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Error            *string    `json:"error,omitempty" db:"error"`
}

// Subject builds the human-readable "{artist} - {album}" display key.
func BuildSubject(artist, album string) string {
	return fmt.Sprintf("%s - %s", artist, album)
}

// ParseSubject splits a "{artist} - {album}" subject back into its parts.
// The first " - " wins; artists with dashes in their names survive as long
// as the separator is padded.
func ParseSubject(subject string) (artist, album string, ok bool) {
	parts := strings.SplitN(subject, " - ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	artist = strings.TrimSpace(parts[0])
	album = strings.TrimSpace(parts[1])
	return artist, album, artist != "" && album != ""
}

// NormalizeKey lowercases and collapses whitespace so that
// "The  Artist" and "the artist " compare equal.
func NormalizeKey(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// AlbumKey returns the normalized "artist|album" identity of a logical album.
func AlbumKey(artist, album string) string {
	return NormalizeKey(artist) + "|" + NormalizeKey(album)
}

// AlbumKey resolves the job's logical-album identity from structured
// metadata when present, falling back to parsing the subject.
func (j *DownloadJob) AlbumKey() string {
	artist, album := j.ArtistAlbum()
	if artist == "" && album == "" {
		return ""
	}
	return AlbumKey(artist, album)
}

// ArtistAlbum returns the job's artist and album names, preferring
// structured metadata over the subject string.
func (j *DownloadJob) ArtistAlbum() (artist, album string) {
	if j.Meta.ArtistName != "" || j.Meta.AlbumTitle != "" {
		return j.Meta.ArtistName, j.Meta.AlbumTitle
	}
	if a, b, ok := ParseSubject(j.Subject); ok {
		return a, b
	}
	return "", ""
}

// HasLidarrRef reports whether the acquisition system has acknowledged this
// job with a download id.
func (j *DownloadJob) HasLidarrRef() bool {
	return j.LidarrRef != nil && *j.LidarrRef != ""
}

// FallbackAllowed reports whether the same-artist fallback cascade may run
// for this job. Discovery-batch jobs are excluded for diversity; spotify
// imports carry an exact-match contract.
func (j *DownloadJob) FallbackAllowed() bool {
	if j.DiscoveryBatchID != nil && *j.DiscoveryBatchID != "" {
		return false
	}
	if j.Meta.SpotifyImport != nil && j.Meta.SpotifyImport.ImportJobID != "" {
		return false
	}
	if j.Meta.DownloadType == DownloadTypeSpotifyImport || j.Meta.NoFallback {
		return false
	}
	return true
}
