package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// JobMeta is the structured replacement for the free-form attribute bag
// older builds stored per job. Shared counters and timestamps live in the
// envelope; type-specific context hangs off the variant matching
// DownloadType. Stored as a JSON column.
type JobMeta struct {
	ArtistName   string       `json:"artistName,omitempty"`
	AlbumTitle   string       `json:"albumTitle,omitempty"`
	DownloadType DownloadType `json:"downloadType,omitempty"`

	// Counters
	FailureCount   int `json:"failureCount,omitempty"`
	LidarrAttempts int `json:"lidarrAttempts,omitempty"`
	QueueSyncMiss  int `json:"queueSyncMissingCount,omitempty"`

	// Timestamps
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	LastFailureAt *time.Time `json:"lastFailureAt,omitempty"`

	NotificationSent bool `json:"notificationSent,omitempty"`

	// External-id churn: download ids seen on previous attempts, so a
	// completion webhook for an old id still matches this job.
	PreviousDownloadIDs []string `json:"previousDownloadIds,omitempty"`

	// LidarrMBID is the album MBID the acquisition system resolved the
	// request to, when it differs from the originally requested target.
	LidarrMBID string `json:"lidarrMbid,omitempty"`

	// Source marks direct-transfer downloads ("soulseek") that complete
	// synchronously and are exempt from the stale sweep.
	Source string `json:"source,omitempty"`

	// RetryWindowMinutes overrides the notification retry window; zero
	// means use the configured default.
	RetryWindowMinutes int `json:"retryWindowMinutes,omitempty"`

	NoFallback         bool   `json:"noFallback,omitempty"`
	SameArtistFallback bool   `json:"sameArtistFallback,omitempty"`
	OriginalJobID      string `json:"originalJobId,omitempty"`
	MergedWithJob      string `json:"mergedWithJob,omitempty"`
	QueueSyncCancelled bool   `json:"queueSyncCancelled,omitempty"`

	Discovery     *DiscoveryMeta     `json:"discovery,omitempty"`
	SpotifyImport *SpotifyImportMeta `json:"spotifyImport,omitempty"`
}

// DiscoveryMeta carries discovery-batch context supplied by the caller.
// These fields are caller-owned and must survive shallow merges.
type DiscoveryMeta struct {
	Tier       string  `json:"tier,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
}

// SpotifyImportMeta links a job to a playlist-import batch.
type SpotifyImportMeta struct {
	ImportJobID  string `json:"importJobId,omitempty"`
	PlaylistName string `json:"playlistName,omitempty"`
}

func (m JobMeta) Value() (driver.Value, error) {
	return json.Marshal(m)
}

func (m *JobMeta) Scan(value interface{}) error {
	if value == nil {
		*m = JobMeta{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return nil
	}

	if len(data) == 0 || string(data) == "null" {
		*m = JobMeta{}
		return nil
	}

	return json.Unmarshal(data, m)
}

// Merge overlays non-zero fields of other onto m without clobbering
// caller-supplied context, mirroring the shallow-merge semantics of the
// start path: counters and flags already present survive unless other
// explicitly carries a replacement.
func (m JobMeta) Merge(other JobMeta) JobMeta {
	out := m
	if other.ArtistName != "" {
		out.ArtistName = other.ArtistName
	}
	if other.AlbumTitle != "" {
		out.AlbumTitle = other.AlbumTitle
	}
	if other.DownloadType != "" {
		out.DownloadType = other.DownloadType
	}
	if other.FailureCount != 0 {
		out.FailureCount = other.FailureCount
	}
	if other.LidarrAttempts != 0 {
		out.LidarrAttempts = other.LidarrAttempts
	}
	if other.StartedAt != nil {
		out.StartedAt = other.StartedAt
	}
	if other.LastFailureAt != nil {
		out.LastFailureAt = other.LastFailureAt
	}
	if other.LidarrMBID != "" {
		out.LidarrMBID = other.LidarrMBID
	}
	if other.Source != "" {
		out.Source = other.Source
	}
	if other.RetryWindowMinutes != 0 {
		out.RetryWindowMinutes = other.RetryWindowMinutes
	}
	if other.NotificationSent {
		out.NotificationSent = true
	}
	if other.NoFallback {
		out.NoFallback = true
	}
	if other.SameArtistFallback {
		out.SameArtistFallback = true
	}
	if other.OriginalJobID != "" {
		out.OriginalJobID = other.OriginalJobID
	}
	if len(other.PreviousDownloadIDs) > 0 {
		out.PreviousDownloadIDs = other.PreviousDownloadIDs
	}
	if other.Discovery != nil {
		out.Discovery = other.Discovery
	}
	if other.SpotifyImport != nil {
		out.SpotifyImport = other.SpotifyImport
	}
	return out
}
