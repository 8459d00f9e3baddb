package orchestrator

import (
	"strings"

	"github.com/soundspan/soundspan/internal/domain"
)

// matchStrategy is one named predicate of a matching cascade. Strategies
// run in declaration order with early exit, so the priority is explicit
// and tests can assert which strategy fired.
type matchStrategy struct {
	name  string
	match func(job *domain.DownloadJob) bool
}

// firstMatch evaluates strategies in priority order across the candidate
// set, returning the first hit and the strategy that produced it.
func firstMatch(jobs []*domain.DownloadJob, strategies []matchStrategy) (*domain.DownloadJob, string) {
	for _, s := range strategies {
		if s.match == nil {
			continue
		}
		for _, job := range jobs {
			if s.match(job) {
				return job, s.name
			}
		}
	}
	return nil, ""
}

// grabStrategies is the cascade for "download grabbed" webhooks, applied
// to active jobs that have no external ref yet.
func grabStrategies(ev GrabbedEvent) []matchStrategy {
	normArtist := domain.NormalizeKey(ev.ArtistName)
	normAlbum := domain.NormalizeKey(ev.AlbumTitle)
	eventKey := ""
	if normArtist != "" && normAlbum != "" {
		eventKey = domain.AlbumKey(ev.ArtistName, ev.AlbumTitle)
	}

	return []matchStrategy{
		{
			name: "target_mbid",
			match: func(j *domain.DownloadJob) bool {
				return ev.AlbumMBID != "" && j.TargetMBID == ev.AlbumMBID
			},
		},
		{
			name: "lidarr_mbid",
			match: func(j *domain.DownloadJob) bool {
				return ev.AlbumMBID != "" && j.Meta.LidarrMBID == ev.AlbumMBID
			},
		},
		{
			name: "lidarr_album_id",
			match: func(j *domain.DownloadJob) bool {
				return ev.LidarrAlbumID != 0 && j.LidarrAlbumID != nil && *j.LidarrAlbumID == ev.LidarrAlbumID
			},
		},
		{
			name: "normalized_name",
			match: func(j *domain.DownloadJob) bool {
				return eventKey != "" && j.AlbumKey() == eventKey
			},
		},
		{
			name: "subject_substring",
			match: func(j *domain.DownloadJob) bool {
				if normArtist == "" || normAlbum == "" {
					return false
				}
				subject := domain.NormalizeKey(j.Subject)
				return strings.Contains(subject, normArtist) && strings.Contains(subject, normAlbum)
			},
		},
	}
}

// completeStrategies is the cascade for "import complete" webhooks,
// applied to all active jobs. The previous-download-ids strategy covers
// external id churn across retries.
func completeStrategies(ev CompleteEvent) []matchStrategy {
	normArtist := domain.NormalizeKey(ev.ArtistName)
	normAlbum := domain.NormalizeKey(ev.AlbumTitle)
	eventKey := ""
	if normArtist != "" && normAlbum != "" {
		eventKey = domain.AlbumKey(ev.ArtistName, ev.AlbumTitle)
	}

	return []matchStrategy{
		{
			name: "lidarr_ref",
			match: func(j *domain.DownloadJob) bool {
				return ev.DownloadID != "" && j.LidarrRef != nil && *j.LidarrRef == ev.DownloadID
			},
		},
		{
			name: "lidarr_album_id",
			match: func(j *domain.DownloadJob) bool {
				return ev.LidarrAlbumID != nil && j.LidarrAlbumID != nil && *j.LidarrAlbumID == *ev.LidarrAlbumID
			},
		},
		{
			name: "previous_download_id",
			match: func(j *domain.DownloadJob) bool {
				if ev.DownloadID == "" {
					return false
				}
				for _, id := range j.Meta.PreviousDownloadIDs {
					if id == ev.DownloadID {
						return true
					}
				}
				return false
			},
		},
		{
			name: "target_mbid",
			match: func(j *domain.DownloadJob) bool {
				if ev.AlbumMBID == "" {
					return false
				}
				return j.TargetMBID == ev.AlbumMBID || j.Meta.LidarrMBID == ev.AlbumMBID
			},
		},
		{
			name: "normalized_name",
			match: func(j *domain.DownloadJob) bool {
				if eventKey != "" && j.AlbumKey() == eventKey {
					return true
				}
				if normArtist == "" || normAlbum == "" {
					return false
				}
				subject := domain.NormalizeKey(j.Subject)
				return strings.Contains(subject, normArtist) && strings.Contains(subject, normAlbum)
			},
		},
	}
}
