package acquisition

import (
	"strings"
	"time"

	"github.com/soundspan/soundspan/internal/domain"
)

// QueueItem is one entry of the acquisition system's download queue.
type QueueItem struct {
	DownloadID string
	AlbumID    int64
	AlbumMBID  string
	Title      string
	ArtistName string
	Status     string
	Progress   float64
}

// downloading statuses that count as "actively progressing"
var activeQueueStatuses = map[string]bool{
	"queued":      true,
	"downloading": true,
	"delay":       true,
	"paused":      true,
	"importing":   true,
}

// Active reports whether the queue item is still progressing toward an
// import, as opposed to failed, warning or stalled states.
func (q QueueItem) Active() bool {
	return activeQueueStatuses[strings.ToLower(q.Status)]
}

// Snapshot is a point-in-time index over the acquisition system's queue
// and available catalog. Build once, share across many job checks.
type Snapshot struct {
	TakenAt time.Time

	queue           map[string]QueueItem
	availableByMBID map[string]struct{}
	availableByKey  map[string]struct{}
}

// AvailableAlbum is one album the acquisition system already has on disk.
type AvailableAlbum struct {
	MBID   string
	Artist string
	Album  string
}

// NewSnapshot indexes the given queue and catalog state.
func NewSnapshot(queue []QueueItem, available []AvailableAlbum) *Snapshot {
	s := &Snapshot{
		TakenAt:         time.Now().UTC(),
		queue:           make(map[string]QueueItem, len(queue)),
		availableByMBID: make(map[string]struct{}, len(available)),
		availableByKey:  make(map[string]struct{}, len(available)),
	}
	for _, item := range queue {
		s.queue[item.DownloadID] = item
	}
	for _, a := range available {
		if a.MBID != "" {
			s.availableByMBID[a.MBID] = struct{}{}
		}
		if a.Artist != "" && a.Album != "" {
			s.availableByKey[domain.AlbumKey(a.Artist, a.Album)] = struct{}{}
		}
	}
	return s
}

// AlbumAvailable checks availability by MBID first, then by normalized
// artist+album name. All lookups are O(1).
func (s *Snapshot) AlbumAvailable(mbid, artist, album string) bool {
	if s == nil {
		return false
	}
	if mbid != "" {
		if _, ok := s.availableByMBID[mbid]; ok {
			return true
		}
	}
	if artist != "" && album != "" {
		if _, ok := s.availableByKey[domain.AlbumKey(artist, album)]; ok {
			return true
		}
	}
	return false
}

// Activity describes the state of one external download in the snapshot.
type Activity struct {
	Present  bool
	Active   bool
	Progress float64
}

// DownloadActivity reports whether the given external id is still in the
// queue and progressing.
func (s *Snapshot) DownloadActivity(downloadID string) Activity {
	if s == nil || downloadID == "" {
		return Activity{}
	}
	item, ok := s.queue[downloadID]
	if !ok {
		return Activity{}
	}
	return Activity{Present: true, Active: item.Active(), Progress: item.Progress}
}

// InQueue reports queue membership without interpreting status.
func (s *Snapshot) InQueue(downloadID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.queue[downloadID]
	return ok
}

// FindReplacement scans the queue for a different download whose title
// mentions both the album and the artist, used when the acquisition system
// silently swaps one release for another.
func (s *Snapshot) FindReplacement(artist, album string, exclude map[string]bool) (QueueItem, bool) {
	if s == nil || artist == "" || album == "" {
		return QueueItem{}, false
	}
	wantArtist := domain.NormalizeKey(artist)
	wantAlbum := domain.NormalizeKey(album)
	for id, item := range s.queue {
		if exclude[id] {
			continue
		}
		title := domain.NormalizeKey(item.Title)
		itemArtist := domain.NormalizeKey(item.ArtistName)
		if strings.Contains(title, wantAlbum) &&
			(strings.Contains(title, wantArtist) || itemArtist == wantArtist) {
			return item, true
		}
	}
	return QueueItem{}, false
}

// QueueSize returns the number of queue entries in the snapshot.
func (s *Snapshot) QueueSize() int {
	if s == nil {
		return 0
	}
	return len(s.queue)
}
