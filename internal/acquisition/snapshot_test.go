package acquisition

import (
	"errors"
	"testing"
)

func TestSnapshotAlbumAvailable(t *testing.T) {
	snap := NewSnapshot(nil, []AvailableAlbum{
		{MBID: "mbid-1", Artist: "Artist", Album: "Album"},
		{Artist: "Name Only", Album: "No MBID"},
	})

	if !snap.AlbumAvailable("mbid-1", "", "") {
		t.Error("Expected availability by MBID")
	}
	if !snap.AlbumAvailable("", "artist", "ALBUM") {
		t.Error("Expected availability by normalized name")
	}
	if !snap.AlbumAvailable("", "name only", "no  mbid") {
		t.Error("Expected availability for entry without MBID")
	}
	if snap.AlbumAvailable("other", "x", "y") {
		t.Error("Expected miss for unknown album")
	}

	var nilSnap *Snapshot
	if nilSnap.AlbumAvailable("mbid-1", "", "") {
		t.Error("Expected nil snapshot to report unavailable")
	}
}

func TestSnapshotDownloadActivity(t *testing.T) {
	snap := NewSnapshot([]QueueItem{
		{DownloadID: "dl-1", Status: "downloading", Progress: 0.4},
		{DownloadID: "dl-2", Status: "failed"},
	}, nil)

	act := snap.DownloadActivity("dl-1")
	if !act.Present || !act.Active || act.Progress != 0.4 {
		t.Errorf("Unexpected activity: %+v", act)
	}

	act = snap.DownloadActivity("dl-2")
	if !act.Present || act.Active {
		t.Errorf("Expected present but inactive, got %+v", act)
	}

	act = snap.DownloadActivity("dl-3")
	if act.Present {
		t.Error("Expected missing download to be absent")
	}

	if !snap.InQueue("dl-2") || snap.InQueue("dl-3") {
		t.Error("InQueue membership wrong")
	}
}

func TestSnapshotFindReplacement(t *testing.T) {
	snap := NewSnapshot([]QueueItem{
		{DownloadID: "dl-old", Title: "Artist - Album [FLAC]", ArtistName: "Artist", Status: "downloading"},
		{DownloadID: "dl-new", Title: "Artist - Album (Deluxe) [320]", ArtistName: "Artist", Status: "queued"},
		{DownloadID: "dl-other", Title: "Someone Else - Other Album", ArtistName: "Someone Else", Status: "queued"},
	}, nil)

	item, ok := snap.FindReplacement("Artist", "Album", map[string]bool{"dl-old": true})
	if !ok {
		t.Fatal("Expected a replacement match")
	}
	if item.DownloadID != "dl-new" {
		t.Errorf("Expected dl-new, got %s", item.DownloadID)
	}

	if _, ok := snap.FindReplacement("Nobody", "Nothing", nil); ok {
		t.Error("Expected no replacement for unknown album")
	}
}

func TestErrorClassificationHelpers(t *testing.T) {
	typed := NewError(ErrKindNoReleases, false, "nothing obtainable")
	if !IsNoReleases(typed) {
		t.Error("Expected typed no-releases error to classify")
	}
	if IsAlbumNotFound(typed) {
		t.Error("Typed no-releases error should not classify as not-found")
	}

	plain := errors.New("add failed: No releases available for album")
	if !IsNoReleases(plain) {
		t.Error("Expected message matching for plain errors")
	}

	notFound := NewError(ErrKindAlbumNotFound, false, "no such album")
	if !IsAlbumNotFound(notFound) {
		t.Error("Expected typed not-found error to classify")
	}
	if !IsAlbumNotFound(errors.New("lookup: album not found in catalog")) {
		t.Error("Expected message matching for plain not-found errors")
	}

	if IsNoReleases(nil) || IsAlbumNotFound(nil) {
		t.Error("nil must not classify")
	}

	// wrapped typed errors still classify via errors.As
	wrapped := errors.Join(errors.New("context"), typed)
	if !IsNoReleases(wrapped) {
		t.Error("Expected wrapped typed error to classify")
	}
}
