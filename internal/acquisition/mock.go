package acquisition

import (
	"context"
	"sync"
)

// MockClient is a hand-rolled test double for the acquisition boundary.
// Configure the function fields to script behavior; calls are recorded.
type MockClient struct {
	mu sync.Mutex

	AddAlbumFunc        func(ctx context.Context, params AddAlbumParams) (*AddedAlbum, error)
	GetArtistAlbumsFunc func(ctx context.Context, artistMBID string) ([]ArtistAlbum, error)
	GetSnapshotFunc     func(ctx context.Context) (*Snapshot, error)
	BlocklistFunc       func(ctx context.Context, downloadID string) error

	AddAlbumCalls    []AddAlbumParams
	BlocklistedIDs   []string
	ArtistListCalls  []string
	SnapshotRequests int
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) AddAlbum(ctx context.Context, params AddAlbumParams) (*AddedAlbum, error) {
	m.mu.Lock()
	m.AddAlbumCalls = append(m.AddAlbumCalls, params)
	m.mu.Unlock()
	if m.AddAlbumFunc != nil {
		return m.AddAlbumFunc(ctx, params)
	}
	return &AddedAlbum{ID: int64(len(m.AddAlbumCalls)), ForeignAlbumID: params.AlbumMBID}, nil
}

func (m *MockClient) GetArtistAlbums(ctx context.Context, artistMBID string) ([]ArtistAlbum, error) {
	m.mu.Lock()
	m.ArtistListCalls = append(m.ArtistListCalls, artistMBID)
	m.mu.Unlock()
	if m.GetArtistAlbumsFunc != nil {
		return m.GetArtistAlbumsFunc(ctx, artistMBID)
	}
	return nil, nil
}

func (m *MockClient) GetSnapshot(ctx context.Context) (*Snapshot, error) {
	m.mu.Lock()
	m.SnapshotRequests++
	m.mu.Unlock()
	if m.GetSnapshotFunc != nil {
		return m.GetSnapshotFunc(ctx)
	}
	return NewSnapshot(nil, nil), nil
}

func (m *MockClient) BlocklistAndSearch(ctx context.Context, downloadID string) error {
	m.mu.Lock()
	m.BlocklistedIDs = append(m.BlocklistedIDs, downloadID)
	m.mu.Unlock()
	if m.BlocklistFunc != nil {
		return m.BlocklistFunc(ctx, downloadID)
	}
	return nil
}
