package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"localtube/internal/domain"
	"localtube/internal/ports"
)

// memStore is an in-memory ports.Store for orchestration tests.
type memStore struct {
	mu      sync.Mutex
	sources map[string]*domain.Source
	medias  map[string]*domain.Media
}

func newMemStore() *memStore {
	return &memStore{
		sources: map[string]*domain.Source{},
		medias:  map[string]*domain.Media{},
	}
}

func (s *memStore) CreateSource(_ context.Context, src *domain.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src.ID == "" {
		src.ID = uuid.NewString()
	}
	cp := *src
	s.sources[src.ID] = &cp
	return nil
}

func (s *memStore) GetSource(_ context.Context, id string) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: source %s", domain.ErrNotFound, id)
	}
	cp := *src
	return &cp, nil
}

func (s *memStore) ListSources(_ context.Context) ([]domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Source, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, *src)
	}
	return out, nil
}

func (s *memStore) UpdateSourceInfo(_ context.Context, id, name, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("%w: source %s", domain.ErrNotFound, id)
	}
	src.Name = name
	src.Provider = provider
	return nil
}

func (s *memStore) SetSourceRefreshed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return fmt.Errorf("%w: source %s", domain.ErrNotFound, id)
	}
	src.LastRefreshedAt = at
	return nil
}

func (s *memStore) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return fmt.Errorf("%w: source %s", domain.ErrNotFound, id)
	}
	delete(s.sources, id)
	for mid, m := range s.medias {
		if m.SourceID == id {
			delete(s.medias, mid)
		}
	}
	return nil
}

func (s *memStore) CreateMedia(_ context.Context, m *domain.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	cp := *m
	s.medias[m.ID] = &cp
	return nil
}

func (s *memStore) GetMedia(_ context.Context, id string) (*domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medias[id]
	if !ok {
		return nil, fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) FindMediaByExternalID(_ context.Context, sourceID, externalID string) (*domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.medias {
		if m.SourceID == sourceID && m.ExternalID == externalID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: media %s/%s", domain.ErrNotFound, sourceID, externalID)
}

func (s *memStore) FindMediaByPath(_ context.Context, path string) (*domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.medias {
		if m.MediaPath == path {
			cp := *m
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: media at %s", domain.ErrNotFound, path)
}

func (s *memStore) ListMedia(_ context.Context) ([]domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Media, 0, len(s.medias))
	for _, m := range s.medias {
		out = append(out, *m)
	}
	return out, nil
}

func (s *memStore) ListMediaBySource(_ context.Context, sourceID string) ([]domain.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Media
	for _, m := range s.medias {
		if m.SourceID == sourceID {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) UpdateMediaMetadata(_ context.Context, id string, meta domain.MediaMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medias[id]
	if !ok {
		return fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	m.Metadata = meta
	return nil
}

func (s *memStore) SetMediaDownloaded(_ context.Context, id, path string, meta domain.MediaMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medias[id]
	if !ok {
		return fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	m.DownloadState = domain.DownloadDone
	m.MediaPath = path
	m.Metadata = meta
	return nil
}

func (s *memStore) SetMediaState(_ context.Context, id string, state domain.DownloadState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medias[id]
	if !ok {
		return fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	m.DownloadState = state
	return nil
}

func (s *memStore) ClearMediaPath(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.medias[id]
	if !ok {
		return fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	m.MediaPath = ""
	m.DownloadState = domain.DownloadPending
	return nil
}

func (s *memStore) DeleteMedia(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.medias[id]; !ok {
		return fmt.Errorf("%w: media %s", domain.ErrNotFound, id)
	}
	delete(s.medias, id)
	return nil
}

func (s *memStore) Close() error { return nil }

// fakeDownloader is a scriptable ports.Downloader. Each hook may be nil, in
// which case a benign default is returned.
type fakeDownloader struct {
	mu         sync.Mutex
	fetchCalls int

	fetch   func(ctx context.Context, url string, opts ports.FetchOptions) (*ports.FetchResult, error)
	list    func(ctx context.Context, sourceURL string, sinceDays int) ([]ports.ListedItem, error)
	srcInfo func(ctx context.Context, sourceURL string) (*ports.SourceInfo, error)
}

func (d *fakeDownloader) FetchVideo(ctx context.Context, url string, opts ports.FetchOptions) (*ports.FetchResult, error) {
	d.mu.Lock()
	d.fetchCalls++
	d.mu.Unlock()
	if d.fetch != nil {
		return d.fetch(ctx, url, opts)
	}
	return &ports.FetchResult{FilePath: "other/video.mkv", Meta: domain.MediaMetadata{Title: "Video"}}, nil
}

func (d *fakeDownloader) ListItems(ctx context.Context, sourceURL string, sinceDays int) ([]ports.ListedItem, error) {
	if d.list != nil {
		return d.list(ctx, sourceURL, sinceDays)
	}
	return nil, nil
}

func (d *fakeDownloader) SourceInfo(ctx context.Context, sourceURL string) (*ports.SourceInfo, error) {
	if d.srcInfo != nil {
		return d.srcInfo(ctx, sourceURL)
	}
	return &ports.SourceInfo{Name: "Channel", Provider: "Youtube"}, nil
}

func (d *fakeDownloader) fetchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fetchCalls
}
