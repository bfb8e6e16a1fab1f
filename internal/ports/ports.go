package ports

import (
	"context"
	"time"

	"localtube/internal/domain"
)

// ListedItem is one entry of a source listing.
type ListedItem struct {
	ExternalID  string
	URL         string
	PublishedAt time.Time
	Meta        domain.MediaMetadata
}

// SourceInfo describes a source as reported by the downloader.
type SourceInfo struct {
	Name     string
	Provider string
	Items    int64
}

// FetchOptions control a single video fetch.
type FetchOptions struct {
	SponsorBlock domain.SponsorBlockCategories
	// SubDir is the directory under the media root to place the file in.
	SubDir string
}

// FetchResult is a completed video fetch.
type FetchResult struct {
	// FilePath is relative to the media root.
	FilePath string
	Meta     domain.MediaMetadata
}

// Downloader fetches media and source listings from external platforms.
// Errors wrap domain.ErrTransient or domain.ErrPermanent for classification.
type Downloader interface {
	FetchVideo(ctx context.Context, url string, opts FetchOptions) (*FetchResult, error)
	ListItems(ctx context.Context, sourceURL string, sinceDays int) ([]ListedItem, error)
	SourceInfo(ctx context.Context, sourceURL string) (*SourceInfo, error)
}

// Store is the persistence gateway for Source and Media records.
type Store interface {
	CreateSource(ctx context.Context, s *domain.Source) error
	GetSource(ctx context.Context, id string) (*domain.Source, error)
	ListSources(ctx context.Context) ([]domain.Source, error)
	UpdateSourceInfo(ctx context.Context, id, name, provider string) error
	SetSourceRefreshed(ctx context.Context, id string, at time.Time) error
	DeleteSource(ctx context.Context, id string) error

	CreateMedia(ctx context.Context, m *domain.Media) error
	GetMedia(ctx context.Context, id string) (*domain.Media, error)
	FindMediaByExternalID(ctx context.Context, sourceID, externalID string) (*domain.Media, error)
	FindMediaByPath(ctx context.Context, path string) (*domain.Media, error)
	ListMedia(ctx context.Context) ([]domain.Media, error)
	ListMediaBySource(ctx context.Context, sourceID string) ([]domain.Media, error)
	UpdateMediaMetadata(ctx context.Context, id string, meta domain.MediaMetadata) error
	SetMediaDownloaded(ctx context.Context, id, path string, meta domain.MediaMetadata) error
	SetMediaState(ctx context.Context, id string, state domain.DownloadState) error
	ClearMediaPath(ctx context.Context, id string) error
	DeleteMedia(ctx context.Context, id string) error

	Close() error
}
