package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"localtube/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNewStore_CreatesDatabaseAndMigrates(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, filepath.Join(dir, "localtube.db"), store.Path())

	// reopening must be a no-op for migrations
	again, err := NewStore(dir)
	require.NoError(t, err)
	assert.NoError(t, again.Close())
}

func TestStore_SourceCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{
		URL:              "https://example.com/channel",
		FetchLastDays:    7,
		RefreshFrequency: 6,
		SponsorBlock:     "sponsor,intro",
	}
	require.NoError(t, store.CreateSource(ctx, &src))
	require.NotEmpty(t, src.ID)
	require.False(t, src.CreatedAt.IsZero())

	got, err := store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.URL, got.URL)
	assert.Equal(t, 7, got.FetchLastDays)
	assert.Equal(t, "sponsor,intro", got.SponsorBlock)
	assert.True(t, got.LastRefreshedAt.IsZero())

	require.NoError(t, store.UpdateSourceInfo(ctx, src.ID, "Channel", "Youtube"))
	got, err = store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "Channel", got.Name)
	assert.Equal(t, "Youtube", got.Provider)

	refreshedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SetSourceRefreshed(ctx, src.ID, refreshedAt))
	got, err = store.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, refreshedAt, got.LastRefreshedAt.UTC())

	list, err := store.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.DeleteSource(ctx, src.ID))
	_, err = store.GetSource(ctx, src.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_NotFoundOnMissingRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetSource(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.UpdateSourceInfo(ctx, "missing", "n", "p"), domain.ErrNotFound)
	assert.ErrorIs(t, store.DeleteSource(ctx, "missing"), domain.ErrNotFound)

	_, err = store.GetMedia(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.SetMediaState(ctx, "missing", domain.DownloadFailed), domain.ErrNotFound)
	assert.ErrorIs(t, store.DeleteMedia(ctx, "missing"), domain.ErrNotFound)
}

func TestStore_MediaLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{URL: "https://example.com/channel"}
	require.NoError(t, store.CreateSource(ctx, &src))

	m := domain.Media{
		SourceID:   src.ID,
		ExternalID: "v1",
		URL:        "https://example.com/v1",
		Metadata:   domain.MediaMetadata{Title: "One", Duration: 90},
	}
	require.NoError(t, store.CreateMedia(ctx, &m))
	require.NotEmpty(t, m.ID)

	got, err := store.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DownloadPending, got.DownloadState)
	assert.Equal(t, "One", got.Metadata.Title)
	assert.Equal(t, int64(90), got.Metadata.Duration)
	assert.Empty(t, got.MediaPath)

	meta := domain.MediaMetadata{Title: "One (remastered)", Duration: 95, Uploader: "Channel"}
	require.NoError(t, store.SetMediaDownloaded(ctx, m.ID, "Channel/v1.mkv", meta))
	got, err = store.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.True(t, got.Downloaded())
	assert.Equal(t, "Channel/v1.mkv", got.MediaPath)
	assert.Equal(t, "One (remastered)", got.Metadata.Title)

	byPath, err := store.FindMediaByPath(ctx, "Channel/v1.mkv")
	require.NoError(t, err)
	assert.Equal(t, m.ID, byPath.ID)

	require.NoError(t, store.ClearMediaPath(ctx, m.ID))
	got, err = store.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MediaPath)
	assert.Equal(t, domain.DownloadPending, got.DownloadState)

	require.NoError(t, store.UpdateMediaMetadata(ctx, m.ID, domain.MediaMetadata{Title: "Renamed"}))
	got, err = store.GetMedia(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Metadata.Title)

	require.NoError(t, store.DeleteMedia(ctx, m.ID))
	_, err = store.GetMedia(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_FindMediaByExternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{URL: "https://example.com/channel"}
	require.NoError(t, store.CreateSource(ctx, &src))

	channelMedia := domain.Media{SourceID: src.ID, ExternalID: "v1", URL: "https://example.com/v1"}
	require.NoError(t, store.CreateMedia(ctx, &channelMedia))

	// the same external id without a source is a distinct standalone record
	standalone := domain.Media{ExternalID: "v1", URL: "https://example.com/v1"}
	require.NoError(t, store.CreateMedia(ctx, &standalone))

	got, err := store.FindMediaByExternalID(ctx, src.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, channelMedia.ID, got.ID)

	got, err = store.FindMediaByExternalID(ctx, "", "v1")
	require.NoError(t, err)
	assert.Equal(t, standalone.ID, got.ID)

	_, err = store.FindMediaByExternalID(ctx, src.ID, "v2")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStore_DuplicateExternalIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{URL: "https://example.com/channel"}
	require.NoError(t, store.CreateSource(ctx, &src))

	first := domain.Media{SourceID: src.ID, ExternalID: "v1", URL: "https://example.com/v1"}
	require.NoError(t, store.CreateMedia(ctx, &first))

	dup := domain.Media{SourceID: src.ID, ExternalID: "v1", URL: "https://example.com/v1"}
	assert.Error(t, store.CreateMedia(ctx, &dup))
}

func TestStore_DeleteSourceCascadesToMedia(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	src := domain.Source{URL: "https://example.com/channel"}
	require.NoError(t, store.CreateSource(ctx, &src))
	m := domain.Media{SourceID: src.ID, ExternalID: "v1", URL: "https://example.com/v1"}
	require.NoError(t, store.CreateMedia(ctx, &m))
	standalone := domain.Media{ExternalID: "s1", URL: "https://example.com/s1"}
	require.NoError(t, store.CreateMedia(ctx, &standalone))

	require.NoError(t, store.DeleteSource(ctx, src.ID))

	_, err := store.GetMedia(ctx, m.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = store.GetMedia(ctx, standalone.ID)
	assert.NoError(t, err)
}

func TestStore_ListMediaBySource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := domain.Source{URL: "https://example.com/a"}
	b := domain.Source{URL: "https://example.com/b"}
	require.NoError(t, store.CreateSource(ctx, &a))
	require.NoError(t, store.CreateSource(ctx, &b))

	for i, srcID := range []string{a.ID, a.ID, b.ID} {
		m := domain.Media{
			SourceID:   srcID,
			ExternalID: string(rune('x' + i)),
			URL:        "https://example.com/v",
		}
		require.NoError(t, store.CreateMedia(ctx, &m))
	}

	forA, err := store.ListMediaBySource(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, forA, 2)

	all, err := store.ListMedia(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
