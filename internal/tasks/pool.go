package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"localtube/internal/domain"
	"localtube/internal/ports"
)

// Pool executes tasks on a bounded set of slots. All task state mutation
// during execution goes through the registry from the goroutine that owns
// the task.
type Pool struct {
	reg      *Registry
	store    ports.Store
	dl       ports.Downloader
	policy   Policy
	slots    chan struct{}
	timeout  time.Duration
	mediaDir string
	now      func() time.Time
	log      zerolog.Logger

	mu      sync.Mutex
	running map[string]runningTask
	wg      sync.WaitGroup
}

type runningTask struct {
	target string
	cancel context.CancelFunc
}

func NewPool(reg *Registry, store ports.Store, dl ports.Downloader, policy Policy, timeout time.Duration, mediaDir string, now func() time.Time, log zerolog.Logger) *Pool {
	if now == nil {
		now = time.Now
	}
	size := policy.MaxConcurrency
	if size < 1 {
		size = 1
	}
	return &Pool{
		reg:      reg,
		store:    store,
		dl:       dl,
		policy:   policy,
		slots:    make(chan struct{}, size),
		timeout:  timeout,
		mediaDir: mediaDir,
		now:      now,
		log:      log,
		running:  map[string]runningTask{},
	}
}

// Dispatch claims a slot and runs the task on it. Returns false when no slot
// is free; the task stays Pending for a later tick.
func (p *Pool) Dispatch(ctx context.Context, t domain.Task) bool {
	select {
	case p.slots <- struct{}{}:
	default:
		return false
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		p.run(ctx, t)
	}()
	return true
}

// CancelTarget cancels every live task acting on targetRef: queued ones fail
// immediately, running ones have their context cancelled and fail on their
// own execution path.
func (p *Pool) CancelTarget(targetRef string) {
	for _, t := range p.reg.LiveForTarget(targetRef) {
		if t.State == domain.StatePending {
			p.reg.Fail(t.ID, "task cancelled")
		}
	}
	p.mu.Lock()
	for _, rt := range p.running {
		if rt.target == targetRef {
			rt.cancel()
		}
	}
	p.mu.Unlock()
}

// Wait blocks until all in-flight executions have returned their slots.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, t domain.Task) {
	cur, ok := p.reg.Start(t.ID)
	if !ok {
		// cancelled or swept while queued
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	p.track(cur.ID, cur.TargetRef, cancel)
	defer p.untrack(cur.ID)

	log := p.log.With().
		Str("task", cur.ID).
		Str("kind", string(cur.Kind)).
		Str("target", cur.TargetRef).
		Int("attempt", cur.Attempts).
		Logger()

	err := p.execute(runCtx, cur)
	if err == nil {
		p.reg.Complete(cur.ID)
		log.Info().Msg("task completed")
		return
	}

	class := domain.Classify(err)
	msg := err.Error()
	if class == domain.ClassCancelled {
		msg = "task cancelled"
	}
	p.reg.Fail(cur.ID, msg)
	log.Warn().Err(err).Str("class", class.String()).Msg("task failed")

	if p.policy.ShouldRetry(class, cur.Attempts) {
		delay := p.policy.RetryDelay(cur.Attempts)
		if _, rerr := p.reg.Requeue(cur, delay); rerr != nil {
			log.Debug().Err(rerr).Msg("retry not enqueued")
		} else {
			log.Info().Dur("delay", delay).Msg("retry scheduled")
		}
	}
}

// execute dispatches by kind. Panics from the adapter are converted to
// transient failures so the slot is reclaimed and the task ends terminal.
func (p *Pool) execute(ctx context.Context, t domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: execution panic: %v", domain.ErrTransient, r)
		}
	}()
	switch t.Kind {
	case domain.KindDownloadVideo:
		return p.runDownload(ctx, t)
	case domain.KindRefreshSource:
		return p.runRefresh(ctx, t)
	default:
		return fmt.Errorf("%w: unknown task kind %q", domain.ErrPermanent, t.Kind)
	}
}

func (p *Pool) runDownload(ctx context.Context, t domain.Task) error {
	media, err := p.store.GetMedia(ctx, t.TargetRef)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: media %s no longer exists", domain.ErrPermanent, t.TargetRef)
	}
	if err != nil {
		return fmt.Errorf("%w: loading media: %v", domain.ErrTransient, err)
	}
	if media.Downloaded() {
		return nil
	}

	opts := ports.FetchOptions{SubDir: "other"}
	if media.SourceID != "" {
		src, err := p.store.GetSource(ctx, media.SourceID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: source of media %s was deleted", domain.ErrPermanent, media.ID)
		}
		if err != nil {
			return fmt.Errorf("%w: loading source: %v", domain.ErrTransient, err)
		}
		opts.SponsorBlock = src.SponsorBlockCategories()
		opts.SubDir = sanitizeDirName(src.DisplayName())
	}

	p.reg.SetStatusMessage(t.ID, "Downloading...")
	res, err := p.dl.FetchVideo(ctx, media.URL, opts)
	if err != nil {
		if domain.Classify(err) == domain.ClassPermanent {
			// bookkeeping must survive a dead task context
			_ = p.store.SetMediaState(context.WithoutCancel(ctx), media.ID, domain.DownloadFailed)
		}
		return err
	}

	if err := p.store.SetMediaDownloaded(ctx, media.ID, res.FilePath, res.Meta); err != nil {
		return fmt.Errorf("%w: recording download: %v", domain.ErrTransient, err)
	}
	if res.Meta.Title != "" {
		p.reg.SetTitle(t.ID, res.Meta.Title)
	}
	return nil
}

func (p *Pool) runRefresh(ctx context.Context, t domain.Task) error {
	src, err := p.store.GetSource(ctx, t.TargetRef)
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: source %s no longer exists", domain.ErrPermanent, t.TargetRef)
	}
	if err != nil {
		return fmt.Errorf("%w: loading source: %v", domain.ErrTransient, err)
	}

	p.reg.SetStatusMessage(t.ID, "Fetching source info...")
	info, err := p.dl.SourceInfo(ctx, src.URL)
	if err != nil {
		return err
	}
	if err := p.store.UpdateSourceInfo(ctx, src.ID, info.Name, info.Provider); err != nil {
		return fmt.Errorf("%w: updating source info: %v", domain.ErrTransient, err)
	}
	if info.Name != "" {
		p.reg.SetTitle(t.ID, "Refreshing "+info.Name)
	}

	p.reg.SetStatusMessage(t.ID, "Fetching item list...")
	items, err := p.dl.ListItems(ctx, src.URL, src.FetchLastDays)
	if err != nil {
		return err
	}

	cutoff := p.now().AddDate(0, 0, -src.FetchLastDays).Unix()
	for i, item := range items {
		if item.Meta.Timestamp != 0 && item.Meta.Timestamp < cutoff {
			continue
		}
		p.reg.SetStatusMessage(t.ID, fmt.Sprintf("Processing item %d (%s)", i+1, item.Meta.Title))
		if err := p.reconcileItem(ctx, src, item); err != nil {
			return err
		}
	}

	p.reg.SetStatusMessage(t.ID, "Cleaning up old items...")
	if err := p.pruneOldMedia(ctx, src, cutoff); err != nil {
		return err
	}

	if err := p.store.SetSourceRefreshed(ctx, src.ID, p.now()); err != nil {
		return fmt.Errorf("%w: recording refresh time: %v", domain.ErrTransient, err)
	}
	return nil
}

// reconcileItem upserts one listed item and spawns a download task when the
// item has no local file yet. Spawning happens before the refresh task
// completes, so observers see the downloads queued first.
func (p *Pool) reconcileItem(ctx context.Context, src *domain.Source, item ports.ListedItem) error {
	existing, err := p.store.FindMediaByExternalID(ctx, src.ID, item.ExternalID)
	switch {
	case err == nil:
		if err := p.store.UpdateMediaMetadata(ctx, existing.ID, item.Meta); err != nil {
			return fmt.Errorf("%w: updating media metadata: %v", domain.ErrTransient, err)
		}
		if existing.MediaPath != "" && !p.fileExists(existing.MediaPath) {
			p.log.Warn().Str("media", existing.ID).Str("path", existing.MediaPath).
				Msg("media file missing, scheduling re-download")
			if err := p.store.ClearMediaPath(ctx, existing.ID); err != nil {
				return fmt.Errorf("%w: clearing media path: %v", domain.ErrTransient, err)
			}
			existing.MediaPath = ""
		}
		if existing.MediaPath == "" {
			p.spawnDownload(existing.ID, item.Meta.Title)
		}
		return nil
	case errors.Is(err, domain.ErrNotFound):
		m := &domain.Media{
			SourceID:      src.ID,
			ExternalID:    item.ExternalID,
			URL:           item.URL,
			DownloadState: domain.DownloadPending,
			Metadata:      item.Meta,
		}
		if err := p.store.CreateMedia(ctx, m); err != nil {
			return fmt.Errorf("%w: creating media: %v", domain.ErrTransient, err)
		}
		p.spawnDownload(m.ID, item.Meta.Title)
		return nil
	default:
		return fmt.Errorf("%w: looking up media: %v", domain.ErrTransient, err)
	}
}

// pruneOldMedia drops downloaded items that have aged out of the source's
// lookback window, files included.
func (p *Pool) pruneOldMedia(ctx context.Context, src *domain.Source, cutoff int64) error {
	medias, err := p.store.ListMediaBySource(ctx, src.ID)
	if err != nil {
		return fmt.Errorf("%w: listing media: %v", domain.ErrTransient, err)
	}
	for i := range medias {
		m := &medias[i]
		if m.Metadata.Timestamp == 0 || m.Metadata.Timestamp >= cutoff || !m.Downloaded() {
			continue
		}
		p.log.Info().Str("media", m.ID).Str("title", m.Metadata.Title).Msg("removing old media")
		p.removeMediaFiles(m)
		if err := p.store.DeleteMedia(ctx, m.ID); err != nil {
			return fmt.Errorf("%w: deleting media: %v", domain.ErrTransient, err)
		}
	}
	return nil
}

func (p *Pool) spawnDownload(mediaID, title string) {
	if _, err := p.reg.Add(domain.KindDownloadVideo, mediaID, title); err != nil &&
		!errors.Is(err, domain.ErrDuplicateTask) {
		p.log.Error().Err(err).Str("media", mediaID).Msg("failed to enqueue download")
	}
}

func (p *Pool) fileExists(relPath string) bool {
	_, err := os.Stat(filepath.Join(p.mediaDir, relPath))
	return err == nil
}

// removeMediaFiles deletes the media file and its sidecar info json.
// Missing files are not an error.
func (p *Pool) removeMediaFiles(m *domain.Media) {
	base := filepath.Join(p.mediaDir, m.MediaPath)
	info := strings.TrimSuffix(base, filepath.Ext(base)) + ".info.json"
	for _, path := range []string{info, base} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			p.log.Warn().Err(err).Str("path", path).Msg("failed to remove media file")
		}
	}
}

func (p *Pool) track(id, target string, cancel context.CancelFunc) {
	p.mu.Lock()
	p.running[id] = runningTask{target: target, cancel: cancel}
	p.mu.Unlock()
}

func (p *Pool) untrack(id string) {
	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
}

// sanitizeDirName keeps the character set yt platforms and filesystems both
// tolerate in a directory name.
func sanitizeDirName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("-_ .()[]", r) {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "unknown"
	}
	return out
}
