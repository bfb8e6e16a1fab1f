// Package ytdlp drives the external yt-dlp binary, mapping its JSON output
// and exit behavior onto the downloader contract.
package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"localtube/internal/config"
	"localtube/internal/domain"
	"localtube/internal/ports"
)

// yt-dlp exits 101 when --max-downloads stops it; that is not a failure.
const exitMaxDownloads = 101

type Client struct {
	bin      string
	mediaDir string
	limiter  *rate.Limiter
	debug    bool
	now      func() time.Time
	log      zerolog.Logger
}

var _ ports.Downloader = (*Client)(nil)

func New(cfg config.YtDlp, mediaDir string, log zerolog.Logger) *Client {
	per := cfg.CallsPerMin
	if per < 1 {
		per = 30
	}
	return &Client{
		bin:      cfg.Path,
		mediaDir: mediaDir,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(per)), 5),
		debug:    cfg.DebugCaptures,
		now:      time.Now,
		log:      log,
	}
}

// itemJSON is the subset of yt-dlp's --dump-json output we consume.
type itemJSON struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	Description  string  `json:"description"`
	Duration     float64 `json:"duration"`
	Uploader     string  `json:"uploader"`
	Channel      string  `json:"channel"`
	NEntries     int64   `json:"n_entries"`
	ExtractorKey string  `json:"extractor_key"`
	OriginalURL  string  `json:"original_url"`
	WebpageURL   string  `json:"webpage_url"`
	Timestamp    int64   `json:"timestamp"`
	Filename     string  `json:"filename"`
}

func (j *itemJSON) meta() domain.MediaMetadata {
	uploader := j.Uploader
	if uploader == "" {
		uploader = j.Channel
	}
	return domain.MediaMetadata{
		Title:       j.Title,
		Description: j.Description,
		Duration:    int64(j.Duration),
		Uploader:    uploader,
		Provider:    j.ExtractorKey,
		Timestamp:   j.Timestamp,
	}
}

func (j *itemJSON) url() string {
	if j.OriginalURL != "" {
		return j.OriginalURL
	}
	return j.WebpageURL
}

// SourceInfo fetches the most recent item of a source to learn the channel
// name and provider.
func (c *Client) SourceInfo(ctx context.Context, sourceURL string) (*ports.SourceInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin,
		"--dump-json",
		"--simulate",
		"--max-downloads=1",
		sourceURL,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	c.capture("source_info", stdout.String(), stderr.String())
	if err != nil && !maxDownloadsExit(err) {
		return nil, c.classify(ctx, err, stderr.String())
	}

	var item itemJSON
	if err := json.Unmarshal(firstJSONLine(stdout.Bytes()), &item); err != nil {
		return nil, fmt.Errorf("%w: parsing source info: %v", domain.ErrTransient, err)
	}
	meta := item.meta()
	return &ports.SourceInfo{
		Name:     meta.Uploader,
		Provider: meta.Provider,
		Items:    item.NEntries,
	}, nil
}

// ListItems streams the source listing, newest first, stopping once entries
// age past the lookback window. Each call re-fetches; the sequence is not
// restartable.
func (c *Client) ListItems(ctx context.Context, sourceURL string, sinceDays int) ([]ports.ListedItem, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	cmd := exec.CommandContext(ctx, c.bin,
		"--dump-json",
		"--simulate",
		sourceURL,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: attaching to yt-dlp: %v", domain.ErrTransient, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: spawning yt-dlp: %v", domain.ErrTransient, err)
	}

	cutoff := c.now().AddDate(0, 0, -sinceDays).Unix()
	var items []ports.ListedItem
	truncated := false

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var item itemJSON
		if err := json.Unmarshal(line, &item); err != nil {
			c.log.Warn().Err(err).Msg("failed to parse yt-dlp JSON line")
			continue
		}
		// listings come newest first, so the first stale entry ends the scan
		if item.Timestamp != 0 && item.Timestamp < cutoff {
			truncated = true
			break
		}
		items = append(items, ports.ListedItem{
			ExternalID:  item.ID,
			URL:         item.url(),
			PublishedAt: time.Unix(item.Timestamp, 0).UTC(),
			Meta:        item.meta(),
		})
	}

	if truncated {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return items, nil
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, fmt.Errorf("%w: reading yt-dlp output: %v", domain.ErrTransient, err)
	}
	err = cmd.Wait()
	c.capture("list_items", "", stderr.String())
	if err != nil && !maxDownloadsExit(err) {
		return nil, c.classify(ctx, err, stderr.String())
	}
	// a valid source can legitimately have nothing in the window
	return items, nil
}

// FetchVideo downloads one video into the media directory and returns its
// path relative to the media root.
func (c *Client) FetchVideo(ctx context.Context, url string, opts ports.FetchOptions) (*ports.FetchResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	destDir := filepath.Join(c.mediaDir, opts.SubDir)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating media directory: %v", domain.ErrTransient, err)
	}

	sponsorblock := opts.SponsorBlock.String()
	if sponsorblock == "" {
		sponsorblock = "-all"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.bin,
		"--dump-json",
		"--no-simulate",
		"--restrict-filenames",
		"--write-info-json",
		"--sponsorblock-remove="+sponsorblock,
		"--paths="+destDir,
		"--max-downloads=1",
		"--remux-video=mkv",
		"--embed-metadata",
		"--embed-subs",
		"--embed-thumbnail",
		url,
	)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	c.capture("fetch_video", stdout.String(), stderr.String())
	if err != nil && !maxDownloadsExit(err) {
		return nil, c.classify(ctx, err, stderr.String())
	}

	var item itemJSON
	if err := json.Unmarshal(firstJSONLine(stdout.Bytes()), &item); err != nil {
		return nil, fmt.Errorf("%w: parsing download result: %v", domain.ErrTransient, err)
	}

	// yt-dlp reports the pre-remux filename; prefer the .mkv if it exists
	path := item.Filename
	if mkv := strings.TrimSuffix(path, filepath.Ext(path)) + ".mkv"; fileExists(mkv) {
		path = mkv
	} else if !fileExists(path) {
		return nil, fmt.Errorf("%w: downloaded file not found at %s", domain.ErrTransient, path)
	}

	rel, err := filepath.Rel(c.mediaDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil, fmt.Errorf("%w: download landed outside media directory: %s", domain.ErrPermanent, path)
	}
	return &ports.FetchResult{FilePath: rel, Meta: item.meta()}, nil
}

// classify turns a yt-dlp failure into a transient or permanent execution
// error based on the stderr tail.
func (c *Client) classify(ctx context.Context, err error, stderr string) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", sentinelFor(ctx.Err()), ctx.Err())
	}
	detail := lastLine(stderr)
	if detail == "" {
		detail = err.Error()
	}
	if permanentFailure(stderr) {
		return fmt.Errorf("%w: %s", domain.ErrPermanent, detail)
	}
	return fmt.Errorf("%w: %s", domain.ErrTransient, detail)
}

// capture logs raw process output when LOCALTUBE_YTDLP_DEBUG is set.
func (c *Client) capture(op, stdout, stderr string) {
	if !c.debug {
		return
	}
	c.log.Debug().Str("op", op).
		Str("stdout", stdout).
		Str("stderr", stderr).
		Msg("yt-dlp output")
}

func sentinelFor(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrTransient
	}
	return domain.ErrCancelled
}

var permanentMarkers = []string{
	"video unavailable",
	"private video",
	"this video has been removed",
	"account associated with this video has been terminated",
	"unsupported url",
	"is not a valid url",
	"does not exist",
	"members-only",
	"sign in to confirm your age",
}

func permanentFailure(stderr string) bool {
	s := strings.ToLower(stderr)
	for _, marker := range permanentMarkers {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

func maxDownloadsExit(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == exitMaxDownloads
}

// firstJSONLine returns the first non-empty line; yt-dlp can append
// progress noise after the JSON document.
func firstJSONLine(out []byte) []byte {
	for _, line := range bytes.Split(out, []byte("\n")) {
		if len(bytes.TrimSpace(line)) > 0 {
			return line
		}
	}
	return out
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
