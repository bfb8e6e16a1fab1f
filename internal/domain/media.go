package domain

import "time"

type DownloadState string

const (
	DownloadPending DownloadState = "pending"
	DownloadDone    DownloadState = "downloaded"
	DownloadFailed  DownloadState = "failed"
)

// Media is a single downloadable item, discovered from a source or added
// directly by URL. SourceID is empty for directly added items.
type Media struct {
	ID            string        `json:"id"`
	SourceID      string        `json:"source_id,omitempty"`
	ExternalID    string        `json:"external_id"`
	URL           string        `json:"url"`
	DownloadState DownloadState `json:"download_state"`
	MediaPath     string        `json:"media_path,omitempty"` // relative to the media directory
	Metadata      MediaMetadata `json:"metadata"`
	CreatedAt     time.Time     `json:"created_at"`
}

// Downloaded reports whether the media has a local file.
func (m *Media) Downloaded() bool {
	return m.MediaPath != ""
}

// DisplayTitle returns the metadata title when known, the URL otherwise.
func (m *Media) DisplayTitle() string {
	if m.Metadata.Title != "" {
		return m.Metadata.Title
	}
	return m.URL
}

// MediaMetadata is the metadata blob reported by the downloader.
type MediaMetadata struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Duration    int64  `json:"duration"`
	Uploader    string `json:"uploader"`
	Provider    string `json:"provider"`
	Timestamp   int64  `json:"timestamp"` // upload time, unix seconds
}
