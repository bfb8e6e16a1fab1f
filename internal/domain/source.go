package domain

import (
	"strings"
	"time"
)

// Source is a registered external channel or playlist to monitor.
type Source struct {
	ID               string    `json:"id"`
	URL              string    `json:"url"`
	Name             string    `json:"name"`
	Provider         string    `json:"provider"`
	FetchLastDays    int       `json:"fetch_last_days"`
	RefreshFrequency int       `json:"refresh_frequency"` // hours between refresh cycles
	SponsorBlock     string    `json:"sponsorblock"`      // comma separated category tags
	LastRefreshedAt  time.Time `json:"last_refreshed_at"`
	CreatedAt        time.Time `json:"created_at"`
}

// DisplayName returns the uploader name when known, the URL otherwise.
func (s *Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

// RefreshDue reports whether the source's refresh cadence has elapsed.
// A source that was never refreshed is due immediately.
func (s *Source) RefreshDue(now time.Time) bool {
	if s.LastRefreshedAt.IsZero() {
		return true
	}
	return now.Sub(s.LastRefreshedAt) >= time.Duration(s.RefreshFrequency)*time.Hour
}

// SponsorBlockCategories returns the enabled category tags for this source.
func (s *Source) SponsorBlockCategories() SponsorBlockCategories {
	return ParseSponsorBlock(s.SponsorBlock)
}

var sponsorBlockKnown = []string{
	"sponsor",
	"intro",
	"outro",
	"selfpromo",
	"preview",
	"filler",
	"interaction",
	"music_offtopic",
}

// SponsorBlockCategories is the set of segment categories stripped from
// downloaded media. Only tags the SponsorBlock API knows are retained.
type SponsorBlockCategories []string

// ParseSponsorBlock parses a comma separated tag list, dropping unknown and
// empty entries and de-duplicating the rest.
func ParseSponsorBlock(raw string) SponsorBlockCategories {
	seen := make(map[string]bool)
	var cats SponsorBlockCategories
	for _, tag := range strings.Split(raw, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		for _, known := range sponsorBlockKnown {
			if tag == known {
				cats = append(cats, tag)
				seen[tag] = true
				break
			}
		}
	}
	return cats
}

// String serializes the set back to the comma separated wire form,
// in canonical category order.
func (c SponsorBlockCategories) String() string {
	enabled := make(map[string]bool, len(c))
	for _, tag := range c {
		enabled[tag] = true
	}
	var out []string
	for _, known := range sponsorBlockKnown {
		if enabled[known] {
			out = append(out, known)
		}
	}
	return strings.Join(out, ",")
}
