package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSource_DisplayName(t *testing.T) {
	s := Source{URL: "https://example.com/c/demo"}
	assert.Equal(t, "https://example.com/c/demo", s.DisplayName())

	s.Name = "Demo Channel"
	assert.Equal(t, "Demo Channel", s.DisplayName())
}

func TestSource_RefreshDue(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	never := Source{RefreshFrequency: 6}
	assert.True(t, never.RefreshDue(now))

	fresh := Source{RefreshFrequency: 6, LastRefreshedAt: now.Add(-5 * time.Hour)}
	assert.False(t, fresh.RefreshDue(now))

	stale := Source{RefreshFrequency: 6, LastRefreshedAt: now.Add(-6 * time.Hour)}
	assert.True(t, stale.RefreshDue(now))

	older := Source{RefreshFrequency: 6, LastRefreshedAt: now.Add(-7 * time.Hour)}
	assert.True(t, older.RefreshDue(now))
}

func TestParseSponsorBlock(t *testing.T) {
	tests := []struct {
		raw      string
		expected SponsorBlockCategories
	}{
		{"", nil},
		{"sponsor", SponsorBlockCategories{"sponsor"}},
		{"sponsor,intro,outro", SponsorBlockCategories{"sponsor", "intro", "outro"}},
		{" sponsor , intro ", SponsorBlockCategories{"sponsor", "intro"}},
		{"sponsor,sponsor,intro", SponsorBlockCategories{"sponsor", "intro"}},
		{"sponsor,bogus,intro", SponsorBlockCategories{"sponsor", "intro"}},
		{"bogus,,  ,", nil},
		{"music_offtopic,selfpromo", SponsorBlockCategories{"music_offtopic", "selfpromo"}},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, ParseSponsorBlock(test.raw), "raw=%q", test.raw)
	}
}

func TestSponsorBlockCategories_String(t *testing.T) {
	assert.Equal(t, "", SponsorBlockCategories(nil).String())
	assert.Equal(t, "sponsor,intro", SponsorBlockCategories{"intro", "sponsor"}.String())
	assert.Equal(t, "sponsor,selfpromo,filler",
		SponsorBlockCategories{"filler", "selfpromo", "sponsor"}.String())
}

func TestSource_SponsorBlockCategories(t *testing.T) {
	s := Source{SponsorBlock: "intro,sponsor,junk"}
	assert.Equal(t, SponsorBlockCategories{"intro", "sponsor"}, s.SponsorBlockCategories())
}
