package model

import (
	"testing"
	"time"
)

func TestPresenceRecord_Fresh(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ttl := 5 * time.Minute

	tests := []struct {
		name     string
		cachedAt time.Time
		want     bool
	}{
		{"just cached", now, true},
		{"inside window", now.Add(-4 * time.Minute), true},
		{"exactly at ttl", now.Add(-5 * time.Minute), false},
		{"past ttl", now.Add(-time.Hour), false},
		{"never cached", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := PresenceRecord{EntityID: "u", CachedAt: tt.cachedAt}
			if got := rec.Fresh(ttl, now); got != tt.want {
				t.Errorf("Fresh = %v, want %v", got, tt.want)
			}
		})
	}
}
