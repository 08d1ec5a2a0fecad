package ingest

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// ParsePublishDate normalizes a scraped publish_date to UTC. Values that
// are not strings or cannot be parsed yield nil; naive timestamps are read
// in loc.
func ParsePublishDate(v any, loc *time.Location) *time.Time {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}

	t, err := dateparse.ParseIn(s, loc)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
