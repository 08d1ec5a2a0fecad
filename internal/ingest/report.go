package ingest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pbaille/factserp/internal/domain"
)

// maxSamples caps the error messages kept per category
const maxSamples = 20

// Report accumulates the per-item failures of an ingestion run. It is safe
// for concurrent use by directory workers.
type Report struct {
	mu sync.Mutex

	Facts        int
	Questions    int
	NoQuestions  int
	Links        int
	SerpContents int
	Snapshots    int
	Ranks        int

	SourceData int
	Linkage    int
	Other      int

	samples []string
}

// Add records a skipped item and classifies it
func (r *Report) Add(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var sde *domain.SourceDataError
	var le *domain.LinkageError
	switch {
	case errors.As(err, &sde):
		r.SourceData++
	case errors.As(err, &le):
		r.Linkage++
	default:
		r.Other++
	}
	if len(r.samples) < maxSamples {
		r.samples = append(r.samples, err.Error())
	}
}

// count bumps one of the success counters under the lock
func (r *Report) count(field *int, n int) {
	r.mu.Lock()
	*field += n
	r.mu.Unlock()
}

// Errors returns the total number of skipped items
func (r *Report) Errors() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.SourceData + r.Linkage + r.Other
}

// Samples returns the first recorded error messages
func (r *Report) Samples() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.samples))
	copy(out, r.samples)
	return out
}

// Merge adds the counts of other into r
func (r *Report) Merge(other *Report) {
	if other == nil || other == r {
		return
	}
	other.mu.Lock()
	o := Report{
		Facts: other.Facts, Questions: other.Questions, NoQuestions: other.NoQuestions, Links: other.Links,
		SerpContents: other.SerpContents, Snapshots: other.Snapshots, Ranks: other.Ranks,
		SourceData: other.SourceData, Linkage: other.Linkage, Other: other.Other,
	}
	samples := append([]string(nil), other.samples...)
	other.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.Facts += o.Facts
	r.Questions += o.Questions
	r.NoQuestions += o.NoQuestions
	r.Links += o.Links
	r.SerpContents += o.SerpContents
	r.Snapshots += o.Snapshots
	r.Ranks += o.Ranks
	r.SourceData += o.SourceData
	r.Linkage += o.Linkage
	r.Other += o.Other
	for _, s := range samples {
		if len(r.samples) >= maxSamples {
			break
		}
		r.samples = append(r.samples, s)
	}
}

// String renders a one-paragraph summary for the CLI
func (r *Report) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sb strings.Builder
	fmt.Fprintf(&sb, "facts=%d questions=%d (no file: %d) links=%d serp=%d snapshots=%d ranks=%d",
		r.Facts, r.Questions, r.NoQuestions, r.Links, r.SerpContents, r.Snapshots, r.Ranks)
	fmt.Fprintf(&sb, " | skipped: source_data=%d linkage=%d other=%d",
		r.SourceData, r.Linkage, r.Other)
	return sb.String()
}
