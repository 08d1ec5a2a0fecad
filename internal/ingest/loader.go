// Package ingest loads benchmark facts and their questions, then links the
// scraped search evidence to them.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/ident"
)

// DefaultFetchable is the number of curated questions that get evidence
const DefaultFetchable = 3

// Options locates the input trees and tunes a run
type Options struct {
	DatasetRoot  string
	DocsRoot     string
	SnapshotRoot string
	Fetchable    int
	Workers      int
	Location     *time.Location
}

func (o Options) fetchable() int {
	if o.Fetchable <= 0 {
		return DefaultFetchable
	}
	return o.Fetchable
}

// LoaderStore is the storage needed to load facts and questions
type LoaderStore interface {
	EnsureDataset(ctx context.Context, name, description string) (*domain.Dataset, error)
	EnsureFact(ctx context.Context, datasetID int64, factID string) (*domain.Fact, bool, error)
	ReplaceQuestions(ctx context.Context, factID int64, curated []domain.Question, main domain.Question) error
}

// Loader reads a dataset export and the curated questions of its facts
type Loader struct {
	store  LoaderStore
	codec  *ident.Codec
	opts   Options
	logger *slog.Logger
}

// NewLoader creates a loader. A nil logger uses slog.Default().
func NewLoader(s LoaderStore, codec *ident.Codec, opts Options, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{store: s, codec: codec, opts: opts, logger: logger}
}

type questionsFile struct {
	Questions []struct {
		Question string  `json:"question"`
		Score    float64 `json:"score"`
	} `json:"questions"`
}

// Load ingests one dataset family. Only a missing or unreadable export is
// returned as an error; per-fact problems are recorded in the report.
func (l *Loader) Load(ctx context.Context, fam ident.Family) (*Report, error) {
	report := &Report{}

	exportPath := filepath.Join(l.opts.DatasetRoot, fam.Dir, "data", fam.ExportFile)
	triples, bad, err := readExport(exportPath)
	if err != nil {
		return report, err
	}
	for _, err := range bad {
		report.Add(err)
	}

	dataset, err := l.store.EnsureDataset(ctx, fam.Name, fam.Description)
	if err != nil {
		return report, fmt.Errorf("ensure dataset %s: %w", fam.Name, err)
	}

	ids := make([]string, 0, len(triples))
	for id := range triples {
		if l.codec.KeepFact(fam.Name, id) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	l.logger.Info("loading dataset", "dataset", fam.Name, "facts", len(ids), "export", exportPath)

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		fact, created, err := l.store.EnsureFact(ctx, dataset.ID, id)
		if err != nil {
			return report, fmt.Errorf("ensure fact %s/%s: %w", fam.Name, id, err)
		}
		if created {
			report.count(&report.Facts, 1)
		}

		curated, err := l.readQuestions(fam.Name, id)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			l.logger.Warn("questions file missing", "dataset", fam.Name, "fact", id)
			report.count(&report.NoQuestions, 1)
		case err != nil:
			l.logger.Warn("questions file skipped", "dataset", fam.Name, "fact", id, "error", err)
			report.Add(err)
		}

		main := domain.Question{
			Text:        MainStatement(triples[id], fam.CamelCase),
			Score:       1.0,
			IsFetchable: true,
			IsMain:      true,
		}
		if err := l.store.ReplaceQuestions(ctx, fact.ID, curated, main); err != nil {
			return report, fmt.Errorf("store questions %s/%s: %w", fam.Name, id, err)
		}
		report.count(&report.Questions, len(curated)+1)
	}

	return report, nil
}

// readQuestions returns the curated questions of a fact, fetchability
// already assigned. A missing file wraps fs.ErrNotExist.
func (l *Loader) readQuestions(dataset, factID string) ([]domain.Question, error) {
	path := filepath.Join(l.opts.DocsRoot, l.codec.QuestionKey(dataset, factID), "questions.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.SourceDataError{Path: path, Err: err}
	}

	var qf questionsFile
	if err := json.Unmarshal(data, &qf); err != nil {
		return nil, &domain.SourceDataError{Path: path, Err: err}
	}

	questions := make([]domain.Question, len(qf.Questions))
	for i, q := range qf.Questions {
		questions[i] = domain.Question{Text: q.Question, Score: q.Score}
	}
	return RankQuestions(questions, l.opts.fetchable()), nil
}

// RankQuestions orders questions by descending score, keeping file order
// among ties, and marks the first n fetchable
func RankQuestions(questions []domain.Question, n int) []domain.Question {
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Score > questions[j].Score
	})
	for i := range questions {
		questions[i].IsFetchable = i < n
		questions[i].Position = i
	}
	return questions
}

var camelBoundary = regexp.MustCompile(`([a-z])([A-Z])`)

// MainStatement renders a triple as the synthetic main question
func MainStatement(t domain.Triple, camelCase bool) string {
	text := strings.Join(t, " ")
	if camelCase {
		text = camelBoundary.ReplaceAllString(text, "$1 $2")
	}
	return text
}

// readExport decodes an export mapping each fact id either to one triple
// or to a list of candidate triples, of which the first is kept. Entries
// that are neither are returned separately and left out.
func readExport(path string) (map[string]domain.Triple, []error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, &domain.SourceDataError{Path: path, Err: err}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, &domain.SourceDataError{Path: path, Err: err}
	}

	var bad []error

	triples := make(map[string]domain.Triple, len(raw))
	for id, v := range raw {
		var single []string
		if err := json.Unmarshal(v, &single); err == nil {
			triples[id] = single
			continue
		}
		var candidates [][]string
		if err := json.Unmarshal(v, &candidates); err != nil || len(candidates) == 0 {
			bad = append(bad, &domain.SourceDataError{Path: path, Err: fmt.Errorf("fact %s: not a triple", id)})
			continue
		}
		triples[id] = candidates[0]
	}
	return triples, bad, nil
}
