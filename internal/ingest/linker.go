package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/ident"
	"golang.org/x/sync/errgroup"
)

// LinkerStore is the storage needed to attach evidence to questions
type LinkerStore interface {
	UpsertLink(ctx context.Context, rawURL, title, description string) (*domain.Link, error)
	UpsertSerpContent(ctx context.Context, c *domain.SerpContent) error
	GetFact(ctx context.Context, dataset, factID string) (*domain.Fact, error)
	FetchableQuestions(ctx context.Context, factID int64) ([]domain.Question, error)
	UpsertHtmlContent(ctx context.Context, questionID int64, content string) (int64, error)
	LinkHtmlContent(ctx context.Context, htmlContentID, linkID int64, rank int) error
}

// Linker walks the scraped evidence tree
type Linker struct {
	store  LinkerStore
	codec  *ident.Codec
	opts   Options
	logger *slog.Logger
}

// NewLinker creates a linker. A nil logger uses slog.Default().
func NewLinker(s LinkerStore, codec *ident.Codec, opts Options, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{store: s, codec: codec, opts: opts, logger: logger}
}

// evidenceFile is one search result written by the scraper
type evidenceFile struct {
	ID   string                     `json:"id"`
	Rank json.Number                `json:"rank"`
	Data map[string]json.RawMessage `json:"data"`
}

// hit is a search result waiting to be attached to its snapshot
type hit struct {
	artifact string
	rank     int
	linkID   int64
}

// Link ingests every evidence directory under the docs root. Directories
// are processed in name order, or by up to Options.Workers goroutines.
// Store failures abort the run; bad artifacts are recorded and skipped.
func (l *Linker) Link(ctx context.Context) (*Report, error) {
	report := &Report{}

	entries, err := os.ReadDir(l.opts.DocsRoot)
	if err != nil {
		return report, &domain.SourceDataError{Path: l.opts.DocsRoot, Err: err}
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() && l.codec.MatchEvidenceDir(e.Name()) {
			dirs = append(dirs, e.Name())
		}
	}
	l.logger.Info("linking evidence", "root", l.opts.DocsRoot, "directories", len(dirs))

	workers := l.opts.Workers
	if workers < 1 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, dir := range dirs {
		g.Go(func() error {
			return l.linkDir(ctx, dir, report)
		})
	}
	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

func (l *Linker) linkDir(ctx context.Context, dir string, report *Report) error {
	docsDir := filepath.Join(l.opts.DocsRoot, dir, "all_docs")
	entries, err := os.ReadDir(docsDir)
	if err != nil {
		report.Add(&domain.SourceDataError{Path: docsDir, Err: err})
		return nil
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			files = append(files, e.Name())
		}
	}
	sort.SliceStable(files, func(i, j int) bool {
		a, b := strings.ToLower(files[i]), strings.ToLower(files[j])
		if a != b {
			return a < b
		}
		return files[i] < files[j]
	})

	l.logger.Debug("processing directory", "dir", dir, "files", len(files))

	var hits []hit
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		h, err := l.linkResult(ctx, filepath.Join(docsDir, name), report)
		if err != nil {
			var sde *domain.SourceDataError
			if errors.As(err, &sde) {
				l.logger.Warn("skipping result", "file", name, "error", err)
				report.Add(err)
				continue
			}
			return err
		}
		hits = append(hits, h)
	}

	return l.attach(ctx, hits, report)
}

// linkResult upserts the Link and SerpContent described by one file
func (l *Linker) linkResult(ctx context.Context, path string, report *Report) (hit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return hit{}, &domain.SourceDataError{Path: path, Err: err}
	}

	var ef evidenceFile
	if err := json.Unmarshal(data, &ef); err != nil {
		return hit{}, &domain.SourceDataError{Path: path, Err: err}
	}
	rank, err := parseRank(ef.Rank)
	if err != nil {
		return hit{}, &domain.SourceDataError{Path: path, Err: err}
	}

	p := payload(ef.Data)
	rawURL := p.str("url", "")
	if rawURL == "" {
		return hit{}, &domain.SourceDataError{Path: path, Err: errors.New("result has no url")}
	}

	link, err := l.store.UpsertLink(ctx, rawURL, p.str("title", ""), p.str("meta_description", ""))
	if err != nil {
		return hit{}, err
	}
	report.count(&report.Links, 1)

	if err := l.store.UpsertSerpContent(ctx, p.serpContent(link.ID, rawURL, l.opts)); err != nil {
		return hit{}, err
	}
	report.count(&report.SerpContents, 1)

	return hit{artifact: ef.ID, rank: rank, linkID: link.ID}, nil
}

// attach resolves each hit to a fetchable question and ranks its link
// under that question's snapshot
func (l *Linker) attach(ctx context.Context, hits []hit, report *Report) error {
	snapshots := make(map[string]int64)
	questions := make(map[string][]domain.Question)

	for _, h := range hits {
		if err := ctx.Err(); err != nil {
			return err
		}

		hcID, ok := snapshots[h.artifact]
		if !ok {
			id, err := l.resolveSnapshot(ctx, h.artifact, questions)
			if err != nil {
				var sde *domain.SourceDataError
				var le *domain.LinkageError
				if errors.As(err, &sde) || errors.As(err, &le) {
					l.logger.Warn("skipping result", "artifact", h.artifact, "error", err)
					report.Add(err)
					continue
				}
				return err
			}
			hcID = id
			snapshots[h.artifact] = id
			report.count(&report.Snapshots, 1)
		}

		if err := l.store.LinkHtmlContent(ctx, hcID, h.linkID, h.rank); err != nil {
			return err
		}
		report.count(&report.Ranks, 1)
	}
	return nil
}

// resolveSnapshot stores the snapshot of an artifact under the question it
// was captured for and returns the HtmlContent id
func (l *Linker) resolveSnapshot(ctx context.Context, artifact string, cache map[string][]domain.Question) (int64, error) {
	path := filepath.Join(l.opts.SnapshotRoot, artifact+".html")
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, &domain.SourceDataError{Path: path, Err: err}
	}

	a, err := l.codec.ParseArtifact(artifact)
	if err != nil {
		return 0, &domain.LinkageError{ArtifactID: artifact, Reason: err.Error()}
	}

	key := a.Dataset + "/" + a.FactID
	qs, ok := cache[key]
	if !ok {
		fact, err := l.store.GetFact(ctx, a.Dataset, a.FactID)
		if errors.Is(err, domain.ErrNotFound) {
			return 0, &domain.LinkageError{ArtifactID: artifact, Reason: fmt.Sprintf("unknown fact %s", key)}
		}
		if err != nil {
			return 0, err
		}
		qs, err = l.store.FetchableQuestions(ctx, fact.ID)
		if err != nil {
			return 0, err
		}
		cache[key] = qs
	}

	if a.Index >= len(qs) {
		return 0, &domain.LinkageError{
			ArtifactID: artifact,
			Reason:     fmt.Sprintf("question index %d out of range [0, %d)", a.Index, len(qs)),
		}
	}

	return l.store.UpsertHtmlContent(ctx, qs[a.Index].ID, string(content))
}

func parseRank(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := strconv.Atoi(string(n)); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, fmt.Errorf("invalid rank %q", n)
	}
	return int(f), nil
}

// payload is the "data" object of a result file. Scrapers disagree on
// types, so every field is decoded leniently.
type payload map[string]json.RawMessage

func (p payload) str(key, def string) string {
	raw, ok := p[key]
	if !ok {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return def
	}
	return s
}

// list returns a JSON array, or nil when the field is absent or not a list
func (p payload) list(key string) json.RawMessage {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil || items == nil {
		return nil
	}
	return raw
}

func (p payload) value(key string) any {
	raw, ok := p[key]
	if !ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func (p payload) serpContent(linkID int64, rawURL string, opts Options) *domain.SerpContent {
	return &domain.SerpContent{
		LinkID:          linkID,
		URL:             rawURL,
		ReadMoreLink:    p.str("read_more_link", ""),
		Language:        p.str("language", "en"),
		Title:           p.str("title", ""),
		Text:            p.str("text", ""),
		Summary:         p.str("summary", ""),
		TopImage:        p.str("top_image", ""),
		MetaImg:         p.str("meta_img", ""),
		Images:          p.list("images"),
		Movies:          p.list("movies"),
		Keywords:        p.list("keywords"),
		Tags:            p.list("tags"),
		Authors:         p.list("authors"),
		MetaKeywords:    p.list("meta_keywords"),
		MetaDescription: p.str("meta_description", ""),
		MetaLang:        p.str("meta_lang", ""),
		MetaFavicon:     p.str("meta_favicon", ""),
		MetaSiteName:    p.str("meta_site_name", ""),
		CanonicalLink:   p.str("canonical_link", ""),
		PublishDate:     ParsePublishDate(p.value("publish_date"), opts.Location),
	}
}
