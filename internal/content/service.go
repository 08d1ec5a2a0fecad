// Package content resolves stored search evidence by URL or by question
// rank and projects it to the fields a caller asked for.
package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/snapshot"
)

// Store is the read side of the evidence database plus the usage counters
type Store interface {
	ListDatasets(ctx context.Context, activeOnly bool) ([]domain.Dataset, error)
	GetDataset(ctx context.Context, name string) (*domain.Dataset, error)
	ListFacts(ctx context.Context, datasetID int64) ([]domain.Fact, error)
	GetFact(ctx context.Context, dataset, factID string) (*domain.Fact, error)
	ListQuestions(ctx context.Context, factID int64) ([]domain.Question, error)
	FetchableQuestions(ctx context.Context, factID int64) ([]domain.Question, error)
	GetLinkByURL(ctx context.Context, rawURL string) (*domain.Link, error)
	GetSerpContent(ctx context.Context, linkID int64) (*domain.SerpContent, error)
	GetHtmlContent(ctx context.Context, questionID int64) (*domain.HtmlContent, error)
	RankedLinks(ctx context.Context, htmlContentID int64) ([]domain.RankedLink, error)
	RecordResolution(ctx context.Context, keyID, linkID int64, at time.Time) error
}

// Service answers retrieval requests
type Service struct {
	store Store
	cache *gocache.Cache
	now   func() time.Time
}

// NewService creates a service. Fetchable question lists are cached for
// ttl; a non-positive ttl disables the cache.
func NewService(s Store, ttl time.Duration) *Service {
	svc := &Service{
		store: s,
		now:   func() time.Time { return time.Now().UTC() },
	}
	if ttl > 0 {
		svc.cache = gocache.New(ttl, 2*ttl)
	}
	return svc
}

// Projection is a resolved SerpContent restricted to the requested fields
type Projection struct {
	Success         bool           `json:"success"`
	URL             string         `json:"url"`
	FieldsRequested []string       `json:"fields_requested"`
	ScrapedAt       string         `json:"scraped_at"`
	Data            map[string]any `json:"data"`

	LinkID int64 `json:"-"`
}

// ResolveURL finds the SerpContent stored for rawURL. The URL with its
// trailing slash toggled is tried when the exact form is unknown. Usage is
// recorded against key (may be nil) and the link only on success.
func (s *Service) ResolveURL(ctx context.Context, key *domain.APIKey, rawURL string, fields []string) (*Projection, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, &domain.ValidationError{
			Message: "URL parameter is required",
			Context: map[string]any{"usage": "GET /api/serp-content/?url=https://example.com"},
		}
	}

	link, err := s.findLink(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	serp, err := s.store.GetSerpContent(ctx, link.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{
			Message: "SERP content not available for this URL",
			Context: map[string]any{"url": link.URL},
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve url: %w", err)
	}

	p := &Projection{
		Success:         true,
		URL:             link.URL,
		FieldsRequested: fields,
		ScrapedAt:       serp.ScrapedAt.UTC().Format(time.RFC3339),
		Data:            Project(serp, fields),
		LinkID:          link.ID,
	}

	if err := s.store.RecordResolution(ctx, keyID(key), link.ID, s.now()); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return p, nil
}

func (s *Service) findLink(ctx context.Context, rawURL string) (*domain.Link, error) {
	tried := []string{rawURL, ToggleSlash(rawURL)}
	for _, u := range tried {
		link, err := s.store.GetLinkByURL(ctx, u)
		if err == nil {
			return link, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("resolve url: %w", err)
		}
	}
	return nil, &domain.NotFoundError{
		Message: "URL not found",
		Context: map[string]any{
			"url_tried":  tried,
			"suggestion": "Use query parameter method: /api/serp-content/?url=YOUR_URL",
		},
	}
}

// ToggleSlash adds a trailing slash to u, or removes the one it has
func ToggleSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return strings.TrimSuffix(u, "/")
	}
	return u + "/"
}

// QuestionView is a question as exposed by the API
type QuestionView struct {
	Rank        *int    `json:"rank"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
	IsFetchable bool    `json:"is_fetchable"`
	IsMain      bool    `json:"is_main"`
}

// LinkSummary is one ranked result attached to a question snapshot
type LinkSummary struct {
	Rank           int    `json:"rank"`
	URL            string `json:"url"`
	Domain         string `json:"domain"`
	Title          string `json:"title"`
	ScrapeCount    int    `json:"scrape_count"`
	LastScraped    any    `json:"last_scraped"`
	HasSerpContent bool   `json:"has_serp_content"`
}

// RankedEvidence is the evidence captured for one fetchable question
type RankedEvidence struct {
	Dataset  string           `json:"dataset"`
	FactID   string           `json:"fact_id"`
	Rank     int              `json:"rank"`
	Question QuestionView     `json:"question"`
	Snapshot snapshot.Summary `json:"snapshot"`
	Links    []LinkSummary    `json:"links"`
	Count    int              `json:"count"`
}

// ResolveRank returns the ranked links of the rank-th fetchable question
// of a fact. Usage is recorded against key only.
func (s *Service) ResolveRank(ctx context.Context, key *domain.APIKey, dataset, factID string, rank int) (*RankedEvidence, error) {
	if rank < 0 {
		return nil, &domain.ValidationError{
			Message: "rank must be a non-negative integer",
			Context: map[string]any{"rank": rank},
		}
	}

	fact, err := s.getFact(ctx, dataset, factID)
	if err != nil {
		return nil, err
	}

	qs, err := s.fetchable(ctx, dataset, fact)
	if err != nil {
		return nil, err
	}
	if rank >= len(qs) {
		return nil, &domain.NotFoundError{
			Message: "Question rank out of range",
			Context: map[string]any{
				"dataset":     dataset,
				"fact_id":     factID,
				"rank":        rank,
				"valid_range": validRange(len(qs)),
			},
		}
	}
	q := qs[rank]

	hc, err := s.store.GetHtmlContent(ctx, q.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{
			Message: "HTML content not available for this question",
			Context: map[string]any{"dataset": dataset, "fact_id": factID, "rank": rank},
		}
	}
	if err != nil {
		return nil, fmt.Errorf("resolve rank: %w", err)
	}

	ranked, err := s.store.RankedLinks(ctx, hc.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve rank: %w", err)
	}

	ev := &RankedEvidence{
		Dataset:  dataset,
		FactID:   factID,
		Rank:     rank,
		Question: questionView(q, &rank),
		Snapshot: snapshot.Summarize(hc.Content, "", 0),
		Links:    make([]LinkSummary, 0, len(ranked)),
	}
	for _, rl := range ranked {
		ev.Links = append(ev.Links, LinkSummary{
			Rank:           rl.Rank,
			URL:            rl.Link.URL,
			Domain:         rl.Link.Domain,
			Title:          rl.Link.Title,
			ScrapeCount:    rl.Link.ScrapeCount,
			LastScraped:    FormatTime(rl.Link.LastScraped),
			HasSerpContent: rl.HasSerpContent,
		})
	}
	ev.Count = len(ev.Links)

	if err := s.store.RecordResolution(ctx, keyID(key), 0, s.now()); err != nil {
		return nil, fmt.Errorf("record usage: %w", err)
	}
	return ev, nil
}

func validRange(n int) []int {
	if n == 0 {
		return []int{}
	}
	return []int{0, n - 1}
}

// ListDatasets returns the active datasets
func (s *Service) ListDatasets(ctx context.Context) ([]domain.Dataset, error) {
	return s.store.ListDatasets(ctx, true)
}

// ListFacts returns the facts of an active dataset
func (s *Service) ListFacts(ctx context.Context, dataset string) ([]domain.Fact, error) {
	d, err := s.store.GetDataset(ctx, dataset)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !d.IsActive) {
		return nil, &domain.NotFoundError{
			Message: "Dataset not found",
			Context: map[string]any{"dataset": dataset},
		}
	}
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	return s.store.ListFacts(ctx, d.ID)
}

// ListQuestions returns every question of a fact in rank order. Fetchable
// questions carry the rank accepted by ResolveRank.
func (s *Service) ListQuestions(ctx context.Context, dataset, factID string) ([]QuestionView, error) {
	fact, err := s.getFact(ctx, dataset, factID)
	if err != nil {
		return nil, err
	}
	qs, err := s.store.ListQuestions(ctx, fact.ID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	views := make([]QuestionView, 0, len(qs))
	next := 0
	for _, q := range qs {
		var rank *int
		if q.IsFetchable {
			r := next
			rank = &r
			next++
		}
		views = append(views, questionView(q, rank))
	}
	return views, nil
}

func questionView(q domain.Question, rank *int) QuestionView {
	return QuestionView{
		Rank:        rank,
		Text:        q.Text,
		Score:       q.Score,
		IsFetchable: q.IsFetchable,
		IsMain:      q.IsMain,
	}
}

func (s *Service) getFact(ctx context.Context, dataset, factID string) (*domain.Fact, error) {
	fact, err := s.store.GetFact(ctx, dataset, factID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.NotFoundError{
			Message: "Fact not found",
			Context: map[string]any{"dataset": dataset, "fact_id": factID},
		}
	}
	if err != nil {
		return nil, fmt.Errorf("get fact: %w", err)
	}
	return fact, nil
}

// fetchable returns the rank-ordered fetchable questions of a fact
func (s *Service) fetchable(ctx context.Context, dataset string, fact *domain.Fact) ([]domain.Question, error) {
	key := dataset + "/" + fact.FactID
	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			return v.([]domain.Question), nil
		}
	}

	qs, err := s.store.FetchableQuestions(ctx, fact.ID)
	if err != nil {
		return nil, fmt.Errorf("fetchable questions: %w", err)
	}
	if s.cache != nil {
		s.cache.SetDefault(key, qs)
	}
	return qs, nil
}

// Flush drops cached question lists, e.g. after a re-ingest
func (s *Service) Flush() {
	if s.cache != nil {
		s.cache.Flush()
	}
}

func keyID(k *domain.APIKey) int64 {
	if k == nil {
		return 0
	}
	return k.ID
}
