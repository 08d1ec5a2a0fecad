package content

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seeded struct {
	store *store.Store
	svc   *Service
	key   *domain.APIKey
}

func seed(t *testing.T) *seeded {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	key := &domain.APIKey{UserName: "u", Email: "u@example.com", Name: "k", Key: "tok", IsActive: true}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	d, err := s.EnsureDataset(ctx, "factbench", "bench")
	require.NoError(t, err)
	f, _, err := s.EnsureFact(ctx, d.ID, "correct_5")
	require.NoError(t, err)
	require.NoError(t, s.ReplaceQuestions(ctx, f.ID,
		[]domain.Question{
			{Text: "q1", Score: 0.9, IsFetchable: true},
			{Text: "q2", Score: 0.8, IsFetchable: true},
			{Text: "q3", Score: 0.2},
		},
		domain.Question{Text: "Ulm birth Place Einstein", Score: 1, IsFetchable: true, IsMain: true},
	))

	link, err := s.UpsertLink(ctx, "https://example.com/a", "Example A", "desc")
	require.NoError(t, err)
	published := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.UpsertSerpContent(ctx, &domain.SerpContent{
		LinkID:      link.ID,
		URL:         link.URL,
		Language:    "en",
		Title:       "Example title",
		Text:        "Body",
		Authors:     json.RawMessage(`["Ann"]`),
		PublishDate: &published,
	}))
	bare, err := s.UpsertLink(ctx, "https://bare.example/", "", "")
	require.NoError(t, err)

	qs, err := s.FetchableQuestions(ctx, f.ID)
	require.NoError(t, err)
	hc, err := s.UpsertHtmlContent(ctx, qs[1].ID, "<html><head><title>Search results for q1</title></head><body><p>results</p></body></html>")
	require.NoError(t, err)
	require.NoError(t, s.LinkHtmlContent(ctx, hc, bare.ID, 2))
	require.NoError(t, s.LinkHtmlContent(ctx, hc, link.ID, 1))

	return &seeded{store: s, svc: NewService(s, time.Minute), key: key}
}

func (sd *seeded) usage(t *testing.T) int {
	t.Helper()
	k, err := sd.store.GetAPIKey(context.Background(), "tok")
	require.NoError(t, err)
	return k.UsageCount
}

func TestProject(t *testing.T) {
	published := time.Date(2021, 6, 7, 8, 9, 10, 0, time.FixedZone("x", 3600))
	c := &domain.SerpContent{URL: "u", Title: "t", PublishDate: &published}

	all := Project(c, nil)
	assert.Len(t, all, len(KnownFields))
	assert.Equal(t, "2021-06-07T07:09:10Z", all["publish_date"])
	assert.Nil(t, all["tags"])
	assert.Equal(t, json.RawMessage("[]"), all["images"])

	only := Project(c, []string{"title", "score"})
	assert.Equal(t, map[string]any{"title": "t"}, only)

	none := Project(&domain.SerpContent{}, []string{"publish_date"})
	assert.Contains(t, none, "publish_date")
	assert.Nil(t, none["publish_date"])
}

func TestParseFields(t *testing.T) {
	assert.Equal(t, []string{"title", "score"}, ParseFields(" title, ,score "))
	assert.Nil(t, ParseFields(""))
	assert.Nil(t, ParseFields(" , "))
}

func TestToggleSlash(t *testing.T) {
	assert.Equal(t, "https://example.com/a/", ToggleSlash("https://example.com/a"))
	assert.Equal(t, "https://example.com/a", ToggleSlash("https://example.com/a/"))
}

func TestResolveURL(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	for _, u := range []string{"https://example.com/a", "https://example.com/a/"} {
		t.Run(u, func(t *testing.T) {
			p, err := sd.svc.ResolveURL(ctx, sd.key, u, []string{"title", "score"})
			require.NoError(t, err)
			assert.True(t, p.Success)
			assert.Equal(t, "https://example.com/a", p.URL)
			assert.Equal(t, map[string]any{"title": "Example title"}, p.Data)
			assert.Equal(t, []string{"title", "score"}, p.FieldsRequested)
		})
	}
	assert.Equal(t, 2, sd.usage(t))

	p, err := sd.svc.ResolveURL(ctx, sd.key, "https://example.com/a", nil)
	require.NoError(t, err)
	assert.Len(t, p.Data, len(KnownFields))
	assert.Equal(t, "2020-01-02T03:04:05Z", p.Data["publish_date"])

	link, err := sd.store.GetLinkByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, 3, link.ScrapeCount)
	assert.NotNil(t, link.LastScraped)
}

func TestResolveURL_Misses(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	_, err := sd.svc.ResolveURL(ctx, sd.key, "https://nowhere.example/x", nil)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []string{"https://nowhere.example/x", "https://nowhere.example/x/"}, nf.Context["url_tried"])

	_, err = sd.svc.ResolveURL(ctx, sd.key, "https://bare.example/", nil)
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "SERP content not available for this URL", nf.Message)

	_, err = sd.svc.ResolveURL(ctx, sd.key, "  ", nil)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	// failed resolutions never count
	assert.Equal(t, 0, sd.usage(t))
	bare, err := sd.store.GetLinkByURL(ctx, "https://bare.example/")
	require.NoError(t, err)
	assert.Equal(t, 0, bare.ScrapeCount)
}

func TestResolveURL_ConcurrentUsage(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sd.svc.ResolveURL(ctx, sd.key, "https://example.com/a", []string{"title"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, n, sd.usage(t))
	link, err := sd.store.GetLinkByURL(ctx, "https://example.com/a")
	require.NoError(t, err)
	assert.Equal(t, n, link.ScrapeCount)
}

func TestResolveRank(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	ev, err := sd.svc.ResolveRank(ctx, sd.key, "factbench", "correct_5", 1)
	require.NoError(t, err)
	assert.Equal(t, "q1", ev.Question.Text)
	assert.Equal(t, "Search results for q1", ev.Snapshot.Title)
	require.Equal(t, 2, ev.Count)
	assert.Equal(t, "https://example.com/a", ev.Links[0].URL)
	assert.Equal(t, "example.com", ev.Links[0].Domain)
	assert.True(t, ev.Links[0].HasSerpContent)
	assert.Equal(t, "https://bare.example/", ev.Links[1].URL)
	assert.False(t, ev.Links[1].HasSerpContent)
	assert.Equal(t, 1, sd.usage(t))
}

func TestResolveRank_Errors(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	_, err := sd.svc.ResolveRank(ctx, sd.key, "factbench", "correct_5", 5)
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, []int{0, 2}, nf.Context["valid_range"])

	// rank 0 is the main statement, which has no snapshot
	_, err = sd.svc.ResolveRank(ctx, sd.key, "factbench", "correct_5", 0)
	assert.ErrorAs(t, err, &nf)

	_, err = sd.svc.ResolveRank(ctx, sd.key, "factbench", "missing", 0)
	assert.ErrorAs(t, err, &nf)

	_, err = sd.svc.ResolveRank(ctx, sd.key, "factbench", "correct_5", -1)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	assert.Equal(t, 0, sd.usage(t))
}

func TestListing(t *testing.T) {
	sd := seed(t)
	ctx := context.Background()

	ds, err := sd.svc.ListDatasets(ctx)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, "factbench", ds[0].Name)

	facts, err := sd.svc.ListFacts(ctx, "factbench")
	require.NoError(t, err)
	require.Len(t, facts, 1)

	_, err = sd.svc.ListFacts(ctx, "yago")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	qs, err := sd.svc.ListQuestions(ctx, "factbench", "correct_5")
	require.NoError(t, err)
	require.Len(t, qs, 4)
	assert.True(t, qs[0].IsMain)
	require.NotNil(t, qs[2].Rank)
	assert.Equal(t, 2, *qs[2].Rank)
	assert.Nil(t, qs[3].Rank)
	assert.Equal(t, "q3", qs[3].Text)
}
