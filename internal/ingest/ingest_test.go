package ingest

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pbaille/factserp/internal/domain"
	"github.com/pbaille/factserp/internal/ident"
	"github.com/pbaille/factserp/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t     *testing.T
	opts  Options
	store *store.Store
	codec *ident.Codec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	s, err := store.New(filepath.Join(root, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{
		t: t,
		opts: Options{
			DatasetRoot:  filepath.Join(root, "dataset"),
			DocsRoot:     filepath.Join(root, "docs"),
			SnapshotRoot: filepath.Join(root, "google"),
			Location:     time.UTC,
		},
		store: s,
		codec: ident.New(ident.DefaultFamilies()),
	}
}

func (f *fixture) write(path string, v any) {
	f.t.Helper()
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0755))
	var data []byte
	switch v := v.(type) {
	case string:
		data = []byte(v)
	default:
		var err error
		data, err = json.Marshal(v)
		require.NoError(f.t, err)
	}
	require.NoError(f.t, os.WriteFile(path, data, 0644))
}

func (f *fixture) export(dir string, kg map[string]any) {
	f.write(filepath.Join(f.opts.DatasetRoot, dir, "data", "kg.json"), kg)
}

func (f *fixture) questions(key string, qs ...any) {
	items := make([]map[string]any, 0, len(qs)/2)
	for i := 0; i+1 < len(qs); i += 2 {
		items = append(items, map[string]any{"question": qs[i], "score": qs[i+1]})
	}
	f.write(filepath.Join(f.opts.DocsRoot, key, "questions.json"), map[string]any{"questions": items})
}

func (f *fixture) result(dir, file, id string, rank int, data map[string]any) {
	f.write(filepath.Join(f.opts.DocsRoot, dir, "all_docs", file), map[string]any{"id": id, "rank": rank, "data": data})
}

func (f *fixture) snapshot(id, html string) {
	f.write(filepath.Join(f.opts.SnapshotRoot, id+".html"), html)
}

func (f *fixture) load(name string) *Report {
	f.t.Helper()
	fam, ok := f.codec.Family(name)
	require.True(f.t, ok)
	r, err := NewLoader(f.store, f.codec, f.opts, nil).Load(context.Background(), fam)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) link() *Report {
	f.t.Helper()
	r, err := NewLinker(f.store, f.codec, f.opts, nil).Link(context.Background())
	require.NoError(f.t, err)
	return r
}

func (f *fixture) fetchable(dataset, factID string) []domain.Question {
	f.t.Helper()
	ctx := context.Background()
	fact, err := f.store.GetFact(ctx, dataset, factID)
	require.NoError(f.t, err)
	qs, err := f.store.FetchableQuestions(ctx, fact.ID)
	require.NoError(f.t, err)
	return qs
}

func TestRankQuestions(t *testing.T) {
	qs := RankQuestions([]domain.Question{
		{Text: "a", Score: 0.2},
		{Text: "b", Score: 0.9},
		{Text: "c", Score: 0.5},
		{Text: "d", Score: 0.5},
		{Text: "e", Score: 0.7},
	}, 3)

	var got []string
	var fetchable []string
	for _, q := range qs {
		got = append(got, q.Text)
		if q.IsFetchable {
			fetchable = append(fetchable, q.Text)
		}
	}
	assert.Equal(t, []string{"b", "e", "c", "d", "a"}, got)
	assert.Equal(t, []string{"b", "e", "c"}, fetchable)
	assert.Equal(t, 3, qs[3].Position)
}

func TestMainStatement(t *testing.T) {
	triple := domain.Triple{"Albert_Einstein", "wasBornIn", "Ulm"}
	assert.Equal(t, "Albert_Einstein was Born In Ulm", MainStatement(triple, true))
	assert.Equal(t, "Albert_Einstein wasBornIn Ulm", MainStatement(triple, false))
	assert.Equal(t, "Mc Donald is AT", MainStatement(domain.Triple{"McDonald", "isAT"}, true))
}

func TestParsePublishDate(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)

	tests := []struct {
		name  string
		in    any
		loc   *time.Location
		want  string
		isNil bool
	}{
		{name: "rfc3339 offset", in: "2020-05-01T10:00:00+02:00", want: "2020-05-01T08:00:00Z"},
		{name: "naive datetime in utc", in: "2020-05-01 10:00:00", want: "2020-05-01T10:00:00Z"},
		{name: "naive datetime in zone", in: "2020-05-01 10:00:00", loc: berlin, want: "2020-05-01T08:00:00Z"},
		{name: "date only", in: "2019-12-31", want: "2019-12-31T00:00:00Z"},
		{name: "garbage", in: "not a date", isNil: true},
		{name: "empty", in: "", isNil: true},
		{name: "number", in: 12.5, isNil: true},
		{name: "missing", in: nil, isNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePublishDate(tt.in, tt.loc)
			if tt.isNil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format(time.RFC3339))
		})
	}
}

func TestLoader_Fetchability(t *testing.T) {
	f := newFixture(t)
	f.export("FactBench", map[string]any{
		"correct_1":        [][]string{{"Einstein", "award", "Nobel"}, {"alt", "alt", "alt"}},
		"wrong_mix_range1": [][]string{{"Einstein", "award", "Oscar"}},
		"wrong_other_7":    [][]string{{"x", "y", "z"}},
	})
	f.questions("correct_1",
		"q-low", 0.1,
		"q-high", 0.9,
		"q-mid-a", 0.5,
		"q-mid-b", 0.5,
		"q-mid-c", 0.5,
	)

	r := f.load("factbench")
	assert.Equal(t, 2, r.Facts)
	assert.Equal(t, 1, r.NoQuestions)

	ctx := context.Background()
	_, err := f.store.GetFact(ctx, "factbench", "wrong_other_7")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	qs := f.fetchable("factbench", "correct_1")
	require.Len(t, qs, 4)
	assert.Equal(t, "Einstein award Nobel", qs[0].Text)
	assert.True(t, qs[0].IsMain)
	assert.Equal(t, 1.0, qs[0].Score)
	assert.Equal(t, []string{"q-high", "q-mid-a", "q-mid-b"}, []string{qs[1].Text, qs[2].Text, qs[3].Text})

	fact, err := f.store.GetFact(ctx, "factbench", "correct_1")
	require.NoError(t, err)
	all, err := f.store.ListQuestions(ctx, fact.ID)
	require.NoError(t, err)
	assert.Len(t, all, 6)

	// fact without a questions file keeps only the main statement
	only := f.fetchable("factbench", "wrong_mix_range1")
	require.Len(t, only, 1)
	assert.True(t, only[0].IsMain)
}

func TestLoader_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.export("YAGO", map[string]any{"12": []string{"Ulm", "isLocatedIn", "Germany"}})
	f.questions("yago_12", "Is Ulm in Germany?", 0.8)

	first := f.load("yago")
	second := f.load("yago")
	assert.Equal(t, 1, first.Facts)
	assert.Equal(t, 0, second.Facts)

	qs := f.fetchable("yago", "12")
	require.Len(t, qs, 2)
	assert.Equal(t, "Ulm is Located In Germany", qs[0].Text)

	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Facts)
	assert.Equal(t, 2, st.Questions)
}

func TestLoader_MissingExport(t *testing.T) {
	f := newFixture(t)
	fam, _ := f.codec.Family("dbpedia")

	_, err := NewLoader(f.store, f.codec, f.opts, nil).Load(context.Background(), fam)
	var sde *domain.SourceDataError
	assert.ErrorAs(t, err, &sde)
}

func TestLoader_MalformedQuestions(t *testing.T) {
	f := newFixture(t)
	f.export("DBpedia", map[string]any{"3": []string{"a", "b", "c"}})
	f.write(filepath.Join(f.opts.DocsRoot, "dbpedia_3", "questions.json"), "{not json")

	r := f.load("dbpedia")
	assert.Equal(t, 1, r.SourceData)
	assert.Len(t, f.fetchable("dbpedia", "3"), 1)
}

func seedEvidence(f *fixture) {
	f.export("FactBench", map[string]any{"correct_5": [][]string{{"Ulm", "birthPlace", "Einstein"}}})
	f.questions("correct_5", "q1", 0.9, "q2", 0.8, "q3", 0.7, "q4", 0.1)

	f.snapshot("correct_5_1", "<html><title>q1 results</title></html>")
	f.result("correct_5", "B.json", "correct_5_1", 2, map[string]any{
		"url": "https://b.example/page", "title": "B", "meta_description": "bee",
		"tags": []string{"t"}, "publish_date": "2020-01-02 03:04:05",
	})
	f.result("correct_5", "a.json", "correct_5_1", 1, map[string]any{
		"url": "https://a.example/", "title": "A", "language": "fr",
	})
	f.result("correct_5", "c.json", "correct_5_1", 1, map[string]any{
		"url": "https://c.example/", "title": "C",
	})
}

func TestLinker_LinksEvidence(t *testing.T) {
	f := newFixture(t)
	seedEvidence(f)
	f.load("factbench")

	r := f.link()
	assert.Equal(t, 0, r.Errors(), r.Samples())
	assert.Equal(t, 3, r.Links)
	assert.Equal(t, 1, r.Snapshots)
	assert.Equal(t, 3, r.Ranks)

	ctx := context.Background()
	qs := f.fetchable("factbench", "correct_5")
	require.Len(t, qs, 4)
	hc, err := f.store.GetHtmlContent(ctx, qs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, "q1", qs[1].Text)

	ranked, err := f.store.RankedLinks(ctx, hc.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "https://a.example/", ranked[0].Link.URL)
	assert.Equal(t, "https://c.example/", ranked[1].Link.URL)
	assert.Equal(t, "https://b.example/page", ranked[2].Link.URL)
	assert.True(t, ranked[2].HasSerpContent)

	b, err := f.store.GetLinkByURL(ctx, "https://b.example/page")
	require.NoError(t, err)
	assert.Equal(t, "b.example", b.Domain)
	assert.Equal(t, "bee", b.Description)

	sc, err := f.store.GetSerpContent(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, sc.PublishDate)
	assert.Equal(t, "2020-01-02T03:04:05Z", sc.PublishDate.Format(time.RFC3339))
	assert.JSONEq(t, `["t"]`, string(sc.Tags))
	assert.Equal(t, "en", sc.Language)

	a, err := f.store.GetLinkByURL(ctx, "https://a.example/")
	require.NoError(t, err)
	sa, err := f.store.GetSerpContent(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "fr", sa.Language)
	assert.Nil(t, sa.Tags)
}

func TestLinker_Idempotent(t *testing.T) {
	f := newFixture(t)
	seedEvidence(f)
	f.load("factbench")
	f.link()

	ctx := context.Background()
	before, err := f.store.Stats(ctx)
	require.NoError(t, err)

	// second run with a changed payload overwrites the scraped fields
	f.result("correct_5", "B.json", "correct_5_1", 2, map[string]any{
		"url": "https://b.example/page", "title": "B2", "meta_description": "changed",
	})
	f.link()

	after, err := f.store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	b, err := f.store.GetLinkByURL(ctx, "https://b.example/page")
	require.NoError(t, err)
	assert.Equal(t, "B", b.Title)

	sc, err := f.store.GetSerpContent(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "B2", sc.Title)
	assert.Equal(t, "changed", sc.MetaDescription)
	assert.Nil(t, sc.PublishDate)
	assert.Nil(t, sc.Tags)
}

func TestLinker_SkipsBadArtifacts(t *testing.T) {
	f := newFixture(t)
	seedEvidence(f)
	f.load("factbench")

	// out of range: only 4 fetchable questions exist
	f.snapshot("correct_5_7", "<html></html>")
	f.result("correct_5", "d.json", "correct_5_7", 0, map[string]any{"url": "https://d.example/"})
	// unknown fact
	f.snapshot("correct_9_0", "<html></html>")
	f.result("correct_5", "e.json", "correct_9_0", 0, map[string]any{"url": "https://e.example/"})
	// missing snapshot
	f.result("correct_5", "f.json", "correct_5_3", 0, map[string]any{"url": "https://f.example/"})
	// no url
	f.result("correct_5", "g.json", "correct_5_0", 0, map[string]any{"title": "no url"})
	// not json
	f.write(filepath.Join(f.opts.DocsRoot, "correct_5", "all_docs", "h.json"), "{")
	// directory that is not evidence
	f.result("misc", "x.json", "correct_5_0", 0, map[string]any{"url": "https://x.example/"})

	r := f.link()
	assert.Equal(t, 2, r.Linkage)
	assert.Equal(t, 3, r.SourceData)
	assert.Equal(t, 3, r.Ranks)

	_, err := f.store.GetLinkByURL(context.Background(), "https://x.example/")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLinker_ParallelDirectories(t *testing.T) {
	f := newFixture(t)
	f.opts.Workers = 4
	f.export("YAGO", map[string]any{
		"1": []string{"a", "isA", "b"},
		"2": []string{"c", "isA", "d"},
	})
	f.load("yago")

	for _, id := range []string{"1", "2"} {
		artifact := "yago_" + id + "_0"
		f.snapshot(artifact, "<html>"+id+"</html>")
		f.result("yago_"+id, "r1.json", artifact, 0, map[string]any{"url": "https://shared.example/"})
		f.result("yago_"+id, "r2.json", artifact, 1, map[string]any{"url": "https://only" + id + ".example/"})
	}

	r := f.link()
	assert.Equal(t, 0, r.Errors(), r.Samples())
	assert.Equal(t, 4, r.Ranks)

	st, err := f.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, st.Links)
	assert.Equal(t, 2, st.HtmlContents)
	assert.Equal(t, 4, st.HtmlContentURLs)
}

func TestReport_Classifies(t *testing.T) {
	r := &Report{}
	r.Add(&domain.SourceDataError{Path: "x", Err: os.ErrNotExist})
	r.Add(&domain.LinkageError{ArtifactID: "y", Reason: "z"})
	r.Add(assert.AnError)
	r.Add(nil)

	other := &Report{Links: 2}
	other.Add(&domain.LinkageError{ArtifactID: "w"})
	r.Merge(other)

	assert.Equal(t, 1, r.SourceData)
	assert.Equal(t, 2, r.Linkage)
	assert.Equal(t, 1, r.Other)
	assert.Equal(t, 4, r.Errors())
	assert.Equal(t, 2, r.Links)
	assert.Len(t, r.Samples(), 4)
}
