package search

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func newTestStore(t *testing.T) datastore.Interface {
	t.Helper()
	settings := &conf.Settings{}
	settings.Database.SQLite.Enabled = true
	settings.Database.SQLite.Path = t.TempDir() + "/test.db"

	ds := datastore.New(settings)
	require.NoError(t, ds.Open(), "Failed to open database")
	t.Cleanup(func() {
		assert.NoError(t, ds.Close(), "Failed to close datastore")
	})
	return ds
}

func newIndexService(ds datastore.Interface, index *fakeIndex, emb *fakeEmbedder, sum *fakeSummarizer, summarize bool) *Service {
	settings := conf.SearchSettings{Enabled: true}
	settings.OpenAI.Summarize = summarize
	return &Service{
		settings:   settings,
		ds:         ds,
		embedder:   emb,
		summarizer: sum,
		index:      index,
		cache:      cache.New(time.Minute, 2*time.Minute),
	}
}

func seedIndexObj(t *testing.T, ds datastore.Interface, id string, redshift *float64) datastore.Obj {
	t.Helper()
	obj := datastore.Obj{ID: id, RA: 187.5, Dec: -5.5, Redshift: redshift}
	require.NoError(t, ds.CreateObj(&obj))
	return obj
}

func TestUpsertSourceSummaryFactsOnly(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	user := datastore.User{Username: "indexer"}
	require.NoError(t, ds.CreateUser(&user))
	obj := seedIndexObj(t, ds, "ZTF25index", floatp(0.042))

	probability := 0.91
	older := datastore.Classification{
		ObjID:          obj.ID,
		Classification: "Ia",
		Probability:    &probability,
		AuthorID:       user.ID,
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, ds.CreateClassification(&older, nil))
	newer := datastore.Classification{
		ObjID:          obj.ID,
		Classification: "IIn",
		ML:             true,
		AuthorID:       user.ID,
	}
	require.NoError(t, ds.CreateClassification(&newer, nil))

	index := &fakeIndex{}
	emb := &fakeEmbedder{vector: []float32{0.1, 0.2}}
	svc := newIndexService(ds, index, emb, &fakeSummarizer{}, false)

	require.NoError(t, svc.UpsertSourceSummary(context.Background(), obj.ID))

	require.Len(t, emb.texts, 1)
	document := emb.texts[0]
	assert.Contains(t, document, "Source ZTF25index at RA 187.500000 deg, Dec -5.500000 deg.")
	assert.Contains(t, document, "Redshift 0.0420.")
	assert.Contains(t, document, "Classifications:")
	assert.Contains(t, document, "- IIn (machine generated)")
	assert.Contains(t, document, "- Ia (probability 0.91)")
	assert.Less(t, strings.Index(document, "- IIn"), strings.Index(document, "- Ia"),
		"classifications should list newest first")

	assert.Equal(t, []string{"remove ZTF25index", "insert ZTF25index"}, index.ops,
		"upsert replaces the previous vector before inserting")

	require.Len(t, index.inserted, 1)
	rec := index.inserted[0]
	assert.Equal(t, obj.ID, rec.ObjID)
	assert.Equal(t, []float32{0.1, 0.2}, rec.Embedding)
	assert.InDelta(t, 0.042, rec.Redshift, 1e-9)
	assert.Equal(t, "IIn", rec.Class, "metadata carries the newest classification")

	fetched, err := ds.GetObj(obj.ID)
	require.NoError(t, err)
	assert.NotNil(t, fetched.SummaryIndexedAt)
}

func TestUpsertSourceSummaryUsesStoredSummary(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	obj := seedIndexObj(t, ds, "ZTF25stored", nil)
	require.NoError(t, ds.UpdateObjSummary(obj.ID, "A fast-rising blue transient in a dwarf host."))

	index := &fakeIndex{}
	emb := &fakeEmbedder{vector: []float32{1}}
	sum := &fakeSummarizer{draft: "should not be used"}
	svc := newIndexService(ds, index, emb, sum, true)

	require.NoError(t, svc.UpsertSourceSummary(context.Background(), obj.ID))

	assert.Zero(t, sum.calls, "a stored summary preempts drafting")
	require.Len(t, emb.texts, 1)
	assert.True(t, strings.HasPrefix(emb.texts[0], "A fast-rising blue transient in a dwarf host.\n\n"),
		"document should lead with the stored summary, got %q", emb.texts[0])
	assert.Contains(t, emb.texts[0], "Source ZTF25stored")
}

func TestUpsertSourceSummaryDraftsProse(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	obj := seedIndexObj(t, ds, "ZTF25draft", floatp(0.1))

	index := &fakeIndex{}
	emb := &fakeEmbedder{vector: []float32{1}}
	sum := &fakeSummarizer{draft: "A young supernova rising fast."}
	svc := newIndexService(ds, index, emb, sum, true)

	require.NoError(t, svc.UpsertSourceSummary(context.Background(), obj.ID))

	require.Equal(t, 1, sum.calls)
	assert.Contains(t, sum.facts[0], "Source ZTF25draft", "the draft prompt carries the facts block")
	require.Len(t, emb.texts, 1)
	assert.True(t, strings.HasPrefix(emb.texts[0], "A young supernova rising fast.\n\n"),
		"document should lead with the drafted summary, got %q", emb.texts[0])
}

func TestUpsertSourceSummaryDraftFailureFallsBack(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	obj := seedIndexObj(t, ds, "ZTF25nodraft", nil)

	index := &fakeIndex{}
	emb := &fakeEmbedder{vector: []float32{1}}
	sum := &fakeSummarizer{err: errors.Newf("chat API unavailable").
		Component(componentName).
		Category(errors.CategorySearch).
		Build()}
	svc := newIndexService(ds, index, emb, sum, true)

	require.NoError(t, svc.UpsertSourceSummary(context.Background(), obj.ID),
		"a failed draft must not block indexing")

	require.Len(t, emb.texts, 1)
	assert.True(t, strings.HasPrefix(emb.texts[0], "Source ZTF25nodraft"),
		"document should fall back to the facts block, got %q", emb.texts[0])
	assert.NotContains(t, emb.texts[0], "\n\n")
	assert.Len(t, index.inserted, 1)
}

func TestUpsertSourceSummaryNoRedshift(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	obj := seedIndexObj(t, ds, "ZTF25noz", nil)

	index := &fakeIndex{}
	svc := newIndexService(ds, index, &fakeEmbedder{vector: []float32{1}}, &fakeSummarizer{}, false)

	require.NoError(t, svc.UpsertSourceSummary(context.Background(), obj.ID))

	require.Len(t, index.inserted, 1)
	assert.InDelta(t, unknownRedshift, index.inserted[0].Redshift, 1e-9,
		"missing redshift is stored as the sentinel")
	assert.Empty(t, index.inserted[0].Class)
}

func TestUpsertSourceSummaryUnknownObj(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)

	index := &fakeIndex{}
	svc := newIndexService(ds, index, &fakeEmbedder{vector: []float32{1}}, &fakeSummarizer{}, false)

	err := svc.UpsertSourceSummary(context.Background(), "ZTF00nothere")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, index.ops)
}

func TestUpsertSourceSummaryEmbedFailure(t *testing.T) {
	t.Parallel()
	ds := newTestStore(t)
	obj := seedIndexObj(t, ds, "ZTF25fail", nil)

	index := &fakeIndex{}
	emb := &fakeEmbedder{err: errors.Newf("embedding API unavailable").
		Component(componentName).
		Category(errors.CategoryEmbedding).
		Build()}
	svc := newIndexService(ds, index, emb, &fakeSummarizer{}, false)

	err := svc.UpsertSourceSummary(context.Background(), obj.ID)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryEmbedding))
	assert.Empty(t, index.ops, "nothing should reach the index when embedding fails")

	fetched, err := ds.GetObj(obj.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.SummaryIndexedAt)
}
