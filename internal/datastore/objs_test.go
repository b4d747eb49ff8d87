package datastore

import (
	"testing"

	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetObj(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	err := ds.CreateObj(&Obj{})
	assert.True(t, errors.IsValidation(err), "empty obj id should be rejected")

	redshift := 0.042
	obj := Obj{ID: "ZTF21aabcdef", RA: 123.4, Dec: -5.6, Redshift: &redshift}
	require.NoError(t, ds.CreateObj(&obj))

	err = ds.CreateObj(&Obj{ID: "ZTF21aabcdef"})
	assert.True(t, errors.IsConflict(err), "duplicate obj id should conflict")

	fetched, err := ds.GetObj("ZTF21aabcdef")
	require.NoError(t, err)
	assert.InDelta(t, 123.4, fetched.RA, 1e-9)
	require.NotNil(t, fetched.Redshift)
	assert.InDelta(t, 0.042, *fetched.Redshift, 1e-9)

	_, err = ds.GetObj("ZTF00nothere")
	assert.True(t, errors.IsNotFound(err))
}

func TestObjSummaryIndexLifecycle(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	obj := seedObj(t, ds, "ZTF21summary")

	require.NoError(t, ds.UpdateObjSummary(obj.ID, "A young type Ia supernova in NGC 1234."))
	fetched, err := ds.GetObj(obj.ID)
	require.NoError(t, err)
	assert.Equal(t, "A young type Ia supernova in NGC 1234.", fetched.Summary)
	assert.Nil(t, fetched.SummaryIndexedAt, "fresh summaries start unindexed")

	require.NoError(t, ds.MarkObjSummaryIndexed(obj.ID))
	fetched, err = ds.GetObj(obj.ID)
	require.NoError(t, err)
	assert.NotNil(t, fetched.SummaryIndexedAt)

	// Rewriting the summary invalidates the stored embedding.
	require.NoError(t, ds.UpdateObjSummary(obj.ID, "Reclassified as a type IIn."))
	fetched, err = ds.GetObj(obj.ID)
	require.NoError(t, err)
	assert.Nil(t, fetched.SummaryIndexedAt, "summary rewrite should clear the indexed marker")

	err = ds.UpdateObjSummary("ZTF00nothere", "text")
	assert.True(t, errors.IsNotFound(err))
	err = ds.MarkObjSummaryIndexed("ZTF00nothere")
	assert.True(t, errors.IsNotFound(err))
}

func TestSaveSourceReactivates(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	user := seedUser(t, ds, "harry")
	group := seedGroup(t, ds, "followup")
	obj := seedObj(t, ds, "ZTF21resave")

	first := Source{ObjID: obj.ID, GroupID: group.ID, Active: true, SavedByID: &user.ID}
	require.NoError(t, ds.SaveSource(&first))
	firstID := first.ID
	require.NotZero(t, firstID)

	// Unsaving flips the row inactive rather than deleting it.
	unsave := Source{ObjID: obj.ID, GroupID: group.ID, Active: false}
	require.NoError(t, ds.SaveSource(&unsave))
	assert.Equal(t, firstID, unsave.ID, "unsave should reuse the existing row")

	owned, err := ds.IsObjOwnedBy(obj.ID, []uint{group.ID})
	require.NoError(t, err)
	assert.False(t, owned)

	// Saving again reactivates the same row instead of violating the
	// (obj, group) unique index.
	resave := Source{ObjID: obj.ID, GroupID: group.ID, Active: true, SavedByID: &user.ID}
	require.NoError(t, ds.SaveSource(&resave))
	assert.Equal(t, firstID, resave.ID)

	owned, err = ds.IsObjOwnedBy(obj.ID, []uint{group.ID})
	require.NoError(t, err)
	assert.True(t, owned)
}

func TestClassificationsScopedByGroup(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	author := seedUser(t, ds, "ida")
	visible := seedGroup(t, ds, "classifiers")
	hidden := seedGroup(t, ds, "private-classifiers")
	obj := seedObj(t, ds, "ZTF21classify")

	probability := 0.91
	shared := Classification{
		ObjID:          obj.ID,
		Classification: "Ia",
		Taxonomy:       "sitewide",
		Probability:    &probability,
		AuthorID:       author.ID,
	}
	require.NoError(t, ds.CreateClassification(&shared, []uint{visible.ID}))

	private := Classification{
		ObjID:          obj.ID,
		Classification: "IIn",
		AuthorID:       author.ID,
		ML:             true,
	}
	require.NoError(t, ds.CreateClassification(&private, []uint{hidden.ID}))

	classifications, err := ds.GetObjClassifications(obj.ID, []uint{visible.ID})
	require.NoError(t, err)
	require.Len(t, classifications, 1)
	assert.Equal(t, "Ia", classifications[0].Classification)

	classifications, err = ds.GetObjClassifications(obj.ID, []uint{visible.ID, hidden.ID})
	require.NoError(t, err)
	assert.Len(t, classifications, 2)

	classifications, err = ds.GetObjClassifications(obj.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, classifications)

	// The unscoped view serves the summary indexer and sees everything.
	classifications, err = ds.GetAllObjClassifications(obj.ID)
	require.NoError(t, err)
	assert.Len(t, classifications, 2)

	classifications, err = ds.GetAllObjClassifications("ZTF00nothere")
	require.NoError(t, err)
	assert.Empty(t, classifications)

	err = ds.CreateClassification(&Classification{ObjID: obj.ID}, nil)
	assert.True(t, errors.IsValidation(err), "classification without a name should be rejected")
}
