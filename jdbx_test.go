package jdbx_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdbx/jdbx"
)

func openTestDB(t *testing.T) *jdbx.Database {
	t.Helper()
	db, err := jdbx.Open(jdbx.Config{Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// ageSchema builds a schema with an indexed integer age field, used by the
// cursor pagination scenario.
func ageSchema(t *testing.T) *jdbx.SchemaDefinition {
	t.Helper()
	def, err := jdbx.NewSchema().
		Field("age", jdbx.INTEGER, jdbx.FieldOption{Indexed: true}).
		Build()
	require.NoError(t, err)
	return def
}

func emailSchema(t *testing.T) *jdbx.SchemaDefinition {
	t.Helper()
	def, err := jdbx.NewSchema().
		Field("email", jdbx.TEXT, jdbx.FieldOption{Indexed: true, Unique: true}).
		Timestamps(true).
		Build()
	require.NoError(t, err)
	return def
}

// nameSchema builds a schema with an indexed TEXT name field, used by the
// non-numeric cursor pagination scenario.
func nameSchema(t *testing.T) *jdbx.SchemaDefinition {
	t.Helper()
	def, err := jdbx.NewSchema().
		Field("name", jdbx.TEXT, jdbx.FieldOption{Indexed: true}).
		Build()
	require.NoError(t, err)
	return def
}

// S5 — unique constraint: a second insert with the same email fails with
// UNIQUE_CONSTRAINT naming the field and value; no retry occurs.
func TestSeedScenarioUniqueConstraint(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "users", emailSchema(t))
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"email": "x@y.z"}, jdbx.InsertOptions{})
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"email": "x@y.z"}, jdbx.InsertOptions{})
	require.Error(t, err)
	code, ok := jdbx.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, jdbx.UniqueConstraint, code)
	var jerr *jdbx.Error
	require.ErrorAs(t, err, &jerr)
	require.Equal(t, "email", jerr.Field)
	require.Equal(t, "x@y.z", jerr.Value)
	require.False(t, jdbx.Retryable(err))
}

// S6 — atomic find-and-update: findOneAndUpdate with returnDocument:
// 'before' returns the prior state while the stored document reflects the
// update.
func TestSeedScenarioAtomicFindAndUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "counters", noIndexSchema(t))
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"_id": "u1", "count": int64(0)}, jdbx.InsertOptions{})
	require.NoError(t, err)

	before, err := c.FindOneAndUpdate(ctx, "u1", jdbx.Doc{"count": int64(1)}, jdbx.FindModifyOptions{
		ReturnDocument: jdbx.ReturnBefore,
	})
	require.NoError(t, err)
	require.Equal(t, float64(0), before["count"])

	after, err := c.FindById(ctx, "u1", jdbx.FindOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, after["count"])
}

// S7 — cancellation: an already-cancelled context raises OPERATION_ABORTED
// before any row change is committed.
func TestSeedScenarioCancellation(t *testing.T) {
	db := openTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c, err := db.Collection(context.Background(), "things", noIndexSchema(t))
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"_id": "a"}, jdbx.InsertOptions{})
	require.Error(t, err)
	require.True(t, jdbx.IsAborted(err))

	found, err := c.FindById(context.Background(), "a", jdbx.FindOptions{})
	require.NoError(t, err)
	require.Nil(t, found)
}

// S4 — cursor pagination: concatenating cursor-paginated pages reproduces
// the full unpaginated find exactly.
func TestSeedScenarioCursorPagination(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "ages", ageSchema(t))
	require.NoError(t, err)

	for age := 1; age <= 50; age++ {
		_, err := c.InsertOne(ctx, jdbx.Doc{"age": int64(age)}, jdbx.InsertOptions{})
		require.NoError(t, err)
	}

	sortSpec := []jdbx.SortField{{Field: "age", Desc: false}}

	full, err := c.Find(ctx, nil, jdbx.FindOptions{Sort: sortSpec})
	require.NoError(t, err)
	require.Len(t, full, 50)

	var paged []jdbx.Doc
	page1, err := c.FindWithCursor(ctx, nil, sortSpec, nil, 10, jdbx.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page1, 10)
	paged = append(paged, page1...)

	lastID := page1[len(page1)-1]["_id"].(string)
	for len(paged) < 50 {
		cursor := &jdbx.Cursor{After: lastID}
		page, err := c.FindWithCursor(ctx, nil, sortSpec, cursor, 10, jdbx.FindOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, page)
		paged = append(paged, page...)
		lastID = page[len(page)-1]["_id"].(string)
	}

	require.Len(t, paged, 50)
	for i := range full {
		require.Equal(t, full[i]["_id"], paged[i]["_id"])
		require.EqualValues(t, full[i]["age"], paged[i]["age"])
	}
}

// Cursor pagination must hold over a TEXT sort key too, not just an
// indexed integer one (spec §4.4 invariant #4 covers any sortable field).
func TestSeedScenarioCursorPaginationTextSort(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "names", nameSchema(t))
	require.NoError(t, err)

	names := []string{"alice", "bob", "carol", "dave", "erin"}
	for _, n := range names {
		_, err := c.InsertOne(ctx, jdbx.Doc{"name": n}, jdbx.InsertOptions{})
		require.NoError(t, err)
	}

	sortSpec := []jdbx.SortField{{Field: "name", Desc: false}}

	full, err := c.Find(ctx, nil, jdbx.FindOptions{Sort: sortSpec})
	require.NoError(t, err)
	require.Len(t, full, len(names))

	page1, err := c.FindWithCursor(ctx, nil, sortSpec, nil, 2, jdbx.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	paged := append([]jdbx.Doc{}, page1...)

	lastID := page1[len(page1)-1]["_id"].(string)
	for len(paged) < len(names) {
		cursor := &jdbx.Cursor{After: lastID}
		page, err := c.FindWithCursor(ctx, nil, sortSpec, cursor, 2, jdbx.FindOptions{})
		require.NoError(t, err)
		require.NotEmpty(t, page)
		paged = append(paged, page...)
		lastID = page[len(page)-1]["_id"].(string)
	}

	require.Len(t, paged, len(names))
	for i := range full {
		require.Equal(t, full[i]["_id"], paged[i]["_id"])
		require.Equal(t, full[i]["name"], paged[i]["name"])
	}
}

// A projection of exactly {_id: 0} is all-exclude mode and must drop _id
// too (spec §4.3), not just pass every field through untouched.
func TestFindProjectionIDOnlyExclusionDropsID(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"_id": "p1", "name": "Ada"}, jdbx.InsertOptions{})
	require.NoError(t, err)

	docs, err := c.Find(ctx, nil, jdbx.FindOptions{Projection: jdbx.M{"_id": 0}})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	_, hasID := docs[0]["_id"]
	require.False(t, hasID)
	require.Equal(t, "Ada", docs[0]["name"])
}

// HashIDFactory is a selectable Config.IDGenerator for content-addressed
// IDs instead of random UUIDs.
func TestInsertOneWithHashIDFactory(t *testing.T) {
	factory := jdbx.HashIDFactory("usr", 6, func() (title, description, creator string) {
		return "Ada Lovelace", "", "system"
	})
	db, err := jdbx.Open(jdbx.Config{Database: ":memory:", IDGenerator: factory})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	doc, err := c.InsertOne(ctx, jdbx.Doc{"name": "Ada"}, jdbx.InsertOptions{})
	require.NoError(t, err)
	id := doc["_id"].(string)
	require.True(t, strings.HasPrefix(id, "usr-"))
	require.Len(t, id, len("usr-")+6)

	again, err := c.InsertOne(ctx, jdbx.Doc{"name": "Ada"}, jdbx.InsertOptions{})
	require.NoError(t, err)
	require.NotEqual(t, id, again["_id"])
}

func TestUpsertInsertsWhenNoMatch(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "upserts", emailSchema(t))
	require.NoError(t, err)

	res, err := c.UpdateOne(ctx, jdbx.M{"email": "new@example.com"}, jdbx.Doc{"name": "Ada"}, jdbx.UpdateOptions{Upsert: true})
	require.NoError(t, err)
	require.NotEmpty(t, res.UpsertedID)
	require.Equal(t, 0, res.MatchedCount)

	doc, err := c.FindById(ctx, res.UpsertedID, jdbx.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, "new@example.com", doc["email"])
	require.Equal(t, "Ada", doc["name"])
}

func TestUpdateManyRejectsUpsert(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "things", noIndexSchema(t))
	require.NoError(t, err)

	_, err = c.UpdateMany(ctx, jdbx.M{}, jdbx.Doc{"x": int64(1)}, jdbx.UpdateOptions{Upsert: true})
	require.Error(t, err)
}

func TestDeepMergeUnsetRemovesField(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	doc, err := c.InsertOne(ctx, jdbx.Doc{"_id": "d1", "a": int64(1), "b": int64(2)}, jdbx.InsertOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(1), doc["a"])

	_, err = c.UpdateOne(ctx, "d1", jdbx.Doc{"a": jdbx.Unset}, jdbx.UpdateOptions{})
	require.NoError(t, err)

	updated, err := c.FindById(ctx, "d1", jdbx.FindOptions{})
	require.NoError(t, err)
	_, hasA := updated["a"]
	require.False(t, hasA)
	require.EqualValues(t, 2, updated["b"])
}

func TestSoftDeleteSetsDeletedAt(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	_, err = c.InsertOne(ctx, jdbx.Doc{"_id": "d1"}, jdbx.InsertOptions{})
	require.NoError(t, err)

	res, err := c.SoftDeleteOne(ctx, "d1", jdbx.DeleteOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, res.DeletedCount)

	doc, err := c.FindById(ctx, "d1", jdbx.FindOptions{})
	require.NoError(t, err)
	require.NotNil(t, doc)
	require.Contains(t, doc, "deletedAt")
}

func TestCountDiagnosticsAgreeWithNoDrift(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := c.InsertOne(ctx, jdbx.Doc{}, jdbx.InsertOptions{})
		require.NoError(t, err)
	}

	diag, err := c.CountDiagnostics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(5), diag.Estimated)
	require.Equal(t, int64(5), diag.Exact)
}

func TestTransactionRollsBackAcrossCollections(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	a, err := db.Collection(ctx, "a", noIndexSchema(t))
	require.NoError(t, err)
	b, err := db.Collection(ctx, "b", noIndexSchema(t))
	require.NoError(t, err)

	err = db.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := a.InsertOne(ctx, jdbx.Doc{"_id": "a1"}, jdbx.InsertOptions{}); err != nil {
			return err
		}
		if _, err := b.InsertOne(ctx, jdbx.Doc{"_id": "b1"}, jdbx.InsertOptions{}); err != nil {
			return err
		}
		return context.DeadlineExceeded
	})
	require.Error(t, err)

	count, err := a.Count(ctx, nil, jdbx.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(0), count)

	count, err = b.Count(ctx, nil, jdbx.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, int64(0), count)
}

func TestMetadataIndexEnabled(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)
	require.NoError(t, c.EnableMetadataIndex(ctx))

	doc, err := c.InsertOne(ctx, jdbx.Doc{"nickname": "ace"}, jdbx.InsertOptions{})
	require.NoError(t, err)
	require.Equal(t, "ace", doc["nickname"])

	doc, err = c.FindById(ctx, doc["_id"].(string), jdbx.FindOptions{})
	require.NoError(t, err)
	require.Equal(t, "ace", doc["nickname"])
}

func noIndexSchema(t *testing.T) *jdbx.SchemaDefinition {
	t.Helper()
	def, err := jdbx.NewSchema().Timestamps(false).Build()
	require.NoError(t, err)
	return def
}

func TestEventFiresAfterCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	c, err := db.Collection(ctx, "docs", noIndexSchema(t))
	require.NoError(t, err)

	fired := make(chan jdbx.Doc, 1)
	c.Events().On(jdbx.EventInsert, func(payload any) {
		fired <- payload.(jdbx.Doc)
	})

	doc, err := c.InsertOne(ctx, jdbx.Doc{"_id": "e1"}, jdbx.InsertOptions{})
	require.NoError(t, err)

	select {
	case got := <-fired:
		require.Equal(t, doc["_id"], got["_id"])
	case <-time.After(time.Second):
		t.Fatal("insert event was not fired")
	}
}
