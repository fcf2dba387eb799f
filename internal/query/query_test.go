package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdbx/jdbx/internal/jdbxerr"
	"github.com/jdbx/jdbx/internal/schema"
)

func seedDef(t *testing.T) *schema.Definition {
	t.Helper()
	def, err := schema.NewBuilder().
		Field("email", schema.TEXT, schema.FieldOption{Indexed: true, Unique: true}).
		Field("age", schema.INTEGER, schema.FieldOption{Indexed: true}).
		Field("role", schema.TEXT, schema.FieldOption{Indexed: true}).
		Field("name", schema.TEXT, schema.FieldOption{}).
		Field("tags", schema.BLOB, schema.FieldOption{Indexed: true}).
		CompoundIndex("age_email", []string{"age", "email"}, false).
		Timestamps(true).
		Build()
	require.NoError(t, err)
	return def
}

// TestTranslateEqualityVsNull matches spec.md's seed scenario S2.
func TestTranslateEqualityVsNull(t *testing.T) {
	def := seedDef(t)

	r, err := Translate(M{"email": "a@b.c"}, Options{}, def, nil)
	require.NoError(t, err)
	require.Equal(t, `("_email" = ?)`, r.WhereSQL)
	require.Equal(t, []any{"a@b.c"}, r.Args)

	r, err = Translate(M{"email": nil}, Options{}, def, nil)
	require.NoError(t, err)
	require.Equal(t, `("_email" IS NULL)`, r.WhereSQL)
	require.Empty(t, r.Args)
}

// TestTranslateRangeAndIn matches spec.md's seed scenario S3.
func TestTranslateRangeAndIn(t *testing.T) {
	def := seedDef(t)

	r, err := Translate(M{
		"age":  M{OpGte: 18, OpLt: 65},
		"role": M{OpIn: []any{"a", "b"}},
	}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, `"_age" >= ?`)
	require.Contains(t, r.WhereSQL, `"_age" < ?`)
	require.Contains(t, r.WhereSQL, `"_role" IN (?, ?)`)
	require.Equal(t, []any{18, 65, "a", "b"}, r.Args)
}

func TestTranslateInEmptyYieldsFalse(t *testing.T) {
	def := seedDef(t)
	r, err := Translate(M{"role": M{OpIn: []any{}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "1=0")
	require.Empty(t, r.Args)
}

func TestTranslateNinEmptyYieldsTrue(t *testing.T) {
	def := seedDef(t)
	r, err := Translate(M{"role": M{OpNin: []any{}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "1=1")
}

func TestTranslateAndOrNorNot(t *testing.T) {
	def := seedDef(t)

	r, err := Translate(M{OpAnd: []any{}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "1=1")

	r, err = Translate(M{OpOr: []any{}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "1=0")

	r, err = Translate(M{OpNor: []any{M{"age": 1}, M{"age": 2}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.True(t, strContains(r.WhereSQL, "NOT ("))

	r, err = Translate(M{OpNot: M{"age": 1}}, Options{}, def, nil)
	require.NoError(t, err)
	require.True(t, strContains(r.WhereSQL, "NOT ("))
}

func strContains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestTranslateRangeOnStringFieldIsTypeMismatch(t *testing.T) {
	def := seedDef(t)
	_, err := Translate(M{"name": M{OpGt: "x"}}, Options{}, def, nil)
	require.Error(t, err)
	code, ok := jdbxerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, jdbxerr.TypeMismatch, code)
}

func TestTranslateStringOpOnNonStringFieldIsTypeMismatch(t *testing.T) {
	def := seedDef(t)
	_, err := Translate(M{"age": M{OpLike: "1%"}}, Options{}, def, nil)
	require.Error(t, err)
	code, ok := jdbxerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, jdbxerr.TypeMismatch, code)
}

func TestTranslateArrayOpOnNonArrayFieldIsTypeMismatch(t *testing.T) {
	def := seedDef(t)
	_, err := Translate(M{"age": M{OpSize: 3}}, Options{}, def, nil)
	require.Error(t, err)
	code, ok := jdbxerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, jdbxerr.TypeMismatch, code)
}

func TestTranslateContainsEscapesWildcards(t *testing.T) {
	def := seedDef(t)
	r, err := Translate(M{"name": M{OpContains: "50%_off"}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Equal(t, []any{`%50\%\_off%`}, r.Args)
}

func TestTranslateElemMatchRewritesValueColumn(t *testing.T) {
	def := seedDef(t)
	r, err := Translate(M{"tags": M{OpElemMatch: M{"name": "x"}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "json_each")
	require.Contains(t, r.WhereSQL, "json_extract(value,")
	require.NotContains(t, r.WhereSQL, "json_extract(body,")
}

func TestTranslateIndexOperator(t *testing.T) {
	def := seedDef(t)
	r, err := Translate(M{"tags": M{OpIndex: []any{0, "first"}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Contains(t, r.WhereSQL, "$[0]")
	require.Equal(t, []any{"first"}, r.Args)
}

func TestTranslateSortLimitSkip(t *testing.T) {
	def := seedDef(t)
	limit, skip := 10, 5
	r, err := Translate(M{}, Options{
		Sort:  []SortField{{Field: "age", Desc: true}, {Field: "_id"}},
		Limit: &limit,
		Skip:  &skip,
	}, def, nil)
	require.NoError(t, err)
	require.Equal(t, `ORDER BY "_age" DESC, "_id" ASC`, r.OrderBySQL)
	sql, args := r.SQLTail()
	require.Contains(t, sql, "LIMIT ? OFFSET ?")
	require.Equal(t, []any{10, 5}, args)
}

func TestTranslateProjectionPrecedenceAndMixError(t *testing.T) {
	def := seedDef(t)

	r, err := Translate(M{}, Options{Projection: M{"email": 1, "age": 1}}, def, nil)
	require.NoError(t, err)
	require.Equal(t, ProjectInclude, r.Projection.Mode)
	require.True(t, r.Projection.KeepID)

	r, err = Translate(M{}, Options{Projection: M{"email": 0}}, def, nil)
	require.NoError(t, err)
	require.Equal(t, ProjectExclude, r.Projection.Mode)

	_, err = Translate(M{}, Options{Projection: M{"email": 1, "age": 0}}, def, nil)
	require.Error(t, err)

	r, err = Translate(M{}, Options{Select: []string{"email"}}, def, nil)
	require.NoError(t, err)
	require.Equal(t, ProjectInclude, r.Projection.Mode)
}

func TestBuildCursorFilterAscendingAfter(t *testing.T) {
	sort := []SortField{{Field: "age"}}
	f, err := BuildCursorFilter(sort, AnchorValues{ID: "id10", Values: []any{10}}, false)
	require.NoError(t, err)
	or, ok := f[OpOr]
	require.True(t, ok)
	list, _ := asSlice(or)
	require.Len(t, list, 2) // one CMP clause + final tie-break
}

// TestCacheReusesTemplateAcrossShapeIdenticalFilters matches spec §4.2's
// template-cache description: same shape, different values, one
// compilation.
func TestCacheReusesTemplateAcrossShapeIdenticalFilters(t *testing.T) {
	def := seedDef(t)
	c := NewCache(10)

	r1, err := c.TranslateCached(M{"email": "a@b.c"}, Options{}, def, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"a@b.c"}, r1.Args)

	r2, err := c.TranslateCached(M{"email": "z@z.z"}, Options{}, def, nil)
	require.NoError(t, err)
	require.Equal(t, []any{"z@z.z"}, r2.Args)
	require.Equal(t, r1.WhereSQL, r2.WhereSQL)
}

func TestCacheSkipsElemMatchIndexAll(t *testing.T) {
	def := seedDef(t)
	c := NewCache(10)

	_, err := c.TranslateCached(M{"tags": M{OpAll: []any{"a"}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Empty(t, c.entries)

	_, err = c.TranslateCached(M{"tags": M{OpIndex: []any{0, "a"}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Empty(t, c.entries)

	_, err = c.TranslateCached(M{"tags": M{OpElemMatch: M{"x": 1}}}, Options{}, def, nil)
	require.NoError(t, err)
	require.Empty(t, c.entries)
}

func TestCacheFIFOEviction(t *testing.T) {
	c := NewCache(2)
	def := seedDef(t)

	_, _ = c.TranslateCached(M{"email": "a"}, Options{Sort: []SortField{{Field: "age"}}}, def, nil)
	_, _ = c.TranslateCached(M{"role": "a"}, Options{Sort: []SortField{{Field: "age"}}}, def, nil)
	require.Len(t, c.entries, 2)

	_, _ = c.TranslateCached(M{"name": "a"}, Options{Sort: []SortField{{Field: "age"}}}, def, nil)
	require.Len(t, c.entries, 2)
}

func TestProjectionPlanApplyIncludeKeepsID(t *testing.T) {
	plan := &ProjectionPlan{Mode: ProjectInclude, Fields: map[string]bool{"name": true}, KeepID: true}
	out := plan.Apply(map[string]any{"_id": "1", "name": "x", "age": 9})
	require.Equal(t, map[string]any{"_id": "1", "name": "x"}, out)
}

func TestProjectionPlanApplyExclude(t *testing.T) {
	plan := &ProjectionPlan{Mode: ProjectExclude, Fields: map[string]bool{"age": true}}
	out := plan.Apply(map[string]any{"_id": "1", "name": "x", "age": 9})
	require.Equal(t, map[string]any{"_id": "1", "name": "x"}, out)
}
