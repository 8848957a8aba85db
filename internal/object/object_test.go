package object

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/action"
	"weave/internal/schema"
	"weave/internal/value"
)

// fakeConnector is an in-memory stand-in for package connector, exercising
// the object runtime's Save/Delete/Refreshed paths without a real backend.
type fakeConnector struct {
	rows    map[string][]map[string]value.Value
	nextID  map[string]int32
	saveErr error
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{rows: map[string][]map[string]value.Value{}, nextID: map[string]int32{}}
}

func (c *fakeConnector) NewSaveSession(ctx context.Context) (SaveSession, error) {
	return fakeSession{}, nil
}

type fakeSession struct{}

func (fakeSession) Commit() error   { return nil }
func (fakeSession) Rollback() error { return nil }

func (c *fakeConnector) SaveObject(ctx context.Context, obj *Object) error {
	if c.saveErr != nil {
		return c.saveErr
	}
	snap := obj.Snapshot()
	name := obj.Model().Name
	if obj.IsNew() {
		if idF, ok := obj.Model().Field("id"); ok && idF.AutoIncrement {
			if _, has := snap["id"]; !has {
				c.nextID[name]++
				snap["id"] = value.Int32(c.nextID[name])
				_ = obj.Set("id", snap["id"])
			}
		}
		c.rows[name] = append(c.rows[name], snap)
		return nil
	}
	for i, row := range c.rows[name] {
		if matches(row, snap, obj.Model().PrimaryFieldNames()) {
			c.rows[name][i] = snap
			return nil
		}
	}
	c.rows[name] = append(c.rows[name], snap)
	return nil
}

func (c *fakeConnector) DeleteObject(ctx context.Context, obj *Object) error {
	snap := obj.Snapshot()
	name := obj.Model().Name
	out := c.rows[name][:0]
	for _, row := range c.rows[name] {
		if !matches(row, snap, obj.Model().PrimaryFieldNames()) {
			out = append(out, row)
		}
	}
	c.rows[name] = out
	return nil
}

func (c *fakeConnector) FindUniqueByWhere(ctx context.Context, model *schema.Model, where map[string]value.Value, opts FindOptions) (*Object, error) {
	for _, row := range c.rows[model.Name] {
		if matches(row, where, keysOf(where)) {
			o := New(nil, model, c)
			o.Hydrate(row)
			return o, nil
		}
	}
	return nil, action.New(action.ObjectNotFound, "no matching row")
}

func (c *fakeConnector) FindManyByWhere(ctx context.Context, model *schema.Model, where map[string]value.Value, opts FindOptions) ([]*Object, error) {
	var out []*Object
	for _, row := range c.rows[model.Name] {
		if matches(row, where, keysOf(where)) {
			o := New(nil, model, c)
			o.Hydrate(row)
			out = append(out, o)
		}
	}
	return out, nil
}

func keysOf(m map[string]value.Value) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func matches(row, filter map[string]value.Value, keys []string) bool {
	for _, k := range keys {
		fv, ok := filter[k]
		if !ok {
			continue
		}
		rv, ok := row[k]
		if !ok || !value.Equal(rv, fv) {
			return false
		}
	}
	return true
}

func userPostGraph(t *testing.T) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	b.Model("User", func(mb *schema.ModelBuilder) {
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("email", &schema.Field{Kind: value.KindString, Optionality: schema.Required})
		mb.PrimaryIndex("id")
		mb.UniqueIndex("email")
		mb.Relation("posts", &schema.Relation{TargetModel: "Post", IsVec: true, Fields: []string{"id"}, References: []string{"authorId"}})
		mb.EnableActions(schema.ActionFindUnique, schema.ActionCreate, schema.ActionUpdate)
	})
	b.Model("Post", func(mb *schema.ModelBuilder) {
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("title", &schema.Field{Kind: value.KindString, Optionality: schema.Required})
		mb.Field("authorId", &schema.Field{Kind: value.KindInt32, Optionality: schema.Optional})
		mb.PrimaryIndex("id")
		mb.Relation("author", &schema.Relation{TargetModel: "User", Fields: []string{"authorId"}, References: []string{"id"}, Optionality: schema.Optional})
		mb.EnableActions(schema.ActionFindUnique, schema.ActionCreate)
	})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestSetAndGetField(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, m, conn)

	require.NoError(t, o.Set("email", value.String("a@example.com")))
	v, err := o.Get("email")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", v.String())
}

func TestSetUnknownFieldRejected(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	err := o.Set("nonexistent", value.String("x"))
	require.Error(t, err)
	var ae *action.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, action.KeysUnallowed, ae.Kind)
}

func TestSetMarksModifiedOnlyWhenNotNew(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	require.NoError(t, o.Set("email", value.String("a@example.com")))
	assert.False(t, o.IsModified())

	o.Hydrate(map[string]value.Value{"id": value.Int32(1), "email": value.String("a@example.com")})
	require.NoError(t, o.Set("email", value.String("b@example.com")))
	assert.True(t, o.IsModified())
	assert.True(t, o.ModifiedFields()["email"])
}

func TestSaveNewObjectAssignsAutoIncrementID(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, m, conn)
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{"email": "a@example.com"}))
	require.NoError(t, o.Save(context.Background()))
	assert.False(t, o.IsNew())

	v, err := o.Get("id")
	require.NoError(t, err)
	assert.Equal(t, int32(1), v.Int32())
}

func TestSaveRequiredFieldMissingFails(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, m, conn)
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{}))
	err := o.Save(context.Background())
	require.Error(t, err)
	var ae *action.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, action.ValueRequired, ae.Kind)
}

func TestDeleteMarksDeleted(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, m, conn)
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{"email": "a@example.com"}))
	require.NoError(t, o.Save(context.Background()))

	require.NoError(t, o.Delete(context.Background()))
	assert.True(t, o.IsDeleted())
	assert.Empty(t, conn.rows["User"])
}

func TestRefreshedReloadsByPrimaryKey(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, m, conn)
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{"email": "a@example.com"}))
	require.NoError(t, o.Save(context.Background()))

	fresh, err := o.Refreshed(context.Background(), nil, nil)
	require.NoError(t, err)
	v, err := fresh.Get("email")
	require.NoError(t, err)
	assert.Equal(t, "a@example.com", v.String())
}

func TestSetSelectFiltersOutputKeys(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	o.Hydrate(map[string]value.Value{"id": value.Int32(1), "email": value.String("a@example.com")})

	o.SetSelect(map[string]bool{"email": true})
	j, err := o.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, j, "email")
	assert.NotContains(t, j, "id")
}

func TestSetSelectExclusionForm(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	o.Hydrate(map[string]value.Value{"id": value.Int32(1), "email": value.String("a@example.com")})

	o.SetSelect(map[string]bool{"email": false})
	j, err := o.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, j, "id")
	assert.NotContains(t, j, "email")
}

func TestCreateRelationViaNestedCreate(t *testing.T) {
	g := userPostGraph(t)
	userModel, _ := g.Model("User")
	conn := newFakeConnector()
	o := New(g, userModel, conn)
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{
		"email": "a@example.com",
		"posts": map[string]any{
			"create": map[string]any{"title": "hello"},
		},
	}))
	require.NoError(t, o.Save(context.Background()))

	require.Len(t, conn.rows["Post"], 1)
	assert.Equal(t, int32(1), conn.rows["Post"][0]["authorId"].Int32())
}

func TestDisconnectOnNewObjectRejected(t *testing.T) {
	g := userPostGraph(t)
	postModel, _ := g.Model("Post")
	conn := newFakeConnector()
	userModel, _ := g.Model("User")
	userObj := New(g, userModel, conn)
	require.NoError(t, userObj.SetJSON(context.Background(), map[string]any{"email": "a@example.com"}))
	require.NoError(t, userObj.Save(context.Background()))

	post := New(g, postModel, conn)
	err := post.SetJSON(context.Background(), map[string]any{
		"title": "t",
		"author": map[string]any{
			"disconnect": map[string]any{"id": float64(1)},
		},
	})
	require.Error(t, err)
	var ae *action.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, action.NewObjectCannotDisconnect, ae.Kind)
}

func TestUpdateJSONRejectsRelationKeys(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	o.Hydrate(map[string]value.Value{"id": value.Int32(1), "email": value.String("a@example.com")})

	err := o.UpdateJSON(context.Background(), map[string]any{"posts": map[string]any{"create": map[string]any{"title": "x"}}})
	require.Error(t, err)
	var ae *action.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, action.KeysUnallowed, ae.Kind)
}

func TestPreviousValueKeptUntilSaveCompletes(t *testing.T) {
	b := schema.NewBuilder()
	b.Model("Doc", func(mb *schema.ModelBuilder) {
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("body", &schema.Field{Kind: value.KindString, Optionality: schema.Required, PreviousValueRule: schema.KeepAfterSaved})
		mb.PrimaryIndex("id")
		mb.EnableActions(schema.ActionCreate, schema.ActionUpdate)
	})
	docGraph, err := b.Build()
	require.NoError(t, err)

	m, _ := docGraph.Model("Doc")
	conn := newFakeConnector()
	o := New(docGraph, m, conn)
	o.Hydrate(map[string]value.Value{"id": value.Int32(1), "body": value.String("old")})

	require.NoError(t, o.SetJSON(context.Background(), map[string]any{"body": "new"}))
	prev, ok := o.PreviousValue("body")
	require.True(t, ok)
	assert.Equal(t, "old", prev.String())

	require.NoError(t, o.Save(context.Background()))
	_, ok = o.PreviousValue("body")
	assert.False(t, ok)
}

func TestNestedCreateExemptsRequiredForeignKey(t *testing.T) {
	g := requiredOppositeGraph(t)
	userModel, _ := g.Model("User")
	conn := newFakeConnector()

	user := New(g, userModel, conn)
	require.NoError(t, user.SetJSON(context.Background(), map[string]any{
		"email": "a@example.com",
		"posts": map[string]any{"create": map[string]any{"title": "p1"}},
	}))
	require.NoError(t, user.Save(context.Background()))

	require.Len(t, conn.rows["Post"], 1)
	assert.Equal(t, int32(1), conn.rows["Post"][0]["authorId"].Int32())
}

func TestIgnoreRequiredForExemptsField(t *testing.T) {
	g := userPostGraph(t)
	m, _ := g.Model("User")
	o := New(g, m, newFakeConnector())
	o.IgnoreRequiredFor("email")
	require.NoError(t, o.SetJSON(context.Background(), map[string]any{}))
	require.NoError(t, o.Save(context.Background()))
}
