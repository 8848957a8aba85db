package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/schema"
	"weave/internal/value"
)

func userGraph(t *testing.T) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	b.Model("User", func(mb *schema.ModelBuilder) {
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("email", &schema.Field{Kind: value.KindString, Optionality: schema.Required})
		mb.PrimaryIndex("id")
		mb.UniqueIndex("email")
		mb.EnableActions(schema.ActionCreate, schema.ActionCreateMany, schema.ActionFindUnique)
	})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

// TestSaveObjectRejectsDuplicateUnique: a second insert whose unique field
// collides with an already-stored row must fail, not silently succeed with
// a distinct primary key.
func TestSaveObjectRejectsDuplicateUnique(t *testing.T) {
	g := userGraph(t)
	m, _ := g.Model("User")
	conn := New(g)
	ctx := context.Background()

	first := conn.NewObject(m)
	require.NoError(t, first.SetJSON(ctx, map[string]any{"email": "a@example.com"}))
	require.NoError(t, first.Save(ctx))

	second := conn.NewObject(m)
	require.NoError(t, second.SetJSON(ctx, map[string]any{"email": "a@example.com"}))
	err := second.Save(ctx)
	require.Error(t, err)

	rows := conn.rows["User"]
	assert.Len(t, rows, 1)
}

// TestSaveObjectAllowsDistinctUnique is the control case for the above.
func TestSaveObjectAllowsDistinctUnique(t *testing.T) {
	g := userGraph(t)
	m, _ := g.Model("User")
	conn := New(g)
	ctx := context.Background()

	first := conn.NewObject(m)
	require.NoError(t, first.SetJSON(ctx, map[string]any{"email": "a@example.com"}))
	require.NoError(t, first.Save(ctx))

	second := conn.NewObject(m)
	require.NoError(t, second.SetJSON(ctx, map[string]any{"email": "b@example.com"}))
	require.NoError(t, second.Save(ctx))

	assert.Len(t, conn.rows["User"], 2)
}

// TestSaveObjectUpdateOwnRowNotRejected ensures re-saving the same row under
// its own unique value (an update, not a new collision) is never rejected.
func TestSaveObjectUpdateOwnRowNotRejected(t *testing.T) {
	g := userGraph(t)
	m, _ := g.Model("User")
	conn := New(g)
	ctx := context.Background()

	obj := conn.NewObject(m)
	require.NoError(t, obj.SetJSON(ctx, map[string]any{"email": "a@example.com"}))
	require.NoError(t, obj.Save(ctx))

	require.NoError(t, obj.UpdateJSON(ctx, map[string]any{"email": "a@example.com"}))
	require.NoError(t, obj.Save(ctx))

	assert.Len(t, conn.rows["User"], 1)
}
