package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/value"
)

func buildUserPostGraph(t *testing.T) *Graph {
	t.Helper()
	b := NewBuilder()
	b.Model("User", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32, AutoIncrement: true, Auto: true})
		mb.Field("email", &Field{Kind: value.KindString})
		mb.PrimaryIndex("id")
		mb.UniqueIndex("email")
		mb.Relation("posts", &Relation{TargetModel: "Post", IsVec: true, Fields: []string{"id"}, References: []string{"authorId"}})
		mb.EnableActions(ActionFindUnique, ActionFindMany, ActionCreate)
	})
	b.Model("Post", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32, AutoIncrement: true, Auto: true})
		mb.Field("authorId", &Field{Kind: value.KindInt32})
		mb.PrimaryIndex("id")
		mb.Relation("author", &Relation{TargetModel: "User", Fields: []string{"authorId"}, References: []string{"id"}})
		mb.EnableActions(ActionFindUnique, ActionCreate)
	})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func TestBuilderBuildsGraph(t *testing.T) {
	g := buildUserPostGraph(t)
	m, ok := g.Model("User")
	require.True(t, ok)
	assert.True(t, m.HasAction(ActionFindUnique))
	assert.False(t, m.HasAction(ActionDelete))
	assert.Equal(t, []string{"id"}, m.PrimaryFieldNames())
	assert.True(t, m.IsUniqueWhereShape(map[string]bool{"email": true}))
	assert.False(t, m.IsUniqueWhereShape(map[string]bool{"nonexistent": true}))
}

func TestBuilderDuplicateModelName(t *testing.T) {
	b := NewBuilder()
	b.Model("User", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32})
		mb.PrimaryIndex("id")
	})
	b.Model("User", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32})
		mb.PrimaryIndex("id")
	})
	_, err := b.Build()
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, DuplicateName, se.Kind)
}

func TestBuilderMissingPrimary(t *testing.T) {
	b := NewBuilder()
	b.Model("User", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32})
	})
	_, err := b.Build()
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, PrimaryMissing, se.Kind)
}

func TestBuilderUnknownRelationTarget(t *testing.T) {
	b := NewBuilder()
	b.Model("User", func(mb *ModelBuilder) {
		mb.Field("id", &Field{Kind: value.KindInt32})
		mb.PrimaryIndex("id")
		mb.Relation("posts", &Relation{TargetModel: "Missing", IsVec: true, Fields: []string{"id"}, References: []string{"authorId"}})
	})
	_, err := b.Build()
	require.Error(t, err)
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, UnknownModel, se.Kind)
}

func TestBuilderIdentityModelRequiresAuthKeys(t *testing.T) {
	b := NewBuilder()
	b.Model("User", func(mb *ModelBuilder) {
		mb.Identity()
		mb.Field("id", &Field{Kind: value.KindInt32})
		mb.PrimaryIndex("id")
	})
	_, err := b.Build()
	require.Error(t, err)
}

func TestOppositeRelationResolvesMirrorSide(t *testing.T) {
	g := buildUserPostGraph(t)
	user, _ := g.Model("User")
	post, _ := g.Model("Post")
	r, _ := user.Relation("posts")
	target, opp, ok := g.OppositeRelation(r, user)
	require.True(t, ok)
	assert.Equal(t, post, target)
	assert.Equal(t, "author", opp.Name)
}

func TestModelNameForURLSegment(t *testing.T) {
	g := buildUserPostGraph(t)
	name, ok := g.ModelNameForURLSegment("User")
	require.True(t, ok)
	assert.Equal(t, "User", name)
	_, ok = g.ModelNameForURLSegment("nonexistent")
	assert.False(t, ok)
}
