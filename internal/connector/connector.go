// Package connector defines the abstract storage contract consumed by the
// query orchestrator and, through the narrower object.Connector slice, by
// the object runtime itself. Two implementations ship: an in-memory
// arena-backed connector (package memory) and a MySQL connector (package
// sql).
package connector

import (
	"context"

	"weave/internal/object"
	"weave/internal/schema"
	"weave/internal/value"
)

// SortTerm is one {field: direction} entry of an orderBy list.
type SortTerm struct {
	Field     string
	Direction schema.SortDirection
}

// AggregateSelector names one _count/_sum/_avg/_min/_max request against a
// field, as decoded from an aggregate/groupBy spec.
type AggregateSelector struct {
	Op    string // "count" | "sum" | "avg" | "min" | "max"
	Field string
}

// Query carries the full filter/shape a findMany-family operation or an
// aggregate/groupBy may specify.
type Query struct {
	Where    map[string]value.Value
	OrderBy  []SortTerm
	Cursor   map[string]value.Value
	Take     int
	HasTake  bool
	Skip     int
	Distinct []string
	Include  map[string]object.FindOptions
	Select   map[string]bool

	// GroupBy/Aggregate-only fields.
	GroupFields []string
	Having      *Query
	Aggregates  []AggregateSelector
}

// Connector is the abstract storage contract consumed by package query.
// Implementations must read only an Object's dirty fields (object.Object's
// ModifiedFields), never its full value map, when issuing updates.
type Connector interface {
	SaveObject(ctx context.Context, obj *object.Object) error
	DeleteObject(ctx context.Context, obj *object.Object) error
	FindUnique(ctx context.Context, model *schema.Model, q *Query) (*object.Object, error)
	FindFirst(ctx context.Context, model *schema.Model, q *Query) (*object.Object, error)
	FindMany(ctx context.Context, model *schema.Model, q *Query) ([]*object.Object, error)
	Count(ctx context.Context, model *schema.Model, q *Query) (int64, error)
	Aggregate(ctx context.Context, model *schema.Model, q *Query) (value.Value, error)
	GroupBy(ctx context.Context, model *schema.Model, q *Query) ([]value.Value, error)
	NewSaveSession(ctx context.Context) (object.SaveSession, error)

	// NewObject allocates a fresh Object bound to this connector, so package
	// query never needs to know which connector implementation is in play.
	NewObject(model *schema.Model) *object.Object
}
