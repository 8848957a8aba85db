// Package schema holds the immutable model metadata graph: Graph, Model,
// Field, Relation, Index, and Enum. A Graph is built once at startup (either
// programmatically through Builder or declaratively from TOML, see toml.go)
// and is safe for unrestricted concurrent read access thereafter.
package schema

import (
	"fmt"

	"weave/internal/pipeline"
	"weave/internal/value"
)

// Action names one of the thirteen operations a model may expose, plus the
// two identity-model-only actions SignIn and Identity.
type Action string

const (
	ActionFindUnique  Action = "findUnique"
	ActionFindFirst   Action = "findFirst"
	ActionFindMany    Action = "findMany"
	ActionCreate      Action = "create"
	ActionUpdate      Action = "update"
	ActionUpsert      Action = "upsert"
	ActionDelete      Action = "delete"
	ActionCreateMany  Action = "createMany"
	ActionUpdateMany  Action = "updateMany"
	ActionDeleteMany  Action = "deleteMany"
	ActionCount       Action = "count"
	ActionAggregate   Action = "aggregate"
	ActionGroupBy     Action = "groupBy"
	ActionSignIn      Action = "signIn"
	ActionIdentity    Action = "identity"
)

// Optionality is Required or Optional for a Field or a Relation.
type Optionality int

const (
	Required Optionality = iota
	Optional
)

// PreviousValueRule controls whether Object stashes a field's pre-change
// value into its previous_value_map across a set_json call.
type PreviousValueRule int

const (
	DontKeep PreviousValueRule = iota
	KeepAfterSaved
)

// AtomicUpdateKind enumerates the atomic update operators a numeric/vector
// field may accept in place of a direct SetValue.
type AtomicUpdateKind string

const (
	AtomicIncrement AtomicUpdateKind = "increment"
	AtomicDecrement AtomicUpdateKind = "decrement"
	AtomicMultiply  AtomicUpdateKind = "multiply"
	AtomicDivide    AtomicUpdateKind = "divide"
	AtomicPush      AtomicUpdateKind = "push"
)

// Field carries one scalar column's full metadata, including its pipeline
// attachment points.
type Field struct {
	Name string
	// Kind is the scalar Value kind this field stores.
	Kind value.Kind
	// EnumName names the Enum this field's values are drawn from, when Kind == KindEnum.
	EnumName string
	Optionality Optionality
	// Auto marks a field whose value is always computed, never user-supplied.
	Auto bool
	// AutoIncrement marks a connector-assigned sequential integer primary key.
	AutoIncrement bool
	// Virtual fields never reach persistence; they exist only in input/output trees.
	Virtual bool
	// Default, when non-nil, supplies the value (or pipeline) run for an absent field on first set_json.
	Default *Default
	OnSet    *pipeline.Pipeline
	OnSave   *pipeline.Pipeline
	OnOutput *pipeline.Pipeline
	PreviousValueRule PreviousValueRule
	// AuthIdentity marks this field as a valid auth_identity_key on an identity model.
	AuthIdentity bool
	// AuthBy, when set, makes this field a valid auth_by_key whose pipeline is the sign-in checker.
	AuthBy *pipeline.Pipeline
	// AtomicKinds lists which atomic update operators this field's type accepts.
	AtomicKinds []AtomicUpdateKind

	// OnBeforeSave and OnAfterSave are reserved write-callback hooks:
	// settable through the builder, never invoked by Object.Save.
	OnBeforeSave *pipeline.Pipeline
	OnAfterSave  *pipeline.Pipeline
}

// Default is either a literal ValueArgument or a PipelineArgument evaluated
// with purpose=Create when a field is absent from the first set_json call.
type Default struct {
	Value    *value.Value
	Pipeline *pipeline.Pipeline
}

// Relation carries one edge's metadata: target model, cardinality, the local
// field(s) and the foreign reference field(s) they join against, and
// optionally a join-model name for many-to-many relations.
type Relation struct {
	Name        string
	TargetModel string
	IsVec       bool
	Optionality Optionality
	Fields      []string
	References  []string
	// Through, when non-empty, names a join model and switches this relation
	// into indirect (many-to-many) mode: Fields/References then name the
	// join model's two relations instead of column names.
	Through string
}

// Singular reports whether this relation is the non-vector side.
func (r *Relation) Singular() bool { return !r.IsVec }

// IndexType distinguishes the one mandatory Primary index from Unique and
// plain secondary Index entries.
type IndexType int

const (
	IndexPrimary IndexType = iota
	IndexUnique
	IndexSecondary
)

type SortDirection int

const (
	Asc SortDirection = iota
	Desc
)

type IndexItem struct {
	Field     string
	Direction SortDirection
}

type Index struct {
	Type  IndexType
	Items []IndexItem
}

// FieldNames returns the ordered field names participating in this index.
func (ix *Index) FieldNames() []string {
	out := make([]string, len(ix.Items))
	for i, it := range ix.Items {
		out[i] = it.Field
	}
	return out
}

// Enum is a named, closed set of string variants.
type Enum struct {
	Name     string
	Variants []string
}

func (e *Enum) HasVariant(v string) bool {
	for _, variant := range e.Variants {
		if variant == v {
			return true
		}
	}
	return false
}

// PermissionPredicate is consulted by the query orchestrator on every
// read path (FindUnique, FindFirst, FindMany) and, through them, by Update
// and Delete's own findUnique lookup; nil means unconditionally allowed. A
// denied object is reported as ObjectNotFound rather than a distinct
// forbidden kind. The orchestrator skips the check entirely when the caller's
// context carries the ignore-permission flag (see query.WithIgnorePermission).
type PermissionPredicate func(ctx *pipeline.Context) bool

// Model is the frozen metadata for one entity type.
type Model struct {
	Name        string
	TableName   string
	URLSegment  string
	Label       string
	Description string
	IsIdentity  bool
	Actions     map[Action]bool

	fieldOrder    []string
	fields        map[string]*Field
	relationOrder []string
	relations     map[string]*Relation
	indices       []*Index
	primary       *Index

	Permission PermissionPredicate

	// AuthIdentityKeys/AuthByKeys are the field-name sets an identity model's
	// signIn credentials dictionary is validated against.
	AuthIdentityKeys map[string]bool
	AuthByKeys       map[string]bool
}

func (m *Model) HasAction(a Action) bool { return m.Actions[a] }

func (m *Model) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

func (m *Model) Fields() []*Field {
	out := make([]*Field, len(m.fieldOrder))
	for i, n := range m.fieldOrder {
		out[i] = m.fields[n]
	}
	return out
}

func (m *Model) Relation(name string) (*Relation, bool) {
	r, ok := m.relations[name]
	return r, ok
}

func (m *Model) Relations() []*Relation {
	out := make([]*Relation, len(m.relationOrder))
	for i, n := range m.relationOrder {
		out[i] = m.relations[n]
	}
	return out
}

func (m *Model) Indices() []*Index { return m.indices }
func (m *Model) Primary() *Index   { return m.primary }

// PrimaryFieldNames returns the field names making up the primary index.
func (m *Model) PrimaryFieldNames() []string {
	if m.primary == nil {
		return nil
	}
	return m.primary.FieldNames()
}

// IsUniqueWhereShape reports whether the given set of keys exactly matches
// the primary index or one of the unique indices' field sets.
func (m *Model) IsUniqueWhereShape(keys map[string]bool) bool {
	for _, ix := range m.indices {
		if ix.Type != IndexPrimary && ix.Type != IndexUnique {
			continue
		}
		names := ix.FieldNames()
		if len(names) != len(keys) {
			continue
		}
		match := true
		for _, n := range names {
			if !keys[n] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// OutputKeys returns the field names eligible for to_json serialization:
// every non-virtual field.
func (m *Model) OutputKeys() []string {
	var out []string
	for _, n := range m.fieldOrder {
		if !m.fields[n].Virtual {
			out = append(out, n)
		}
	}
	return out
}

// SaveKeys returns the field names settable via update_json (process=false):
// every persisted column. Virtual fields are computed-only inputs and never
// reach the unprocessed write path.
func (m *Model) SaveKeys() []string {
	var out []string
	for _, n := range m.fieldOrder {
		if !m.fields[n].Virtual {
			out = append(out, n)
		}
	}
	return out
}

// OppositeRelation finds the relation on the target model whose Fields/
// References are the mirror image of r — used by Object.save's link step to
// decide which side of a direct relation owns the foreign key write.
func (g *Graph) OppositeRelation(r *Relation, owner *Model) (*Model, *Relation, bool) {
	target, ok := g.Model(r.TargetModel)
	if !ok {
		return nil, nil, false
	}
	for _, cand := range target.Relations() {
		if cand.TargetModel != owner.Name {
			continue
		}
		if sameStrings(cand.Fields, r.References) && sameStrings(cand.References, r.Fields) {
			return target, cand, true
		}
	}
	return nil, nil, false
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Graph owns a closed, immutable set of Models and Enums plus a bidirectional
// name index between canonical model names and URL segment names.
type Graph struct {
	models       map[string]*Model
	modelOrder   []string
	enums        map[string]*Enum
	segmentToName map[string]string
}

func (g *Graph) Model(name string) (*Model, bool) {
	m, ok := g.models[name]
	return m, ok
}

func (g *Graph) ModelNameForURLSegment(seg string) (string, bool) {
	n, ok := g.segmentToName[seg]
	return n, ok
}

func (g *Graph) Models() []*Model {
	out := make([]*Model, len(g.modelOrder))
	for i, n := range g.modelOrder {
		out[i] = g.models[n]
	}
	return out
}

func (g *Graph) Enum(name string) (*Enum, bool) {
	e, ok := g.enums[name]
	return e, ok
}

func (g *Graph) Enums() []*Enum {
	out := make([]*Enum, 0, len(g.enums))
	for _, e := range g.enums {
		out = append(out, e)
	}
	return out
}

// ErrorKind enumerates the ways building a Graph can fail.
type ErrorKind string

const (
	UnknownModel          ErrorKind = "UnknownModel"
	UnknownField          ErrorKind = "UnknownField"
	PrimaryMissing        ErrorKind = "PrimaryMissing"
	RelationShapeMismatch ErrorKind = "RelationShapeMismatch"
	DuplicateName         ErrorKind = "DuplicateName"
)

type SchemaError struct {
	Kind    ErrorKind
	Message string
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema: %s: %s", e.Kind, e.Message) }

func newSchemaError(kind ErrorKind, format string, args ...any) *SchemaError {
	return &SchemaError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
