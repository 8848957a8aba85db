// Package query implements the query orchestrator: the schema.Action
// operations layered over the object runtime and the Connector abstraction.
package query

import (
	"context"
	"math"

	"weave/internal/action"
	"weave/internal/connector"
	"weave/internal/object"
	"weave/internal/pipeline"
	"weave/internal/schema"
	"weave/internal/value"
)

// ctxKey is a private context-value key type, the same carried-cross-cutting-
// concern idiom package httpapi uses for its identity key.
type ctxKey int

const (
	identityCtxKey ctxKey = iota
	ignorePermissionCtxKey
)

// WithIdentity attaches the requesting identity object to ctx so
// checkPermission can hand it to a Model's permission predicate. obj is
// typically a *object.Object, left untyped to match pipeline.Context.Identity.
func WithIdentity(ctx context.Context, obj any) context.Context {
	return context.WithValue(ctx, identityCtxKey, obj)
}

// WithIgnorePermission marks ctx so every permission predicate consulted
// during the call is skipped. Update and Delete honor it through their
// FindUnique target lookup; they never set it themselves.
func WithIgnorePermission(ctx context.Context) context.Context {
	return context.WithValue(ctx, ignorePermissionCtxKey, true)
}

func ignorePermission(ctx context.Context) bool {
	v, _ := ctx.Value(ignorePermissionCtxKey).(bool)
	return v
}

// checkPermission consults m.Permission, if any, against obj. A nil
// predicate means unconditionally allowed; a denied predicate surfaces as
// ObjectNotFound rather than a distinct "forbidden" kind, so a denied row is
// indistinguishable from a nonexistent one to the caller.
func checkPermission(ctx context.Context, m *schema.Model, obj *object.Object) error {
	if m.Permission == nil || ignorePermission(ctx) {
		return nil
	}
	pctx := pipeline.NewContext(obj, value.Null(), pipeline.PurposeRead)
	pctx.Identity = ctx.Value(identityCtxKey)
	if !m.Permission(pctx) {
		return action.New(action.ObjectNotFound, "object not found")
	}
	return nil
}

// Orchestrator executes actions against one schema.Graph through a
// connector.Connector.
type Orchestrator struct {
	graph *schema.Graph
	conn  connector.Connector
}

func New(graph *schema.Graph, conn connector.Connector) *Orchestrator {
	return &Orchestrator{graph: graph, conn: conn}
}

// Filter is the decoded shape of a findMany-family request, built by the
// HTTP transport from the request body's where/orderBy/cursor/take/
// skip/pageSize/pageNumber/distinct/include/select keys.
type Filter struct {
	Where      map[string]any
	OrderBy    []OrderTerm
	Cursor     map[string]any
	Take       int
	HasTake    bool
	Skip       int
	PageSize   int
	PageNumber int
	HasPage    bool
	Distinct   []string
	Include    map[string]IncludeSpec
	Select     map[string]bool
}

type OrderTerm struct {
	Field     string
	Direction schema.SortDirection
}

// IncludeSpec lets an include tree nest arbitrarily deep, each level
// optionally narrowing its own select/include.
type IncludeSpec struct {
	Include map[string]IncludeSpec
	Select  map[string]bool
}

// Meta accompanies any list-shaped result.
type Meta struct {
	Count         int64
	NumberOfPages int
	HasPageInfo   bool
}

func toIncludeOptions(spec map[string]IncludeSpec) map[string]object.FindOptions {
	if len(spec) == 0 {
		return nil
	}
	out := make(map[string]object.FindOptions, len(spec))
	for k, v := range spec {
		out[k] = object.FindOptions{Include: toIncludeOptions(v.Include), Select: v.Select}
	}
	return out
}

func coerceWhere(m *schema.Model, raw map[string]any) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(raw))
	for k, v := range raw {
		f, ok := m.Field(k)
		if !ok {
			return nil, action.Newf(action.KeysUnallowed, "model %q has no field %q", m.Name, k)
		}
		coerced, err := value.FromJSON(v, f.Kind)
		if err != nil {
			return nil, action.Wrap(action.InvalidInput, err)
		}
		out[k] = coerced
	}
	return out, nil
}

func toQuery(m *schema.Model, f *Filter) (*connector.Query, error) {
	q := &connector.Query{}
	if f == nil {
		return q, nil
	}
	where, err := coerceWhere(m, f.Where)
	if err != nil {
		return nil, err
	}
	q.Where = where

	cursor, err := coerceWhere(m, f.Cursor)
	if err != nil {
		return nil, err
	}
	q.Cursor = cursor

	for _, t := range f.OrderBy {
		q.OrderBy = append(q.OrderBy, connector.SortTerm{Field: t.Field, Direction: t.Direction})
	}
	q.Distinct = f.Distinct
	q.Include = toIncludeOptions(f.Include)
	q.Select = f.Select

	q.Take, q.HasTake, q.Skip = f.Take, f.HasTake, f.Skip
	if f.HasPage {
		q.Skip = (f.PageNumber - 1) * f.PageSize
		q.Take = f.PageSize
		q.HasTake = true
	}
	return q, nil
}

// FindUnique resolves a unique where to zero-or-one object, ObjectNotFound on
// a miss.
func (o *Orchestrator) FindUnique(ctx context.Context, m *schema.Model, where map[string]any, include map[string]IncludeSpec, sel map[string]bool) (*object.Object, error) {
	w, err := coerceWhere(m, where)
	if err != nil {
		return nil, err
	}
	if !m.IsUniqueWhereShape(keysOf(w)) {
		return nil, action.Newf(action.InvalidInput, "where does not resolve to a unique index on %q", m.Name)
	}
	q := &connector.Query{Where: w, Include: toIncludeOptions(include), Select: sel}
	obj, err := o.conn.FindUnique(ctx, m, q)
	if err != nil {
		return nil, err
	}
	if err := checkPermission(ctx, m, obj); err != nil {
		return nil, err
	}
	if len(sel) > 0 {
		obj.SetSelect(sel)
	}
	return obj, nil
}

func keysOf(m map[string]value.Value) map[string]bool {
	out := make(map[string]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}

// FindFirst returns the first object matching filter or ObjectNotFound.
func (o *Orchestrator) FindFirst(ctx context.Context, m *schema.Model, f *Filter) (*object.Object, error) {
	q, err := toQuery(m, f)
	if err != nil {
		return nil, err
	}
	obj, err := o.conn.FindFirst(ctx, m, q)
	if err != nil {
		return nil, err
	}
	if err := checkPermission(ctx, m, obj); err != nil {
		return nil, err
	}
	if f != nil && len(f.Select) > 0 {
		obj.SetSelect(f.Select)
	}
	return obj, nil
}

// FindMany returns the matching page of objects plus its Meta.
func (o *Orchestrator) FindMany(ctx context.Context, m *schema.Model, f *Filter) ([]*object.Object, Meta, error) {
	q, err := toQuery(m, f)
	if err != nil {
		return nil, Meta{}, err
	}
	fetched, err := o.conn.FindMany(ctx, m, q)
	if err != nil {
		return nil, Meta{}, err
	}
	objs := fetched[:0]
	for _, obj := range fetched {
		if err := checkPermission(ctx, m, obj); err != nil {
			continue
		}
		if f != nil && len(f.Select) > 0 {
			obj.SetSelect(f.Select)
		}
		objs = append(objs, obj)
	}
	countQ := &connector.Query{Where: q.Where, Distinct: q.Distinct}
	count, err := o.conn.Count(ctx, m, countQ)
	if err != nil {
		return nil, Meta{}, err
	}
	meta := Meta{Count: count}
	if f != nil && f.HasPage {
		meta.HasPageInfo = true
		meta.NumberOfPages = int(math.Ceil(float64(count) / float64(f.PageSize)))
	}
	return objs, meta, nil
}

// Create allocates a new object, ingests create via set_json, saves it, and
// returns the refreshed, include/select-applied result.
func (o *Orchestrator) Create(ctx context.Context, m *schema.Model, create map[string]any, include map[string]IncludeSpec, sel map[string]bool) (*object.Object, error) {
	obj := o.conn.NewObject(m)
	if create == nil {
		create = map[string]any{}
	}
	if err := obj.SetJSON(ctx, create); err != nil {
		return nil, err
	}
	if err := obj.Save(ctx); err != nil {
		return nil, err
	}
	return obj.Refreshed(ctx, toIncludeOptions(include), sel)
}

// Update finds by unique where, applies update via set_json, saves, and
// returns the refreshed result.
func (o *Orchestrator) Update(ctx context.Context, m *schema.Model, where map[string]any, update map[string]any, include map[string]IncludeSpec, sel map[string]bool) (*object.Object, error) {
	obj, err := o.FindUnique(ctx, m, where, nil, nil)
	if err != nil {
		return nil, err
	}
	if update == nil {
		update = map[string]any{}
	}
	if err := obj.SetJSON(ctx, update); err != nil {
		return nil, err
	}
	if err := obj.Save(ctx); err != nil {
		return nil, err
	}
	return obj.Refreshed(ctx, toIncludeOptions(include), sel)
}

// Upsert finds by unique where; on a hit runs the update path, on a miss the
// create path (merging where into create so unique-key fields are present).
func (o *Orchestrator) Upsert(ctx context.Context, m *schema.Model, where map[string]any, create, update map[string]any, include map[string]IncludeSpec, sel map[string]bool) (*object.Object, error) {
	_, err := o.FindUnique(ctx, m, where, nil, nil)
	if err != nil {
		if actionKind(err) != action.ObjectNotFound {
			return nil, err
		}
		merged := map[string]any{}
		for k, v := range where {
			merged[k] = v
		}
		for k, v := range create {
			merged[k] = v
		}
		return o.Create(ctx, m, merged, include, sel)
	}
	return o.Update(ctx, m, where, update, include, sel)
}

// Refresh reloads obj by primary key with the given include/select applied,
// the same post-mutation re-read create/update/upsert perform, exposed
// directly for callers (such as the HTTP transport's signIn/identity
// handlers) that already hold an Object rather than a where clause.
func (o *Orchestrator) Refresh(ctx context.Context, obj *object.Object, include map[string]IncludeSpec, sel map[string]bool) (*object.Object, error) {
	return obj.Refreshed(ctx, toIncludeOptions(include), sel)
}

// Delete finds by unique where then deletes, returning the pre-delete state.
func (o *Orchestrator) Delete(ctx context.Context, m *schema.Model, where map[string]any) (*object.Object, error) {
	obj, err := o.FindUnique(ctx, m, where, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := obj.Delete(ctx); err != nil {
		return nil, err
	}
	return obj, nil
}

// CreateMany iterates independently, dropping per-item failures from both
// the returned data and the success count.
func (o *Orchestrator) CreateMany(ctx context.Context, m *schema.Model, creates []map[string]any) ([]*object.Object, int, error) {
	var out []*object.Object
	for _, c := range creates {
		obj, err := o.Create(ctx, m, c, nil, nil)
		if err != nil {
			continue
		}
		out = append(out, obj)
	}
	return out, len(out), nil
}

// UpdateMany finds by filter then updates each hit independently,
// continuing past per-item failures.
func (o *Orchestrator) UpdateMany(ctx context.Context, m *schema.Model, f *Filter, update map[string]any) ([]*object.Object, int, error) {
	objs, _, err := o.FindMany(ctx, m, f)
	if err != nil {
		return nil, 0, err
	}
	var out []*object.Object
	for _, obj := range objs {
		if update == nil {
			update = map[string]any{}
		}
		if err := obj.SetJSON(ctx, update); err != nil {
			continue
		}
		if err := obj.Save(ctx); err != nil {
			continue
		}
		fresh, err := obj.Refreshed(ctx, nil, nil)
		if err != nil {
			continue
		}
		out = append(out, fresh)
	}
	return out, len(out), nil
}

// DeleteMany finds by filter then deletes each hit independently.
func (o *Orchestrator) DeleteMany(ctx context.Context, m *schema.Model, f *Filter) (int, error) {
	objs, _, err := o.FindMany(ctx, m, f)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, obj := range objs {
		if err := obj.Delete(ctx); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// Count delegates straight to the connector.
func (o *Orchestrator) Count(ctx context.Context, m *schema.Model, f *Filter) (int64, error) {
	q, err := toQuery(m, f)
	if err != nil {
		return 0, err
	}
	return o.conn.Count(ctx, m, q)
}

// AggregateSpec names the per-field selectors an aggregate/groupBy call
// requests, decoded by the HTTP transport from _count/_sum/_avg/_min/_max
// keys.
type AggregateSpec struct {
	Where      map[string]any
	Aggregates []connector.AggregateSelector
}

func (o *Orchestrator) Aggregate(ctx context.Context, m *schema.Model, spec *AggregateSpec) (value.Value, error) {
	where, err := coerceWhere(m, spec.Where)
	if err != nil {
		return value.Value{}, err
	}
	q := &connector.Query{Where: where, Aggregates: spec.Aggregates}
	return o.conn.Aggregate(ctx, m, q)
}

// GroupBySpec layers grouping keys and an optional having predicate on top
// of AggregateSpec.
type GroupBySpec struct {
	By      []string
	Having  map[string]any
	Where   map[string]any
	Aggregates []connector.AggregateSelector
}

func (o *Orchestrator) GroupBy(ctx context.Context, m *schema.Model, spec *GroupBySpec) ([]value.Value, error) {
	where, err := coerceWhere(m, spec.Where)
	if err != nil {
		return nil, err
	}
	q := &connector.Query{Where: where, GroupFields: spec.By, Aggregates: spec.Aggregates}
	if len(spec.Having) > 0 {
		having := map[string]value.Value{}
		for k, v := range spec.Having {
			f, ok := m.Field(k)
			var kind value.Kind = value.KindFloat64
			if ok {
				kind = f.Kind
			}
			coerced, err := value.FromJSON(v, kind)
			if err != nil {
				return nil, action.Wrap(action.InvalidInput, err)
			}
			having[k] = coerced
		}
		q.Having = &connector.Query{Where: having}
	}
	return o.conn.GroupBy(ctx, m, q)
}

func actionKind(err error) action.ErrorKind {
	if ae, ok := err.(*action.Error); ok {
		return ae.Kind
	}
	return ""
}
