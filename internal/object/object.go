// Package object implements the per-row live Object runtime: value map,
// dirty tracking, previous values, relation buffers, atomic updates, and
// the save/delete/refresh/serialization operations.
package object

import (
	"context"
	"sort"
	"sync"

	"weave/internal/action"
	"weave/internal/input"
	"weave/internal/schema"
	"weave/internal/value"
)

// Connector is the narrow slice of the full connector contract (package
// connector) that the object runtime itself drives directly: persistence and
// relation-object lookup. Declared here, not imported from package
// connector, to avoid an import cycle (connector depends on object).
type Connector interface {
	SaveObject(ctx context.Context, obj *Object) error
	DeleteObject(ctx context.Context, obj *Object) error
	FindUniqueByWhere(ctx context.Context, model *schema.Model, where map[string]value.Value, opts FindOptions) (*Object, error)
	FindManyByWhere(ctx context.Context, model *schema.Model, where map[string]value.Value, opts FindOptions) ([]*Object, error)
	NewSaveSession(ctx context.Context) (SaveSession, error)
}

// SaveSession is a scoped acquisition of connector-side transactional
// context: commit on success, rollback otherwise, guaranteed release on all
// exit paths. Sessions nest; only the outermost touches the real
// transaction (see internal/connector/sql).
type SaveSession interface {
	Commit() error
	Rollback() error
}

// FindOptions carries the include/select tree a caller wants applied to a
// fetched object; left minimal here since full query shape lives in
// package query.
type FindOptions struct {
	Include map[string]FindOptions
	Select  map[string]bool
}

// RelationManipulationKind tags one buffered intent against a relation.
type RelationManipulationKind int

const (
	Connect RelationManipulationKind = iota
	Disconnect
	Set
	Delete
	Keep
)

// RelationManipulation is one buffered intent against a relation, applied in
// encounter order during save's link step.
type RelationManipulation struct {
	Kind RelationManipulationKind
	Obj  *Object
}

// Object is a live row. All mutable state is guarded by mu so a single
// Object is safe to share across goroutines; cross-object invariants are
// not globally serialized.
type Object struct {
	mu sync.Mutex

	graph     *schema.Graph
	model     *schema.Model
	connector Connector

	isInitialized bool
	isNew         bool
	isModified    bool
	isDeleted     bool
	insideBeforeSave bool

	valueMap         map[string]value.Value
	previousValueMap map[string]value.Value
	modifiedFields   map[string]bool
	atomicUpdateMap  map[string]input.AtomicUpdate
	relationQueryMap map[string][]*Object
	relationMutation map[string][]RelationManipulation
	ignoreRequired   map[string]bool
	selectedFields   map[string]bool

	identity *Object
}

// New allocates a fresh, uninitialized, is_new Object for model.
func New(graph *schema.Graph, model *schema.Model, conn Connector) *Object {
	return &Object{
		graph:            graph,
		model:            model,
		connector:        conn,
		isNew:            true,
		valueMap:         map[string]value.Value{},
		previousValueMap: map[string]value.Value{},
		modifiedFields:   map[string]bool{},
		atomicUpdateMap:  map[string]input.AtomicUpdate{},
		relationQueryMap: map[string][]*Object{},
		relationMutation: map[string][]RelationManipulation{},
		ignoreRequired:   map[string]bool{},
		selectedFields:   map[string]bool{},
	}
}

func (o *Object) Model() *schema.Model  { return o.model }
func (o *Object) Graph() *schema.Graph  { return o.graph }
func (o *Object) IsNew() bool           { o.mu.Lock(); defer o.mu.Unlock(); return o.isNew }
func (o *Object) IsModified() bool      { o.mu.Lock(); defer o.mu.Unlock(); return o.isModified }
func (o *Object) IsDeleted() bool       { o.mu.Lock(); defer o.mu.Unlock(); return o.isDeleted }

func (o *Object) SetIdentity(id *Object) { o.mu.Lock(); defer o.mu.Unlock(); o.identity = id }
func (o *Object) Identity() *Object      { o.mu.Lock(); defer o.mu.Unlock(); return o.identity }

// GetValue implements pipeline.ObjectHandle so stages (notably HashCompare)
// can read a sibling field's current value.
func (o *Object) GetValue(field string) (value.Value, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.valueMap[field]
	return v, ok
}

// Set performs a direct field assignment, rejecting unknown keys. A null
// value removes the field from the value map. Marks dirty unless the object
// is new.
func (o *Object) Set(field string, v value.Value) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setLocked(field, v)
}

func (o *Object) setLocked(field string, v value.Value) error {
	f, ok := o.model.Field(field)
	if !ok {
		return action.Newf(action.KeysUnallowed, "model %q has no field %q", o.model.Name, field)
	}
	prior, hadPrior := o.valueMap[field]
	if f.PreviousValueRule == schema.KeepAfterSaved && hadPrior {
		o.previousValueMap[field] = prior
	}
	if v.IsNull() {
		delete(o.valueMap, field)
	} else {
		o.valueMap[field] = v
	}
	if !o.isNew {
		o.isModified = true
		o.modifiedFields[field] = true
	}
	return nil
}

// Get returns a field or relation's current value. Relation keys draw from
// relationQueryMap, wrapped as a vector (is_vec) or a single object Value.
func (o *Object) Get(key string) (value.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.model.Field(key); ok {
		if v, ok := o.valueMap[key]; ok {
			return v, nil
		}
		return value.Null(), nil
	}
	if r, ok := o.model.Relation(key); ok {
		objs := o.relationQueryMap[key]
		if r.IsVec {
			items := make([]value.Value, len(objs))
			for i, ob := range objs {
				items[i] = value.Object(ob)
			}
			return value.Vec(items), nil
		}
		if len(objs) == 0 {
			return value.Null(), nil
		}
		return value.Object(objs[0]), nil
	}
	return value.Value{}, action.Newf(action.KeysUnallowed, "model %q has no field or relation %q", o.model.Name, key)
}

// PreviousValue returns the stashed pre-change value for a field whose rule
// is KeepAfterSaved. The stash survives until the next save completes.
func (o *Object) PreviousValue(field string) (value.Value, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v, ok := o.previousValueMap[field]
	return v, ok
}

// ModifiedFields returns the set of field names dirtied since the last save.
func (o *Object) ModifiedFields() map[string]bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]bool, len(o.modifiedFields))
	for k := range o.modifiedFields {
		out[k] = true
	}
	return out
}

// SetSelect implements the selection semantics: an empty map is a no-op;
// any true entry makes the true set positive; otherwise false entries
// subtract from the full output key set.
func (o *Object) SetSelect(sel map[string]bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(sel) == 0 {
		return
	}
	hasTrue := false
	for _, v := range sel {
		if v {
			hasTrue = true
			break
		}
	}
	out := map[string]bool{}
	if hasTrue {
		for k, v := range sel {
			if v {
				out[k] = true
			}
		}
	} else {
		for _, k := range o.model.OutputKeys() {
			out[k] = true
		}
		for k, v := range sel {
			if !v {
				delete(out, k)
			}
		}
	}
	o.selectedFields = out
}

// ToJSON serializes every non-null output key, filtered by selectedFields
// when non-empty.
func (o *Object) ToJSON() (map[string]any, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := map[string]any{}
	for _, k := range o.model.OutputKeys() {
		if len(o.selectedFields) > 0 && !o.selectedFields[k] {
			continue
		}
		v, ok := o.valueMap[k]
		if !ok || v.IsNull() {
			continue
		}
		out[k] = v
	}
	for rel, objs := range o.relationQueryMap {
		r, ok := o.model.Relation(rel)
		if !ok {
			continue
		}
		if len(o.selectedFields) > 0 && !o.selectedFields[rel] {
			continue
		}
		if r.IsVec {
			list := make([]map[string]any, 0, len(objs))
			for _, ob := range objs {
				j, err := ob.ToJSON()
				if err != nil {
					return nil, err
				}
				list = append(list, j)
			}
			out[rel] = list
		} else if len(objs) > 0 {
			j, err := objs[0].ToJSON()
			if err != nil {
				return nil, err
			}
			out[rel] = j
		}
	}
	return out, nil
}

// sortedFieldKeys returns a JSON map's keys sorted, used wherever set_json
// needs a deterministic iteration order across fields (so pipeline side
// effects like sequence() are reproducible in tests).
func sortedFieldKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
