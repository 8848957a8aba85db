package object

import (
	"weave/internal/input"
	"weave/internal/value"
)

// Snapshot copies this object's full current value map, for a connector to
// persist a row. Unlike ModifiedFields, it carries every set field, not just
// the dirty ones — an insert needs the whole row.
func (o *Object) Snapshot() map[string]value.Value {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]value.Value, len(o.valueMap))
	for k, v := range o.valueMap {
		out[k] = v
	}
	return out
}

// AtomicUpdates copies the buffered atomic-update operations a connector must
// fold into its write (increment/decrement/multiply/divide/push), distinct
// from plain SetValue assignments already reflected in valueMap.
func (o *Object) AtomicUpdates() map[string]input.AtomicUpdate {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]input.AtomicUpdate, len(o.atomicUpdateMap))
	for k, v := range o.atomicUpdateMap {
		out[k] = v
	}
	return out
}

// ClearAtomicUpdates drops the buffered atomic-update set once a connector
// has folded them into a write.
func (o *Object) ClearAtomicUpdates() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.atomicUpdateMap = map[string]input.AtomicUpdate{}
}

// Hydrate populates a freshly-allocated Object from a stored row, marking it
// not-new and not-modified. Connectors use this to materialize query results
// without going through the set_json input-validation path.
func (o *Object) Hydrate(values map[string]value.Value) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.isInitialized = true
	o.isNew = false
	o.isModified = false
	o.valueMap = make(map[string]value.Value, len(values))
	for k, v := range values {
		o.valueMap[k] = v
	}
	o.modifiedFields = map[string]bool{}
}

// AttachRelation populates the queried related objects for a relation key,
// used by the query orchestrator's include resolution after loading a row.
func (o *Object) AttachRelation(name string, objs []*Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relationQueryMap[name] = objs
}
