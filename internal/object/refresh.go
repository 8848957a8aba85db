package object

import (
	"context"

	"weave/internal/action"
	"weave/internal/value"
)

// PrimaryWhere builds the unique-where value map identifying this object by
// its primary index, used by Refreshed and by the query orchestrator.
func (o *Object) PrimaryWhere() (map[string]value.Value, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	where := map[string]value.Value{}
	for _, f := range o.model.PrimaryFieldNames() {
		v, ok := o.valueMap[f]
		if !ok {
			return nil, action.Newf(action.InternalServerError, "object missing primary field %q", f)
		}
		where[f] = v
	}
	return where, nil
}

// Refreshed reloads this object by primary key through the connector,
// optionally populating an include tree and restricting output keys via
// select — the post-mutation re-read every create/update/upsert performs.
func (o *Object) Refreshed(ctx context.Context, include map[string]FindOptions, sel map[string]bool) (*Object, error) {
	where, err := o.PrimaryWhere()
	if err != nil {
		return nil, err
	}
	fresh, err := o.connector.FindUniqueByWhere(ctx, o.model, where, FindOptions{Include: include, Select: sel})
	if err != nil {
		return nil, err
	}
	if len(sel) > 0 {
		fresh.SetSelect(sel)
	}
	return fresh, nil
}

// IgnoreRequiredFor marks a field name as exempt from the required-field
// validation in Save — used when linking both sides of a relation where one
// side's FK is legitimately unset until the link step runs.
func (o *Object) IgnoreRequiredFor(field string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ignoreRequired[field] = true
}
