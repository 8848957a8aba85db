package object

import (
	"context"

	"weave/internal/action"
	"weave/internal/pipeline"
	"weave/internal/schema"
	"weave/internal/value"
)

// Save runs the full save sequence: on-save pipelines + required-field
// validation, self persistence and recursive child save through one save
// session, relation link application, then dirty-state clear. Forbidden
// while inside a before-save callback.
func (o *Object) Save(ctx context.Context) error {
	o.mu.Lock()
	if o.insideBeforeSave {
		o.mu.Unlock()
		return action.New(action.SaveCallingError, "save() called recursively from within its own before-save phase")
	}
	o.mu.Unlock()

	if err := o.applyOnSavePipelineAndValidate(ctx); err != nil {
		return err
	}

	session, err := o.connector.NewSaveSession(ctx)
	if err != nil {
		return action.Wrap(action.ConnectorError, err)
	}

	if err := o.saveToDatabase(ctx, session); err != nil {
		_ = session.Rollback()
		return err
	}
	if err := session.Commit(); err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	return nil
}

// applyOnSavePipelineAndValidate runs each field's on-save pipeline, then
// validates that every Required, non-auto, non-auto_increment, non-virtual
// field not present in ignoreRequired has a non-null value. Recurses
// depth-first into staged relation children first.
func (o *Object) applyOnSavePipelineAndValidate(ctx context.Context) error {
	o.mu.Lock()
	children := make([]*Object, 0)
	type pendingLink struct {
		rel    *schema.Relation
		manips []RelationManipulation
	}
	pending := make([]pendingLink, 0, len(o.relationMutation))
	for rel, manips := range o.relationMutation {
		r, ok := o.model.Relation(rel)
		if ok {
			pending = append(pending, pendingLink{rel: r, manips: manips})
		}
		for _, m := range manips {
			if m.Kind == Connect || m.Kind == Keep {
				children = append(children, m.Obj)
			}
		}
	}
	o.mu.Unlock()

	// Fields that a buffered link will populate during this save are exempt
	// from required validation: the FK side is legitimately unset until the
	// link step runs.
	for _, p := range pending {
		if p.rel.Through != "" {
			continue
		}
		_, opposite, hasOpposite := o.graph.OppositeRelation(p.rel, o.model)
		writeOnForeign := resolveLinkDirection(p.rel, hasOpposite, opposite)
		for _, m := range p.manips {
			if m.Kind != Connect && m.Kind != Set && m.Kind != Keep {
				continue
			}
			if writeOnForeign {
				for _, ref := range p.rel.References {
					m.Obj.IgnoreRequiredFor(ref)
				}
			} else {
				for _, f := range p.rel.Fields {
					o.IgnoreRequiredFor(f)
				}
			}
		}
	}

	for _, child := range children {
		if err := child.applyOnSavePipelineAndValidate(ctx); err != nil {
			return err
		}
	}

	for _, f := range o.model.Fields() {
		if f.OnSave.Empty() {
			continue
		}
		o.mu.Lock()
		v, hasVal := o.valueMap[f.Name]
		o.mu.Unlock()
		if !hasVal {
			continue
		}
		purpose := pipeline.PurposeUpdate
		if o.IsNew() {
			purpose = pipeline.PurposeCreate
		}
		pctx := pipeline.NewContext(o, v, purpose, pipeline.Key(f.Name))
		out, err := f.OnSave.Run(ctx, pctx)
		if err != nil {
			return action.Wrap(action.InvalidInput, err)
		}
		if out.IsInvalid() {
			return action.New(action.InvalidInput, out.InvalidReason()).WithField(f.Name, out.InvalidReason())
		}
		if err := o.Set(f.Name, out.Value); err != nil {
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	for _, f := range o.model.Fields() {
		if f.Optionality != schema.Required || f.Auto || f.AutoIncrement || f.Virtual {
			continue
		}
		if o.ignoreRequired[f.Name] {
			continue
		}
		v, ok := o.valueMap[f.Name]
		if !ok || v.IsNull() {
			return action.New(action.ValueRequired, "field is required").WithField(f.Name, "value required")
		}
	}
	return nil
}

// saveToDatabase writes the parent row first, then saves staged relation
// children depth-first, then applies relation links, then clears dirty
// state. Children are saved before the parent's link step but after the
// parent row write, so the parent's identity is known when direct-FK links
// are established.
func (o *Object) saveToDatabase(ctx context.Context, session SaveSession) error {
	o.mu.Lock()
	directChildren := make(map[string][]RelationManipulation, len(o.relationMutation))
	for rel, manips := range o.relationMutation {
		directChildren[rel] = append([]RelationManipulation(nil), manips...)
	}
	o.mu.Unlock()

	if err := o.connector.SaveObject(ctx, o); err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	o.mu.Lock()
	o.isNew = false
	o.mu.Unlock()

	for _, manips := range directChildren {
		for _, m := range manips {
			if m.Kind == Connect || m.Kind == Keep {
				if m.Obj.IsNew() || m.Obj.IsModified() {
					if err := m.Obj.saveToDatabase(ctx, session); err != nil {
						return err
					}
				}
			}
		}
	}

	for rel, manips := range directChildren {
		r, ok := o.model.Relation(rel)
		if !ok {
			continue
		}
		for _, m := range manips {
			if err := o.applyLink(ctx, r, m); err != nil {
				return err
			}
		}
	}

	o.mu.Lock()
	o.isModified = false
	o.modifiedFields = map[string]bool{}
	o.previousValueMap = map[string]value.Value{}
	o.relationMutation = map[string][]RelationManipulation{}
	for rel, manips := range directChildren {
		existing := o.relationQueryMap[rel]
		for _, m := range manips {
			switch m.Kind {
			case Connect, Keep:
				existing = append(existing, m.Obj)
			case Disconnect, Delete:
				filtered := existing[:0]
				for _, e := range existing {
					if e != m.Obj {
						filtered = append(filtered, e)
					}
				}
				existing = filtered
			}
		}
		o.relationQueryMap[rel] = existing
	}
	o.mu.Unlock()

	return nil
}

// Delete removes the row through the connector then marks the object
// deleted, a terminal state.
func (o *Object) Delete(ctx context.Context) error {
	if err := o.connector.DeleteObject(ctx, o); err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	o.mu.Lock()
	o.isDeleted = true
	o.mu.Unlock()
	return nil
}
