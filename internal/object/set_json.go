package object

import (
	"context"
	"sync"

	"weave/internal/action"
	"weave/internal/input"
	"weave/internal/pipeline"
	"weave/internal/schema"
	"weave/internal/value"
)

// SetJSON is the full ingest path: on first call it applies defaults for
// every absent field, then for each present key either decodes+pipelines a
// field or dispatches a relation command into the mutation buffer. Per-field
// on-set pipelines run concurrently across distinct fields; each pipeline is
// sequential within itself.
func (o *Object) SetJSON(ctx context.Context, m map[string]any) error {
	return o.setOrUpdateJSON(ctx, m, true)
}

// UpdateJSON is SetJSON with process=false: no on-set pipeline runs, and
// only schema.Model.SaveKeys() keys are allowed (no relation commands, no
// computed-only inputs).
func (o *Object) UpdateJSON(ctx context.Context, m map[string]any) error {
	return o.setOrUpdateJSON(ctx, m, false)
}

func (o *Object) setOrUpdateJSON(ctx context.Context, m map[string]any, process bool) error {
	o.mu.Lock()
	firstCall := !o.isInitialized
	o.isInitialized = true
	o.mu.Unlock()

	if firstCall && process {
		if err := o.applyDefaults(ctx); err != nil {
			return err
		}
	}

	allowedKeys := map[string]bool{}
	if process {
		for _, f := range o.model.Fields() {
			allowedKeys[f.Name] = true
		}
		for _, r := range o.model.Relations() {
			allowedKeys[r.Name] = true
		}
	} else {
		for _, k := range o.model.SaveKeys() {
			allowedKeys[k] = true
		}
	}

	keys := sortedFieldKeys(m)
	for _, k := range keys {
		if !allowedKeys[k] {
			return action.Newf(action.KeysUnallowed, "model %q: key %q is not allowed here", o.model.Name, k)
		}
	}

	type fieldJob struct {
		name string
		raw  any
	}
	var fieldJobs []fieldJob
	var relationJobs []fieldJob

	for _, k := range keys {
		if _, ok := o.model.Field(k); ok {
			fieldJobs = append(fieldJobs, fieldJob{k, m[k]})
			continue
		}
		if _, ok := o.model.Relation(k); ok && process {
			relationJobs = append(relationJobs, fieldJob{k, m[k]})
		}
	}

	if len(fieldJobs) > 0 {
		var wg sync.WaitGroup
		errs := make([]error, len(fieldJobs))
		for i, job := range fieldJobs {
			wg.Add(1)
			go func(i int, job fieldJob) {
				defer wg.Done()
				errs[i] = o.applyFieldInput(ctx, job.name, job.raw, process)
			}(i, job)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return err
			}
		}
	}

	for _, job := range relationJobs {
		r, _ := o.model.Relation(job.name)
		if err := o.applyRelationInput(ctx, r, job.raw); err != nil {
			return err
		}
	}

	return nil
}

func (o *Object) applyDefaults(ctx context.Context) error {
	for _, f := range o.model.Fields() {
		o.mu.Lock()
		_, present := o.valueMap[f.Name]
		o.mu.Unlock()
		if present || f.Default == nil {
			continue
		}
		var v value.Value
		if f.Default.Value != nil {
			v = *f.Default.Value
		} else if f.Default.Pipeline != nil {
			pctx := pipeline.NewContext(o, value.Null(), pipeline.PurposeCreate, pipeline.Key(f.Name))
			out, err := f.Default.Pipeline.Run(ctx, pctx)
			if err != nil {
				return action.Wrap(action.InvalidInput, err)
			}
			if out.IsInvalid() {
				return action.New(action.InvalidInput, out.InvalidReason()).WithField(f.Name, out.InvalidReason())
			}
			v = out.Value
		}
		if err := o.Set(f.Name, v); err != nil {
			return err
		}
	}
	return nil
}

func (o *Object) applyFieldInput(ctx context.Context, name string, raw any, process bool) error {
	f, _ := o.model.Field(name)
	decoded, err := input.DecodeField(raw, f)
	if err != nil {
		return err
	}

	var v value.Value
	switch d := decoded.(type) {
	case input.SetValue:
		v = d.Value
	case input.AtomicUpdate:
		o.mu.Lock()
		o.atomicUpdateMap[name] = d
		o.mu.Unlock()
		return nil
	default:
		return action.Newf(action.WrongInputType, "field %q: unrecognized input shape", name)
	}

	if process && !f.OnSet.Empty() {
		purpose := pipeline.PurposeUpdate
		if o.IsNew() {
			purpose = pipeline.PurposeCreate
		}
		pctx := pipeline.NewContext(o, v, purpose, pipeline.Key(name))
		out, err := f.OnSet.Run(ctx, pctx)
		if err != nil {
			return action.Wrap(action.InvalidInput, err)
		}
		if out.IsInvalid() {
			return action.New(action.InvalidInput, out.InvalidReason()).WithField(name, out.InvalidReason())
		}
		v = out.Value
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.setLocked(name, v)
}

func (o *Object) applyRelationInput(ctx context.Context, r *schema.Relation, raw any) error {
	decoded, err := input.DecodeRelation(raw, r)
	if err != nil {
		return err
	}
	ri, ok := decoded.(input.RelationInput)
	if !ok {
		return action.Newf(action.WrongInputType, "relation %q: unrecognized input shape", r.Name)
	}

	for _, op := range ri.Ops {
		for _, entry := range op.Entries {
			if err := o.applyRelationEntry(ctx, r, op.Command, entry); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Object) applyRelationEntry(ctx context.Context, r *schema.Relation, cmd input.RelationCommand, entry input.RelationEntry) error {
	target, ok := o.graph.Model(r.TargetModel)
	if !ok {
		return action.Newf(action.InvalidInput, "relation %q: target model %q not found", r.Name, r.TargetModel)
	}

	switch cmd {
	case input.CmdCreate, input.CmdCreateMany:
		child := New(o.graph, target, o.connector)
		if err := child.SetJSON(ctx, entry.Create); err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Connect, child)

	case input.CmdConnect, input.CmdSet:
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Connect, child)

	case input.CmdConnectOrCreate:
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			if errKind(err) != action.ObjectNotFound {
				return err
			}
			child = New(o.graph, target, o.connector)
			if err := child.SetJSON(ctx, entry.Create); err != nil {
				return err
			}
		}
		o.bufferManipulation(r.Name, Connect, child)

	case input.CmdDisconnect:
		if o.IsNew() {
			return action.New(action.NewObjectCannotDisconnect, "cannot disconnect on an unsaved object")
		}
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Disconnect, child)

	case input.CmdUpdate, input.CmdUpdateMany:
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			return err
		}
		if err := child.SetJSON(ctx, entry.Update); err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Keep, child)

	case input.CmdUpsert:
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			if errKind(err) != action.ObjectNotFound {
				return err
			}
			child = New(o.graph, target, o.connector)
			if err := child.SetJSON(ctx, entry.Create); err != nil {
				return err
			}
			o.bufferManipulation(r.Name, Connect, child)
			return nil
		}
		if err := child.SetJSON(ctx, entry.Update); err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Keep, child)

	case input.CmdDelete, input.CmdDeleteMany:
		child, err := o.findUniqueFor(ctx, target, entry.Where)
		if err != nil {
			return err
		}
		o.bufferManipulation(r.Name, Delete, child)
	}
	return nil
}

func (o *Object) bufferManipulation(relName string, kind RelationManipulationKind, obj *Object) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.relationMutation[relName] = append(o.relationMutation[relName], RelationManipulation{Kind: kind, Obj: obj})
}

func (o *Object) findUniqueFor(ctx context.Context, target *schema.Model, where map[string]any) (*Object, error) {
	vw := map[string]value.Value{}
	for k, raw := range where {
		f, ok := target.Field(k)
		if !ok {
			return nil, action.Newf(action.KeysUnallowed, "model %q has no field %q", target.Name, k)
		}
		v, err := value.FromJSON(raw, f.Kind)
		if err != nil {
			return nil, action.Wrap(action.InvalidInput, err)
		}
		vw[k] = v
	}
	obj, err := o.connector.FindUniqueByWhere(ctx, target, vw, FindOptions{})
	if err != nil {
		return nil, err
	}
	return obj, nil
}

func errKind(err error) action.ErrorKind {
	if ae, ok := err.(*action.Error); ok {
		return ae.Kind
	}
	return ""
}
