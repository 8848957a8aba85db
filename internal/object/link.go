package object

import (
	"context"

	"weave/internal/action"
	"weave/internal/schema"
	"weave/internal/value"
)

// applyLink applies one buffered RelationManipulation during save's link
// step, dispatching on whether the relation is direct (foreign-key) or
// indirect (through a join model).
func (o *Object) applyLink(ctx context.Context, r *schema.Relation, m RelationManipulation) error {
	if r.Through != "" {
		return o.applyThroughLink(ctx, r, m)
	}
	return o.applyDirectLink(ctx, r, m)
}

// resolveLinkDirection decides which side of a direct relation physically
// holds the foreign key: the vec side holds it when cardinality
// distinguishes the sides; when neither side is distinguished
// (singular-to-singular, no recognizable primary-holder), the local side is
// written, unconditionally overwritten from the foreign side's reference
// values.
func resolveLinkDirection(r *schema.Relation, hasOpposite bool, opposite *schema.Relation) (writeOnForeign bool) {
	if r.IsVec {
		return true // the many side (the related objects) holds the FK
	}
	if hasOpposite && opposite.IsVec {
		return false // we are the "one" side of a many; we hold the FK
	}
	return false // singular-singular tiebreak: write locally
}

// eitherSideRequired reports whether either r or its opposite is a singular
// required relation, in which case neither side may be disconnected or
// deleted without leaving a dangling required foreign key.
func eitherSideRequired(r *schema.Relation, hasOpposite bool, opposite *schema.Relation) bool {
	if r.Singular() && r.Optionality == schema.Required {
		return true
	}
	return hasOpposite && opposite.Singular() && opposite.Optionality == schema.Required
}

func (o *Object) applyDirectLink(ctx context.Context, r *schema.Relation, m RelationManipulation) error {
	_, opposite, hasOpposite := o.graph.OppositeRelation(r, o.model)
	writeOnForeign := resolveLinkDirection(r, hasOpposite, opposite)

	switch m.Kind {
	case Connect, Keep:
		if writeOnForeign {
			for i, field := range r.Fields {
				v, _ := o.GetValue(field)
				if err := m.Obj.Set(r.References[i], v); err != nil {
					return err
				}
			}
			if m.Obj.IsModified() {
				sess, err := o.connector.NewSaveSession(ctx)
				if err != nil {
					return action.Wrap(action.ConnectorError, err)
				}
				if err := m.Obj.saveToDatabase(ctx, sess); err != nil {
					_ = sess.Rollback()
					return err
				}
				if err := sess.Commit(); err != nil {
					return action.Wrap(action.ConnectorError, err)
				}
			}
		} else {
			for i, field := range r.Fields {
				v, _ := m.Obj.GetValue(r.References[i])
				if err := o.Set(field, v); err != nil {
					return err
				}
			}
			if err := o.connector.SaveObject(ctx, o); err != nil {
				return action.Wrap(action.ConnectorError, err)
			}
		}

	case Disconnect:
		if eitherSideRequired(r, hasOpposite, opposite) {
			return action.Newf(action.InvalidInput, "required relation %q cannot disconnect", r.Name)
		}
		if writeOnForeign {
			for _, field := range r.References {
				if err := m.Obj.Set(field, value.Null()); err != nil {
					return err
				}
			}
			if err := o.connector.SaveObject(ctx, m.Obj); err != nil {
				return action.Wrap(action.ConnectorError, err)
			}
		} else {
			for _, field := range r.Fields {
				if err := o.Set(field, value.Null()); err != nil {
					return err
				}
			}
			if err := o.connector.SaveObject(ctx, o); err != nil {
				return action.Wrap(action.ConnectorError, err)
			}
		}

	case Delete:
		if eitherSideRequired(r, hasOpposite, opposite) {
			return action.Newf(action.InvalidInput, "required relation %q cannot delete", r.Name)
		}
		return m.Obj.Delete(ctx)
	}
	return nil
}

// applyThroughLink creates or deletes a join-model row whose two relations
// (named by r.Fields[0]/r.References[0] per the through-relation convention)
// connect the owner and the target, copying each side's reference values
// into the join relation's own scalar fields.
func (o *Object) applyThroughLink(ctx context.Context, r *schema.Relation, m RelationManipulation) error {
	joinModel, ok := o.graph.Model(r.Through)
	if !ok {
		return action.Newf(action.InvalidInput, "relation %q: unknown through model %q", r.Name, r.Through)
	}
	ownerRel, ok1 := joinModel.Relation(r.Fields[0])
	targetRel, ok2 := joinModel.Relation(r.References[0])
	if !ok1 || !ok2 {
		return action.Newf(action.InvalidInput, "relation %q: through model %q missing join relations", r.Name, r.Through)
	}

	switch m.Kind {
	case Connect, Keep:
		join := New(o.graph, joinModel, o.connector)
		for i, lf := range ownerRel.Fields {
			v, _ := o.GetValue(ownerRel.References[i])
			if err := join.Set(lf, v); err != nil {
				return err
			}
		}
		for i, lf := range targetRel.Fields {
			v, _ := m.Obj.GetValue(targetRel.References[i])
			if err := join.Set(lf, v); err != nil {
				return err
			}
		}
		return join.Save(ctx)

	case Disconnect, Delete:
		where := map[string]value.Value{}
		for i, lf := range ownerRel.Fields {
			v, _ := o.GetValue(ownerRel.References[i])
			where[lf] = v
		}
		for i, lf := range targetRel.Fields {
			v, _ := m.Obj.GetValue(targetRel.References[i])
			where[lf] = v
		}
		rows, err := o.connector.FindManyByWhere(ctx, joinModel, where, FindOptions{})
		if err != nil {
			return err
		}
		for _, row := range rows {
			if err := row.Delete(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}
