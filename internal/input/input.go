// Package input translates JSON input trees into the typed Input commands
// the object runtime consumes: SetValue, AtomicUpdate, and RelationInput.
// Shape validation happens here, not in the connector.
package input

import (
	"weave/internal/action"
	"weave/internal/schema"
	"weave/internal/value"
)

// Input is the decoded result of one field or relation's JSON input.
type Input interface{ isInput() }

// SetValue is a direct scalar/composite assignment after type coercion.
type SetValue struct{ Value value.Value }

func (SetValue) isInput() {}

// AtomicUpdate names one recognized atomic operator plus its operand.
type AtomicUpdate struct {
	Kind  schema.AtomicUpdateKind
	Value value.Value
}

func (AtomicUpdate) isInput() {}

// RelationCommand is one of the recognized relation command keys.
type RelationCommand string

const (
	CmdCreate         RelationCommand = "create"
	CmdCreateMany     RelationCommand = "createMany"
	CmdConnect        RelationCommand = "connect"
	CmdConnectOrCreate RelationCommand = "connectOrCreate"
	CmdSet            RelationCommand = "set"
	CmdDisconnect     RelationCommand = "disconnect"
	CmdUpdate         RelationCommand = "update"
	CmdUpdateMany     RelationCommand = "updateMany"
	CmdUpsert         RelationCommand = "upsert"
	CmdDelete         RelationCommand = "delete"
	CmdDeleteMany     RelationCommand = "deleteMany"
)

// RelationEntry is one decoded entry of a relation command: a where filter,
// a create body, and/or an update body, depending on which command it
// belongs to.
type RelationEntry struct {
	Where  map[string]any
	Create map[string]any
	Update map[string]any
}

// RelationOp is one command applied to a relation, carrying its (possibly
// multiple, for plural commands) entries.
type RelationOp struct {
	Command RelationCommand
	Entries []RelationEntry
}

// RelationInput carries the ordered list of relation commands decoded from
// one relation's JSON input object (a one-key object may still decode to a
// single-element RelationInput.Ops).
type RelationInput struct{ Ops []RelationOp }

func (RelationInput) isInput() {}

// DecodeField decodes raw JSON for a scalar field into SetValue or
// AtomicUpdate, guided by f's kind and AtomicKinds.
func DecodeField(raw any, f *schema.Field) (Input, error) {
	if m, ok := raw.(map[string]any); ok && len(m) == 1 {
		for k, v := range m {
			kind := schema.AtomicUpdateKind(k)
			if atomicAllowed(f, kind) {
				coerced, err := value.FromJSON(v, f.Kind)
				if err != nil {
					return nil, action.Wrap(action.InvalidInput, err)
				}
				return AtomicUpdate{Kind: kind, Value: coerced}, nil
			}
		}
	}
	v, err := value.FromJSON(raw, f.Kind)
	if err != nil {
		return nil, action.Wrap(action.InvalidInput, err)
	}
	return SetValue{Value: v}, nil
}

func atomicAllowed(f *schema.Field, kind schema.AtomicUpdateKind) bool {
	for _, k := range f.AtomicKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DecodeRelation decodes raw JSON for a relation into a RelationInput,
// enforcing the per-command shape rules.
func DecodeRelation(raw any, r *schema.Relation) (Input, error) {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, action.Newf(action.WrongInputType, "relation %q input must be an object", r.Name)
	}

	var ops []RelationOp
	for key, body := range m {
		cmd := RelationCommand(key)
		entries, err := decodeEntries(cmd, body, r)
		if err != nil {
			return nil, err
		}
		ops = append(ops, RelationOp{Command: cmd, Entries: entries})
	}
	return RelationInput{Ops: ops}, nil
}

func decodeEntries(cmd RelationCommand, body any, r *schema.Relation) ([]RelationEntry, error) {
	if pluralOnlyCommand(cmd) && !r.IsVec {
		return nil, action.Newf(action.InvalidInput, "relation %q: command %q requires a vector relation", r.Name, cmd)
	}
	plural := isPlural(body)
	if plural && !commandAllowsPlural(cmd, r) {
		return nil, action.Newf(action.InvalidInput, "relation %q: command %q does not accept an array on a singular relation", r.Name, cmd)
	}

	var rawEntries []any
	if plural {
		rawEntries = body.([]any)
	} else {
		rawEntries = []any{body}
	}

	entries := make([]RelationEntry, 0, len(rawEntries))
	for _, re := range rawEntries {
		entry, err := decodeOneEntry(cmd, re, r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// pluralOnlyCommand names the command forms restricted to vector relations
// regardless of whether the body is an array.
func pluralOnlyCommand(cmd RelationCommand) bool {
	switch cmd {
	case CmdCreateMany, CmdSet, CmdUpdateMany, CmdDeleteMany:
		return true
	default:
		return false
	}
}

func isPlural(body any) bool {
	_, ok := body.([]any)
	return ok
}

func commandAllowsPlural(cmd RelationCommand, r *schema.Relation) bool {
	switch cmd {
	case CmdCreate, CmdConnect, CmdDisconnect, CmdDelete:
		return r.IsVec
	case CmdCreateMany, CmdSet, CmdUpdateMany, CmdDeleteMany:
		return r.IsVec
	case CmdConnectOrCreate, CmdUpdate, CmdUpsert:
		return r.IsVec
	default:
		return false
	}
}

func decodeOneEntry(cmd RelationCommand, raw any, r *schema.Relation) (RelationEntry, error) {
	switch cmd {
	case CmdCreate, CmdCreateMany:
		body, ok := raw.(map[string]any)
		if !ok {
			return RelationEntry{}, action.Newf(action.WrongInputType, "relation %q: %s entry must be an object", r.Name, cmd)
		}
		return RelationEntry{Create: body}, nil

	case CmdConnect, CmdSet, CmdDisconnect, CmdDelete:
		where, ok := raw.(map[string]any)
		if !ok {
			return RelationEntry{}, action.Newf(action.WrongInputType, "relation %q: %s entry must be a unique-where object", r.Name, cmd)
		}
		// The required-relation disconnect/delete guard needs to see both
		// sides of the relation (this one and its opposite), which requires
		// the schema graph; this decoder only ever sees one *schema.Relation
		// in isolation. That either-side check lives in
		// internal/object/link.go's applyDirectLink, where the opposite
		// relation is already resolved via Graph.OppositeRelation.
		return RelationEntry{Where: where}, nil

	case CmdConnectOrCreate:
		body, ok := raw.(map[string]any)
		if !ok {
			return RelationEntry{}, action.Newf(action.WrongInputType, "relation %q: connectOrCreate entry must be an object", r.Name)
		}
		where, _ := body["where"].(map[string]any)
		create, _ := body["create"].(map[string]any)
		if where == nil || create == nil {
			return RelationEntry{}, action.Newf(action.MissingInputSection, "relation %q: connectOrCreate requires both where and create", r.Name)
		}
		return RelationEntry{Where: where, Create: create}, nil

	case CmdUpdate, CmdUpdateMany:
		body, ok := raw.(map[string]any)
		if !ok {
			return RelationEntry{}, action.Newf(action.WrongInputType, "relation %q: %s entry must be an object", r.Name, cmd)
		}
		where, _ := body["where"].(map[string]any)
		update, _ := body["update"].(map[string]any)
		if where == nil || update == nil {
			return RelationEntry{}, action.Newf(action.MissingInputSection, "relation %q: %s requires both where and update", r.Name, cmd)
		}
		return RelationEntry{Where: where, Update: update}, nil

	case CmdUpsert:
		body, ok := raw.(map[string]any)
		if !ok {
			return RelationEntry{}, action.Newf(action.WrongInputType, "relation %q: upsert entry must be an object", r.Name)
		}
		where, _ := body["where"].(map[string]any)
		create, _ := body["create"].(map[string]any)
		update, _ := body["update"].(map[string]any)
		if where == nil || create == nil || update == nil {
			return RelationEntry{}, action.Newf(action.MissingInputSection, "relation %q: upsert requires where, create, and update", r.Name)
		}
		return RelationEntry{Where: where, Create: create, Update: update}, nil

	default:
		return RelationEntry{}, action.Newf(action.InvalidInput, "relation %q: unrecognized command %q", r.Name, cmd)
	}
}
