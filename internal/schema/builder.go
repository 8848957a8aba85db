package schema

// Builder accumulates model definitions and freezes them into a Graph. This
// is the programmatic construction path; see toml.go for the declarative
// alternative, which converts a parsed document into the same ModelBuilder
// calls this path exposes directly.
type Builder struct {
	models []*ModelBuilder
	enums  map[string]*Enum
}

func NewBuilder() *Builder {
	return &Builder{enums: map[string]*Enum{}}
}

// Enum registers a named enum type available to field definitions.
func (b *Builder) Enum(name string, variants ...string) *Builder {
	b.enums[name] = &Enum{Name: name, Variants: variants}
	return b
}

// Model opens a ModelBuilder for name and runs fn against it.
func (b *Builder) Model(name string, fn func(*ModelBuilder)) *Builder {
	mb := &ModelBuilder{
		model: &Model{
			Name:             name,
			TableName:        name,
			URLSegment:       name,
			Actions:          map[Action]bool{},
			fields:           map[string]*Field{},
			relations:        map[string]*Relation{},
			AuthIdentityKeys: map[string]bool{},
			AuthByKeys:       map[string]bool{},
		},
	}
	if fn != nil {
		fn(mb)
	}
	b.models = append(b.models, mb)
	return b
}

// Build validates cross-references and freezes the accumulated models and
// enums into an immutable Graph.
func (b *Builder) Build() (*Graph, error) {
	g := &Graph{
		models:        map[string]*Model{},
		enums:         b.enums,
		segmentToName: map[string]string{},
	}

	seenNames := map[string]bool{}
	for _, mb := range b.models {
		m := mb.model
		if seenNames[m.Name] {
			return nil, newSchemaError(DuplicateName, "model %q declared more than once", m.Name)
		}
		seenNames[m.Name] = true

		if m.primary == nil {
			return nil, newSchemaError(PrimaryMissing, "model %q has no primary index", m.Name)
		}
		for _, f := range m.primary.FieldNames() {
			if _, ok := m.fields[f]; !ok {
				return nil, newSchemaError(UnknownField, "model %q primary index references unknown field %q", m.Name, f)
			}
		}

		g.models[m.Name] = m
		g.modelOrder = append(g.modelOrder, m.Name)
		if existing, ok := g.segmentToName[m.URLSegment]; ok {
			return nil, newSchemaError(DuplicateName, "URL segment %q used by both %q and %q", m.URLSegment, existing, m.Name)
		}
		g.segmentToName[m.URLSegment] = m.Name
	}

	for _, mb := range b.models {
		m := mb.model
		for _, r := range m.Relations() {
			if len(r.Fields) == 0 || len(r.Fields) != len(r.References) {
				return nil, newSchemaError(RelationShapeMismatch, "model %q relation %q: fields/references must be equal-length and non-empty", m.Name, r.Name)
			}
			if r.Through != "" {
				if _, ok := g.models[r.Through]; !ok {
					return nil, newSchemaError(UnknownModel, "model %q relation %q: unknown through model %q", m.Name, r.Name, r.Through)
				}
				continue
			}
			target, ok := g.models[r.TargetModel]
			if !ok {
				return nil, newSchemaError(UnknownModel, "model %q relation %q: unknown target model %q", m.Name, r.Name, r.TargetModel)
			}
			for _, f := range r.Fields {
				if _, ok := m.fields[f]; !ok {
					return nil, newSchemaError(UnknownField, "model %q relation %q: unknown local field %q", m.Name, r.Name, f)
				}
			}
			for _, f := range r.References {
				if _, ok := target.fields[f]; !ok {
					return nil, newSchemaError(UnknownField, "model %q relation %q: unknown reference field %q on %q", m.Name, r.Name, f, target.Name)
				}
			}
		}

		if m.IsIdentity {
			if len(m.AuthIdentityKeys) == 0 || len(m.AuthByKeys) == 0 {
				return nil, newSchemaError(RelationShapeMismatch, "identity model %q must declare at least one auth_identity key and one auth_by key", m.Name)
			}
		}
	}

	return g, nil
}

// ModelBuilder accumulates one Model's fields, relations, indices, and
// action set.
type ModelBuilder struct {
	model *Model
}

func (mb *ModelBuilder) TableName(name string) *ModelBuilder  { mb.model.TableName = name; return mb }
func (mb *ModelBuilder) URLSegment(seg string) *ModelBuilder   { mb.model.URLSegment = seg; return mb }
func (mb *ModelBuilder) Label(label string) *ModelBuilder      { mb.model.Label = label; return mb }
func (mb *ModelBuilder) Description(d string) *ModelBuilder    { mb.model.Description = d; return mb }
func (mb *ModelBuilder) Identity() *ModelBuilder                { mb.model.IsIdentity = true; return mb }
func (mb *ModelBuilder) Permission(p PermissionPredicate) *ModelBuilder {
	mb.model.Permission = p
	return mb
}

// EnableActions marks the given actions as exposed by this model.
func (mb *ModelBuilder) EnableActions(actions ...Action) *ModelBuilder {
	for _, a := range actions {
		mb.model.Actions[a] = true
	}
	return mb
}

// Field registers a field by name, appending to field order.
func (mb *ModelBuilder) Field(name string, f *Field) *ModelBuilder {
	f.Name = name
	mb.model.fields[name] = f
	mb.model.fieldOrder = append(mb.model.fieldOrder, name)
	if f.AuthIdentity {
		mb.model.AuthIdentityKeys[name] = true
	}
	if f.AuthBy != nil {
		mb.model.AuthByKeys[name] = true
	}
	return mb
}

// Relation registers a relation by name, appending to relation order.
func (mb *ModelBuilder) Relation(name string, r *Relation) *ModelBuilder {
	r.Name = name
	mb.model.relations[name] = r
	mb.model.relationOrder = append(mb.model.relationOrder, name)
	return mb
}

// PrimaryIndex declares the model's mandatory Primary index over fields.
func (mb *ModelBuilder) PrimaryIndex(fields ...string) *ModelBuilder {
	items := make([]IndexItem, len(fields))
	for i, f := range fields {
		items[i] = IndexItem{Field: f}
	}
	ix := &Index{Type: IndexPrimary, Items: items}
	mb.model.indices = append(mb.model.indices, ix)
	mb.model.primary = ix
	return mb
}

// UniqueIndex declares a Unique index over fields.
func (mb *ModelBuilder) UniqueIndex(fields ...string) *ModelBuilder {
	items := make([]IndexItem, len(fields))
	for i, f := range fields {
		items[i] = IndexItem{Field: f}
	}
	mb.model.indices = append(mb.model.indices, &Index{Type: IndexUnique, Items: items})
	return mb
}

// SecondaryIndex declares a plain, non-unique Index over fields.
func (mb *ModelBuilder) SecondaryIndex(fields ...string) *ModelBuilder {
	items := make([]IndexItem, len(fields))
	for i, f := range fields {
		items[i] = IndexItem{Field: f}
	}
	mb.model.indices = append(mb.model.indices, &Index{Type: IndexSecondary, Items: items})
	return mb
}
