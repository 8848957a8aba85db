// Package memory implements an in-process Connector backed by a
// mutex-guarded arena keyed by (model name, primary-key tuple), for tests
// and as a zero-dependency default. One mutex guards the whole arena, held
// only across the map mutation itself, never across a caller's pipeline or
// save logic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"weave/internal/action"
	"weave/internal/connector"
	"weave/internal/input"
	"weave/internal/object"
	"weave/internal/schema"
	"weave/internal/value"
)

type row = map[string]value.Value

// Connector is a process-local store of rows per model, keyed by a string
// encoding of the primary index's values. It implements both the narrow
// object.Connector slice and the full connector.Connector contract.
type Connector struct {
	graph *schema.Graph

	mu    sync.Mutex
	rows  map[string]map[string]row // model name -> primary key -> row
	order map[string][]string       // model name -> insertion-ordered primary keys
	seq   map[string]int64          // model name -> last assigned auto_increment value
}

// New constructs an empty memory connector bound to graph.
func New(graph *schema.Graph) *Connector {
	return &Connector{
		graph: graph,
		rows:  map[string]map[string]row{},
		order: map[string][]string{},
		seq:   map[string]int64{},
	}
}

func (c *Connector) NewObject(model *schema.Model) *object.Object {
	return object.New(c.graph, model, c)
}

func primaryKey(m *schema.Model, r row) string {
	names := m.PrimaryFieldNames()
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%v", rawValue(r[n]))
	}
	return strings.Join(parts, "\x1f")
}

func rawValue(v value.Value) any {
	switch v.Kind() {
	case value.KindBool:
		return v.Bool()
	case value.KindInt32:
		return v.Int32()
	case value.KindInt64:
		return v.Int64()
	case value.KindFloat32:
		return v.Float32()
	case value.KindFloat64:
		return v.Float64()
	case value.KindDecimal:
		return v.Decimal().String()
	case value.KindString:
		return v.String()
	case value.KindEnum:
		return v.EnumTag()
	case value.KindDate:
		return v.Date().Format("2006-01-02")
	case value.KindDateTime:
		return v.DateTime().UTC().Format(time.RFC3339Nano)
	default:
		return v.String()
	}
}

// SaveObject inserts the row for obj, or on update writes its dirty and
// atomically updated fields over the stored row, assigning an auto_increment
// primary key on first insert when the model declares one.
func (c *Connector) SaveObject(ctx context.Context, obj *object.Object) error {
	m := obj.Model()
	snap := obj.Snapshot()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rows[m.Name] == nil {
		c.rows[m.Name] = map[string]row{}
	}

	if obj.IsNew() {
		for _, f := range m.Fields() {
			if f.AutoIncrement {
				if _, present := snap[f.Name]; !present {
					c.seq[m.Name]++
					v := value.Int64(c.seq[m.Name])
					if f.Kind == value.KindInt32 {
						v = value.Int32(int32(c.seq[m.Name]))
					}
					snap[f.Name] = v
					if err := obj.Set(f.Name, v); err != nil {
						return err
					}
				}
			}
		}
	}

	au := obj.AtomicUpdates()
	if len(au) > 0 {
		key := primaryKey(m, snap)
		existing, ok := c.rows[m.Name][key]
		if ok {
			for field, upd := range au {
				cur := existing[field]
				snap[field] = applyAtomic(cur, upd)
			}
		}
		obj.ClearAtomicUpdates()
	}

	key := primaryKey(m, snap)
	if err := c.checkUniqueConstraints(m, key, snap); err != nil {
		return err
	}
	existing, existed := c.rows[m.Name][key]
	if !existed {
		c.order[m.Name] = append(c.order[m.Name], key)
	}
	stored := make(row, len(snap))
	if existed && !obj.IsNew() {
		// An update writes only the dirty and atomically updated fields.
		for k, v := range existing {
			stored[k] = v
		}
		for field := range obj.ModifiedFields() {
			delete(stored, field)
		}
		for field := range au {
			delete(stored, field)
		}
	}
	for k, v := range snap {
		if _, kept := stored[k]; !kept {
			stored[k] = v
		}
	}
	c.rows[m.Name][key] = stored
	return nil
}

// checkUniqueConstraints rejects snap when it collides with another row
// (any key but its own) on a Unique index, mirroring the duplicate-key error
// a real database raises from its own unique index on INSERT/UPDATE. Must be
// called while c.mu is held.
func (c *Connector) checkUniqueConstraints(m *schema.Model, key string, snap row) error {
	for _, ix := range m.Indices() {
		if ix.Type != schema.IndexUnique {
			continue
		}
		names := ix.FieldNames()
		for existingKey, existingRow := range c.rows[m.Name] {
			if existingKey == key {
				continue
			}
			if uniqueFieldsMatch(existingRow, snap, names) {
				return action.Wrap(action.ConnectorError, fmt.Errorf("%s: unique constraint violated on %v", m.Name, names))
			}
		}
	}
	return nil
}

// uniqueFieldsMatch reports whether existing and candidate agree on every
// named field, treating a missing or null value on either side as
// non-matching, the usual SQL NULL-is-distinct-from-NULL unique semantics.
func uniqueFieldsMatch(existing, candidate row, names []string) bool {
	for _, n := range names {
		ev, ok1 := existing[n]
		cv, ok2 := candidate[n]
		if !ok1 || !ok2 || ev.IsNull() || cv.IsNull() {
			return false
		}
		if !value.Equal(ev, cv) {
			return false
		}
	}
	return true
}

// applyAtomic folds one buffered atomic-update operator into the field's
// current stored value. Push appends to a vec; the arithmetic operators work
// over whichever numeric kind the field already holds.
func applyAtomic(cur value.Value, upd input.AtomicUpdate) value.Value {
	if upd.Kind == schema.AtomicPush {
		return value.Vec(append(append([]value.Value(nil), cur.Vec()...), upd.Value))
	}
	a, b := toFloat(cur), toFloat(upd.Value)
	var result float64
	switch upd.Kind {
	case schema.AtomicIncrement:
		result = a + b
	case schema.AtomicDecrement:
		result = a - b
	case schema.AtomicMultiply:
		result = a * b
	case schema.AtomicDivide:
		if b == 0 {
			return cur
		}
		result = a / b
	default:
		return cur
	}
	switch cur.Kind() {
	case value.KindInt32:
		return value.Int32(int32(result))
	case value.KindInt64:
		return value.Int64(int64(result))
	case value.KindFloat32:
		return value.Float32(float32(result))
	case value.KindDecimal:
		return value.Decimal(decimal.NewFromFloat(result))
	default:
		return value.Float64(result)
	}
}

// DeleteObject removes the row identified by obj's primary key.
func (c *Connector) DeleteObject(ctx context.Context, obj *object.Object) error {
	m := obj.Model()
	where, err := obj.PrimaryWhere()
	if err != nil {
		return err
	}
	key := primaryKey(m, where)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rows[m.Name] != nil {
		delete(c.rows[m.Name], key)
	}
	for i, k := range c.order[m.Name] {
		if k == key {
			c.order[m.Name] = append(c.order[m.Name][:i], c.order[m.Name][i+1:]...)
			break
		}
	}
	return nil
}

// FindUniqueByWhere implements the narrow object.Connector contract used
// directly by the object runtime for relation lookups.
func (c *Connector) FindUniqueByWhere(ctx context.Context, m *schema.Model, where map[string]value.Value, opts object.FindOptions) (*object.Object, error) {
	rows := c.matchAll(m, where)
	if len(rows) == 0 {
		return nil, action.Newf(action.ObjectNotFound, "no %s matches the given where", m.Name)
	}
	return c.hydrate(m, rows[0], opts), nil
}

// FindManyByWhere implements the narrow object.Connector contract.
func (c *Connector) FindManyByWhere(ctx context.Context, m *schema.Model, where map[string]value.Value, opts object.FindOptions) ([]*object.Object, error) {
	rows := c.matchAll(m, where)
	out := make([]*object.Object, len(rows))
	for i, r := range rows {
		out[i] = c.hydrate(m, r, opts)
	}
	return out, nil
}

func (c *Connector) NewSaveSession(ctx context.Context) (object.SaveSession, error) {
	return &session{}, nil
}

// session is a no-op SaveSession: the memory connector applies each write
// immediately, so commit/rollback have nothing to reconcile. Nesting is still
// safe since every level's Commit/Rollback is a no-op.
type session struct{}

func (s *session) Commit() error   { return nil }
func (s *session) Rollback() error { return nil }

func (c *Connector) matchAll(m *schema.Model, where map[string]value.Value) []row {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []row
	for _, key := range c.order[m.Name] {
		r := c.rows[m.Name][key]
		if rowMatches(r, where) {
			cp := make(row, len(r))
			for k, v := range r {
				cp[k] = v
			}
			out = append(out, cp)
		}
	}
	return out
}

func rowMatches(r row, where map[string]value.Value) bool {
	for k, want := range where {
		got, ok := r[k]
		if !ok {
			got = value.Null()
		}
		if !value.Equal(got, want) {
			return false
		}
	}
	return true
}

func (c *Connector) hydrate(m *schema.Model, r row, opts object.FindOptions) *object.Object {
	obj := object.New(c.graph, m, c)
	obj.Hydrate(r)
	if len(opts.Select) > 0 {
		obj.SetSelect(opts.Select)
	}
	for relName, subOpts := range opts.Include {
		c.resolveInclude(obj, m, relName, subOpts)
	}
	return obj
}

func (c *Connector) resolveInclude(obj *object.Object, m *schema.Model, relName string, subOpts object.FindOptions) {
	rel, ok := m.Relation(relName)
	if !ok {
		return
	}
	target, ok := c.graph.Model(rel.TargetModel)
	if !ok {
		return
	}

	where := map[string]value.Value{}
	if rel.Through == "" {
		// r.Fields names columns on the declaring (local) model; r.References
		// names the matching columns on the target model, regardless of
		// cardinality — see internal/object/link.go's applyDirectLink, which
		// uses the identical convention.
		for i, field := range rel.Fields {
			v, _ := obj.GetValue(field)
			where[rel.References[i]] = v
		}
		related, err := c.FindManyByWhere(context.Background(), target, where, subOpts)
		if err != nil {
			return
		}
		if rel.IsVec {
			obj.AttachRelation(relName, related)
		} else if len(related) > 0 {
			obj.AttachRelation(relName, related[:1])
		}
		return
	}

	joinModel, ok := c.graph.Model(rel.Through)
	if !ok {
		return
	}
	ownerRel, ok1 := joinModel.Relation(rel.Fields[0])
	targetRel, ok2 := joinModel.Relation(rel.References[0])
	if !ok1 || !ok2 {
		return
	}
	joinWhere := map[string]value.Value{}
	for i, lf := range ownerRel.Fields {
		v, _ := obj.GetValue(ownerRel.References[i])
		joinWhere[lf] = v
	}
	joinRows, err := c.FindManyByWhere(context.Background(), joinModel, joinWhere, object.FindOptions{})
	if err != nil {
		return
	}
	var related []*object.Object
	for _, jr := range joinRows {
		tw := map[string]value.Value{}
		for i, lf := range targetRel.Fields {
			v, _ := jr.GetValue(lf)
			tw[targetRel.References[i]] = v
		}
		hit, err := c.FindManyByWhere(context.Background(), target, tw, subOpts)
		if err != nil {
			continue
		}
		related = append(related, hit...)
	}
	obj.AttachRelation(relName, related)
}

// The remainder of this file implements the richer connector.Connector
// contract consumed by package query.

func (c *Connector) FindUnique(ctx context.Context, m *schema.Model, q *connector.Query) (*object.Object, error) {
	rows := c.filtered(m, q)
	if len(rows) == 0 {
		return nil, action.Newf(action.ObjectNotFound, "no %s matches the given where", m.Name)
	}
	opts := object.FindOptions{Include: q.Include, Select: q.Select}
	return c.hydrate(m, rows[0], opts), nil
}

func (c *Connector) FindFirst(ctx context.Context, m *schema.Model, q *connector.Query) (*object.Object, error) {
	rows := c.filtered(m, q)
	if len(rows) == 0 {
		return nil, action.Newf(action.ObjectNotFound, "no %s matches the given where", m.Name)
	}
	opts := object.FindOptions{Include: q.Include, Select: q.Select}
	return c.hydrate(m, rows[0], opts), nil
}

func (c *Connector) FindMany(ctx context.Context, m *schema.Model, q *connector.Query) ([]*object.Object, error) {
	rows := c.filtered(m, q)
	paged := paginate(rows, q)
	opts := object.FindOptions{Include: q.Include, Select: q.Select}
	out := make([]*object.Object, len(paged))
	for i, r := range paged {
		out[i] = c.hydrate(m, r, opts)
	}
	return out, nil
}

func (c *Connector) Count(ctx context.Context, m *schema.Model, q *connector.Query) (int64, error) {
	return int64(len(c.filtered(m, q))), nil
}

func (c *Connector) Aggregate(ctx context.Context, m *schema.Model, q *connector.Query) (value.Value, error) {
	rows := c.filtered(m, q)
	out := map[string]value.Value{}
	for _, agg := range q.Aggregates {
		out[agg.Op+"_"+agg.Field] = aggregateOne(rows, agg)
	}
	return value.Map(out), nil
}

func (c *Connector) GroupBy(ctx context.Context, m *schema.Model, q *connector.Query) ([]value.Value, error) {
	rows := c.filtered(m, q)
	groups := map[string][]row{}
	var order []string
	for _, r := range rows {
		parts := make([]string, len(q.GroupFields))
		for i, f := range q.GroupFields {
			parts[i] = fmt.Sprintf("%v", rawValue(r[f]))
		}
		key := strings.Join(parts, "\x1f")
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}

	var out []value.Value
	for _, key := range order {
		grs := groups[key]
		entry := map[string]value.Value{}
		for _, f := range q.GroupFields {
			entry[f] = grs[0][f]
		}
		for _, agg := range q.Aggregates {
			entry[agg.Op+"_"+agg.Field] = aggregateOne(grs, agg)
		}
		if q.Having != nil && !havingMatches(entry, q.Having) {
			continue
		}
		out = append(out, value.Map(entry))
	}
	return out, nil
}

func havingMatches(entry row, having *connector.Query) bool {
	return rowMatches(entry, having.Where)
}

func aggregateOne(rows []row, agg connector.AggregateSelector) value.Value {
	switch agg.Op {
	case "count":
		return value.Int64(int64(len(rows)))
	case "sum", "avg", "min", "max":
		var sum, minV, maxV float64
		first := true
		for _, r := range rows {
			v, ok := r[agg.Field]
			if !ok || v.IsNull() {
				continue
			}
			f := toFloat(v)
			sum += f
			if first || f < minV {
				minV = f
			}
			if first || f > maxV {
				maxV = f
			}
			first = false
		}
		switch agg.Op {
		case "sum":
			return value.Float64(sum)
		case "avg":
			if len(rows) == 0 {
				return value.Float64(0)
			}
			return value.Float64(sum / float64(len(rows)))
		case "min":
			return value.Float64(minV)
		default:
			return value.Float64(maxV)
		}
	default:
		return value.Null()
	}
}

func toFloat(v value.Value) float64 {
	switch v.Kind() {
	case value.KindInt32:
		return float64(v.Int32())
	case value.KindInt64:
		return float64(v.Int64())
	case value.KindFloat32:
		return float64(v.Float32())
	case value.KindFloat64:
		return v.Float64()
	case value.KindDecimal:
		f, _ := v.Decimal().Float64()
		return f
	default:
		return 0
	}
}

func (c *Connector) filtered(m *schema.Model, q *connector.Query) []row {
	rows := c.matchAll(m, q.Where)
	if len(q.OrderBy) > 0 {
		sort.SliceStable(rows, func(i, j int) bool {
			for _, term := range q.OrderBy {
				a, b := rows[i][term.Field], rows[j][term.Field]
				if value.Equal(a, b) {
					continue
				}
				less := value.Less(a, b)
				if term.Direction == schema.Desc {
					return !less
				}
				return less
			}
			return false
		})
	}
	if len(q.Distinct) > 0 {
		rows = distinctBy(rows, q.Distinct)
	}
	return rows
}

func distinctBy(rows []row, fields []string) []row {
	seen := map[string]bool{}
	var out []row
	for _, r := range rows {
		parts := make([]string, len(fields))
		for i, f := range fields {
			parts[i] = fmt.Sprintf("%v", rawValue(r[f]))
		}
		key := strings.Join(parts, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}

// paginate applies cursor/skip/take. pageSize+pageNumber are folded into
// take/skip upstream in package query before the Query reaches the
// connector, so only take/skip/cursor mechanics are needed here.
func paginate(rows []row, q *connector.Query) []row {
	start := 0
	if len(q.Cursor) > 0 {
		for i, r := range rows {
			if rowMatches(r, q.Cursor) {
				start = i
				break
			}
		}
	}
	rows = rows[start:]

	if q.Skip > 0 {
		if q.Skip >= len(rows) {
			return nil
		}
		rows = rows[q.Skip:]
	}

	if !q.HasTake {
		return rows
	}
	take := q.Take
	if take >= 0 {
		if take > len(rows) {
			take = len(rows)
		}
		return rows[:take]
	}
	n := -take
	if n > len(rows) {
		n = len(rows)
	}
	return rows[len(rows)-n:]
}
