// Package sql implements a MySQL-backed Connector: sql.Open("mysql", dsn) +
// PingContext to establish the pool, BeginTx/ExecContext/Commit or Rollback
// for the write path. Schema DDL bootstrap (EnsureSchema) is idempotent
// create-if-missing only; this package is not a migration engine.
package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"weave/internal/action"
	"weave/internal/connector"
	"weave/internal/object"
	"weave/internal/schema"
	"weave/internal/value"
)

// Connector is a database/sql-backed Connector bound to one *schema.Graph.
type Connector struct {
	db    *sql.DB
	graph *schema.Graph

	mu      sync.Mutex
	tx      *sql.Tx
	depth   int
	failed  bool
}

// Open opens a MySQL connection pool and pings it before handing it out.
func Open(ctx context.Context, dsn string, graph *schema.Graph) (*Connector, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql: failed to open database connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sql: failed to ping database: %w", err)
	}
	return &Connector{db: db, graph: graph}, nil
}

func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) NewObject(model *schema.Model) *object.Object {
	return object.New(c.graph, model, c)
}

// session is the nested SaveSession: only the outermost Commit/Rollback
// touches the real *sql.Tx, so recursive object saves (parents saving child
// relation objects) share one transaction scope.
type session struct {
	c     *Connector
	outer bool
}

func (c *Connector) NewSaveSession(ctx context.Context) (object.SaveSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx == nil {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("sql: begin transaction: %w", err)
		}
		c.tx = tx
		c.depth = 1
		return &session{c: c, outer: true}, nil
	}
	c.depth++
	return &session{c: c}, nil
}

func (s *session) Commit() error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.outer {
		c.depth--
		return nil
	}
	tx := c.tx
	c.tx, c.depth = nil, 0
	if c.failed {
		c.failed = false
		_ = tx.Rollback()
		return fmt.Errorf("sql: transaction had a failed nested session")
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sql: commit transaction: %w", err)
	}
	return nil
}

func (s *session) Rollback() error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()
	if !s.outer {
		c.depth--
		c.failed = true
		return nil
	}
	tx := c.tx
	c.tx, c.depth = nil, 0
	return tx.Rollback()
}

func (c *Connector) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return c.db.ExecContext(ctx, query, args...)
}

func (c *Connector) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.mu.Lock()
	tx := c.tx
	c.mu.Unlock()
	if tx != nil {
		return tx.QueryContext(ctx, query, args...)
	}
	return c.db.QueryContext(ctx, query, args...)
}

// toDriverValue converts a value.Value into something database/sql can bind.
func toDriverValue(v value.Value) any {
	switch v.Kind() {
	case value.KindNull:
		return nil
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
	case value.KindString, value.KindEnum:
		if v.Kind() == value.KindEnum {
			return v.EnumTag()
		}
		return v.String()
	case value.KindDate:
		return v.Date().Format("2006-01-02")
	case value.KindDateTime:
		return v.DateTime().UTC()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func fromDriverValue(raw any, kind value.Kind) value.Value {
	if raw == nil {
		return value.Null()
	}
	switch kind {
	case value.KindBool:
		switch t := raw.(type) {
		case bool:
			return value.Bool(t)
		case int64:
			return value.Bool(t != 0)
		}
	case value.KindInt32:
		if t, ok := raw.(int64); ok {
			return value.Int32(int32(t))
		}
	case value.KindInt64:
		if t, ok := raw.(int64); ok {
			return value.Int64(t)
		}
	case value.KindFloat32:
		if t, ok := raw.(float64); ok {
			return value.Float32(float32(t))
		}
	case value.KindFloat64:
		if t, ok := raw.(float64); ok {
			return value.Float64(t)
		}
	case value.KindDecimal:
		if b, ok := raw.([]byte); ok {
			d, err := decimal.NewFromString(string(b))
			if err == nil {
				return value.Decimal(d)
			}
		}
	case value.KindString:
		if b, ok := raw.([]byte); ok {
			return value.String(string(b))
		}
		if s, ok := raw.(string); ok {
			return value.String(s)
		}
	case value.KindEnum:
		if b, ok := raw.([]byte); ok {
			return value.Enum(string(b))
		}
		if s, ok := raw.(string); ok {
			return value.Enum(s)
		}
	case value.KindDate:
		if t, ok := raw.(time.Time); ok {
			return value.Date(t)
		}
	case value.KindDateTime:
		if t, ok := raw.(time.Time); ok {
			return value.DateTime(t.UTC())
		}
	}
	return value.Null()
}

// SaveObject inserts or upserts the row for obj using its dirty fields only
// on update, the full snapshot on insert — per the Connector contract's
// dirty-fields-only rule for updates.
func (c *Connector) SaveObject(ctx context.Context, obj *object.Object) error {
	m := obj.Model()
	if obj.IsNew() {
		return c.insert(ctx, obj, m)
	}
	return c.update(ctx, obj, m)
}

func (c *Connector) insert(ctx context.Context, obj *object.Object, m *schema.Model) error {
	snap := obj.Snapshot()
	var cols, placeholders []string
	var args []any
	for _, f := range m.Fields() {
		v, ok := snap[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, "`"+f.Name+"`")
		placeholders = append(placeholders, "?")
		args = append(args, toDriverValue(v))
	}
	q := fmt.Sprintf("INSERT INTO `%s` (%s) VALUES (%s)", m.TableName, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	res, err := c.exec(ctx, q, args...)
	if err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	for _, f := range m.Fields() {
		if f.AutoIncrement {
			if _, has := snap[f.Name]; !has {
				id, err := res.LastInsertId()
				if err == nil {
					v := value.Int64(id)
					if f.Kind == value.KindInt32 {
						v = value.Int32(int32(id))
					}
					_ = obj.Set(f.Name, v)
				}
			}
		}
	}
	return nil
}

func (c *Connector) update(ctx context.Context, obj *object.Object, m *schema.Model) error {
	dirty := obj.ModifiedFields()
	if len(dirty) == 0 {
		return nil
	}
	snap := obj.Snapshot()
	var sets []string
	var args []any
	for name := range dirty {
		sets = append(sets, "`"+name+"` = ?")
		args = append(args, toDriverValue(snap[name]))
	}
	where, err := obj.PrimaryWhere()
	if err != nil {
		return err
	}
	var whereParts []string
	for k, v := range where {
		whereParts = append(whereParts, "`"+k+"` = ?")
		args = append(args, toDriverValue(v))
	}
	q := fmt.Sprintf("UPDATE `%s` SET %s WHERE %s", m.TableName, strings.Join(sets, ", "), strings.Join(whereParts, " AND "))
	if _, err := c.exec(ctx, q, args...); err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	return nil
}

func (c *Connector) DeleteObject(ctx context.Context, obj *object.Object) error {
	m := obj.Model()
	where, err := obj.PrimaryWhere()
	if err != nil {
		return err
	}
	var whereParts []string
	var args []any
	for k, v := range where {
		whereParts = append(whereParts, "`"+k+"` = ?")
		args = append(args, toDriverValue(v))
	}
	q := fmt.Sprintf("DELETE FROM `%s` WHERE %s", m.TableName, strings.Join(whereParts, " AND "))
	if _, err := c.exec(ctx, q, args...); err != nil {
		return action.Wrap(action.ConnectorError, err)
	}
	return nil
}

func buildWhere(where map[string]value.Value, startArgs []any) (string, []any) {
	if len(where) == 0 {
		return "", startArgs
	}
	var parts []string
	args := startArgs
	for k, v := range where {
		parts = append(parts, "`"+k+"` = ?")
		args = append(args, toDriverValue(v))
	}
	return " WHERE " + strings.Join(parts, " AND "), args
}

func (c *Connector) scanRow(rows *sql.Rows, m *schema.Model, cols []string) (map[string]value.Value, error) {
	scanDest := make([]any, len(cols))
	raw := make([]any, len(cols))
	for i := range raw {
		scanDest[i] = &raw[i]
	}
	if err := rows.Scan(scanDest...); err != nil {
		return nil, err
	}
	out := map[string]value.Value{}
	for i, colName := range cols {
		f, ok := m.Field(colName)
		if !ok {
			continue
		}
		out[colName] = fromDriverValue(raw[i], f.Kind)
	}
	return out, nil
}

func (c *Connector) selectRows(ctx context.Context, m *schema.Model, q *connector.Query) ([]map[string]value.Value, error) {
	cols := make([]string, 0, len(m.Fields()))
	quoted := make([]string, 0, len(m.Fields()))
	for _, f := range m.Fields() {
		cols = append(cols, f.Name)
		quoted = append(quoted, "`"+f.Name+"`")
	}
	query := fmt.Sprintf("SELECT %s FROM `%s`", strings.Join(quoted, ", "), m.TableName)
	var args []any
	whereClause, args := buildWhere(q.Where, args)
	query += whereClause

	if len(q.OrderBy) > 0 {
		var terms []string
		for _, t := range q.OrderBy {
			dir := "ASC"
			if t.Direction == schema.Desc {
				dir = "DESC"
			}
			terms = append(terms, "`"+t.Field+"` "+dir)
		}
		query += " ORDER BY " + strings.Join(terms, ", ")
	}
	if q.HasTake && q.Take >= 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Take)
		if q.Skip > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Skip)
		}
	} else if q.Skip > 0 {
		query += fmt.Sprintf(" LIMIT 18446744073709551615 OFFSET %d", q.Skip)
	}

	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, action.Wrap(action.ConnectorError, err)
	}
	defer rows.Close()

	var out []map[string]value.Value
	for rows.Next() {
		r, err := c.scanRow(rows, m, cols)
		if err != nil {
			return nil, action.Wrap(action.ConnectorError, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *Connector) hydrate(m *schema.Model, row map[string]value.Value, opts object.FindOptions) *object.Object {
	obj := object.New(c.graph, m, c)
	obj.Hydrate(row)
	if len(opts.Select) > 0 {
		obj.SetSelect(opts.Select)
	}
	for relName, subOpts := range opts.Include {
		c.resolveInclude(context.Background(), obj, m, relName, subOpts)
	}
	return obj
}

// resolveInclude mirrors package memory's relation-lookup convention: a
// relation's Fields name columns on the declaring (local) model, References
// the matching columns on the target model, regardless of cardinality.
func (c *Connector) resolveInclude(ctx context.Context, obj *object.Object, m *schema.Model, relName string, subOpts object.FindOptions) {
	rel, ok := m.Relation(relName)
	if !ok {
		return
	}
	target, ok := c.graph.Model(rel.TargetModel)
	if !ok {
		return
	}

	if rel.Through == "" {
		where := map[string]value.Value{}
		for i, field := range rel.Fields {
			v, _ := obj.GetValue(field)
			where[rel.References[i]] = v
		}
		related, err := c.FindManyByWhere(ctx, target, where, subOpts)
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
	joinRows, err := c.FindManyByWhere(ctx, joinModel, joinWhere, object.FindOptions{})
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
		hit, err := c.FindManyByWhere(ctx, target, tw, subOpts)
		if err != nil {
			continue
		}
		related = append(related, hit...)
	}
	obj.AttachRelation(relName, related)
}

// FindUniqueByWhere and FindManyByWhere satisfy the narrow object.Connector
// slice the object runtime drives directly for relation lookups.
func (c *Connector) FindUniqueByWhere(ctx context.Context, m *schema.Model, where map[string]value.Value, opts object.FindOptions) (*object.Object, error) {
	return c.FindUnique(ctx, m, &connector.Query{Where: where, Include: opts.Include, Select: opts.Select})
}

func (c *Connector) FindManyByWhere(ctx context.Context, m *schema.Model, where map[string]value.Value, opts object.FindOptions) ([]*object.Object, error) {
	return c.FindMany(ctx, m, &connector.Query{Where: where, Include: opts.Include, Select: opts.Select})
}

func (c *Connector) FindUnique(ctx context.Context, m *schema.Model, q *connector.Query) (*object.Object, error) {
	rows, err := c.selectRows(ctx, m, q)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, action.Newf(action.ObjectNotFound, "no %s matches the given where", m.Name)
	}
	return c.hydrate(m, rows[0], object.FindOptions{Include: q.Include, Select: q.Select}), nil
}

func (c *Connector) FindFirst(ctx context.Context, m *schema.Model, q *connector.Query) (*object.Object, error) {
	return c.FindUnique(ctx, m, q)
}

func (c *Connector) FindMany(ctx context.Context, m *schema.Model, q *connector.Query) ([]*object.Object, error) {
	rows, err := c.selectRows(ctx, m, q)
	if err != nil {
		return nil, err
	}
	out := make([]*object.Object, len(rows))
	for i, r := range rows {
		out[i] = c.hydrate(m, r, object.FindOptions{Include: q.Include, Select: q.Select})
	}
	return out, nil
}

func (c *Connector) Count(ctx context.Context, m *schema.Model, q *connector.Query) (int64, error) {
	whereClause, args := buildWhere(q.Where, nil)
	query := fmt.Sprintf("SELECT COUNT(*) FROM `%s`%s", m.TableName, whereClause)
	var n int64
	row := c.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&n); err != nil {
		return 0, action.Wrap(action.ConnectorError, err)
	}
	return n, nil
}

func (c *Connector) Aggregate(ctx context.Context, m *schema.Model, q *connector.Query) (value.Value, error) {
	if len(q.Aggregates) == 0 {
		return value.Map(map[string]value.Value{}), nil
	}
	var selectors []string
	for _, agg := range q.Aggregates {
		switch agg.Op {
		case "count":
			selectors = append(selectors, "COUNT(`"+agg.Field+"`)")
		case "sum":
			selectors = append(selectors, "SUM(`"+agg.Field+"`)")
		case "avg":
			selectors = append(selectors, "AVG(`"+agg.Field+"`)")
		case "min":
			selectors = append(selectors, "MIN(`"+agg.Field+"`)")
		case "max":
			selectors = append(selectors, "MAX(`"+agg.Field+"`)")
		}
	}
	whereClause, args := buildWhere(q.Where, nil)
	query := fmt.Sprintf("SELECT %s FROM `%s`%s", strings.Join(selectors, ", "), m.TableName, whereClause)
	row := c.db.QueryRowContext(ctx, query, args...)
	dest := make([]any, len(q.Aggregates))
	raw := make([]sql.NullFloat64, len(q.Aggregates))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		return value.Value{}, action.Wrap(action.ConnectorError, err)
	}
	out := map[string]value.Value{}
	for i, agg := range q.Aggregates {
		out[agg.Op+"_"+agg.Field] = value.Float64(raw[i].Float64)
	}
	return value.Map(out), nil
}

func (c *Connector) GroupBy(ctx context.Context, m *schema.Model, q *connector.Query) ([]value.Value, error) {
	var selectCols []string
	for _, f := range q.GroupFields {
		selectCols = append(selectCols, "`"+f+"`")
	}
	for _, agg := range q.Aggregates {
		selectCols = append(selectCols, fmt.Sprintf("%s(`%s`) AS %s_%s", strings.ToUpper(agg.Op), agg.Field, agg.Op, agg.Field))
	}
	whereClause, args := buildWhere(q.Where, nil)
	query := fmt.Sprintf("SELECT %s FROM `%s`%s GROUP BY %s", strings.Join(selectCols, ", "), m.TableName, whereClause, strings.Join(groupByNames(q.GroupFields), ", "))
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, action.Wrap(action.ConnectorError, err)
	}
	defer rows.Close()

	cols := append(append([]string(nil), q.GroupFields...), aggNames(q.Aggregates)...)
	var out []value.Value
	for rows.Next() {
		scanDest := make([]any, len(cols))
		raw := make([]any, len(cols))
		for i := range raw {
			scanDest[i] = &raw[i]
		}
		if err := rows.Scan(scanDest...); err != nil {
			return nil, action.Wrap(action.ConnectorError, err)
		}
		entry := map[string]value.Value{}
		for i, name := range q.GroupFields {
			f, _ := m.Field(name)
			kind := value.KindString
			if f != nil {
				kind = f.Kind
			}
			entry[name] = fromDriverValue(raw[i], kind)
		}
		for i, agg := range q.Aggregates {
			entry[agg.Op+"_"+agg.Field] = fromDriverValue(raw[len(q.GroupFields)+i], value.KindFloat64)
		}
		out = append(out, value.Map(entry))
	}
	return out, rows.Err()
}

func groupByNames(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = "`" + f + "`"
	}
	return out
}

func aggNames(aggs []connector.AggregateSelector) []string {
	out := make([]string, len(aggs))
	for i, a := range aggs {
		out[i] = a.Op + "_" + a.Field
	}
	return out
}
