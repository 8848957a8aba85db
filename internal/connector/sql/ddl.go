package sql

import (
	"context"
	"fmt"
	"strings"

	"weave/internal/schema"
	"weave/internal/value"
)

// columnType maps a field's Value kind to a MySQL column type. This package
// is not a migration engine, so one dialect's mapping is all it carries.
func columnType(f *schema.Field) string {
	switch f.Kind {
	case value.KindBool:
		return "TINYINT(1)"
	case value.KindInt32:
		return "INT"
	case value.KindInt64:
		return "BIGINT"
	case value.KindFloat32:
		return "FLOAT"
	case value.KindFloat64:
		return "DOUBLE"
	case value.KindDecimal:
		return "DECIMAL(65,30)"
	case value.KindDate:
		return "DATE"
	case value.KindDateTime:
		return "DATETIME(6)"
	case value.KindEnum, value.KindString:
		return "VARCHAR(191)"
	default:
		return "TEXT"
	}
}

// EnsureSchema idempotently creates a table for every model in the graph
// that doesn't already have one. It never alters or drops an existing table
// — that belongs to a migration engine, which this codebase deliberately
// does not implement.
func (c *Connector) EnsureSchema(ctx context.Context) error {
	for _, m := range c.graph.Models() {
		var cols []string
		for _, f := range m.Fields() {
			col := fmt.Sprintf("`%s` %s", f.Name, columnType(f))
			if f.Optionality == schema.Required && !f.AutoIncrement {
				col += " NOT NULL"
			}
			if f.AutoIncrement {
				col += " AUTO_INCREMENT"
			}
			cols = append(cols, col)
		}
		if pk := m.PrimaryFieldNames(); len(pk) > 0 {
			quoted := make([]string, len(pk))
			for i, n := range pk {
				quoted[i] = "`" + n + "`"
			}
			cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
		}
		ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS `%s` (%s)", m.TableName, strings.Join(cols, ", "))
		if _, err := c.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("sql: ensure schema for %q: %w", m.Name, err)
		}
	}
	return nil
}
