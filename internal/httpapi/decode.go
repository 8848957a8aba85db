package httpapi

import (
	"weave/internal/connector"
	"weave/internal/query"
	"weave/internal/schema"
)

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) (float64, bool) {
	f, ok := v.(float64)
	return f, ok
}

func decodeSelect(raw any) map[string]bool {
	m := asMap(raw)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = asBool(v)
	}
	return out
}

// decodeInclude turns the JSON include tree into query.IncludeSpec. A `true`
// leaf means "include with no further narrowing"; an object leaf may itself
// carry nested "include"/"select" keys.
func decodeInclude(raw any) map[string]query.IncludeSpec {
	m := asMap(raw)
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]query.IncludeSpec, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case bool:
			if t {
				out[k] = query.IncludeSpec{}
			}
		case map[string]any:
			out[k] = query.IncludeSpec{
				Include: decodeInclude(t["include"]),
				Select:  decodeSelect(t["select"]),
			}
		}
	}
	return out
}

func decodeOrderBy(raw any) []query.OrderTerm {
	list, ok := raw.([]any)
	if !ok {
		return nil
	}
	var out []query.OrderTerm
	for _, entry := range list {
		m := asMap(entry)
		for field, dir := range m {
			d := schema.Asc
			if s, ok := dir.(string); ok && s == "desc" {
				d = schema.Desc
			}
			out = append(out, query.OrderTerm{Field: field, Direction: d})
		}
	}
	return out
}

func decodeFilter(body map[string]any) *query.Filter {
	f := &query.Filter{
		Where:   asMap(body["where"]),
		OrderBy: decodeOrderBy(body["orderBy"]),
		Cursor:  asMap(body["cursor"]),
		Include: decodeInclude(body["include"]),
		Select:  decodeSelect(body["select"]),
	}
	if take, ok := asFloat(body["take"]); ok {
		f.Take, f.HasTake = int(take), true
	}
	if skip, ok := asFloat(body["skip"]); ok {
		f.Skip = int(skip)
	}
	if list, ok := body["distinct"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				f.Distinct = append(f.Distinct, s)
			}
		}
	}
	pageSize, hasPageSize := asFloat(body["pageSize"])
	pageNumber, hasPageNumber := asFloat(body["pageNumber"])
	if hasPageSize && hasPageNumber {
		f.HasPage = true
		f.PageSize = int(pageSize)
		f.PageNumber = int(pageNumber)
	}
	return f
}

// decodeAggregateSelectors reads the _count/_sum/_avg/_min/_max sections of
// an aggregate/groupBy spec, each a field-name -> true map.
func decodeAggregateSelectors(body map[string]any) []connector.AggregateSelector {
	var out []connector.AggregateSelector
	for _, op := range []string{"_count", "_sum", "_avg", "_min", "_max"} {
		fields := asMap(body[op])
		opName := op[1:]
		for field, want := range fields {
			if asBool(want) {
				out = append(out, connector.AggregateSelector{Op: opName, Field: field})
			}
		}
	}
	return out
}

func decodeAggregateSpec(body map[string]any) *query.AggregateSpec {
	return &query.AggregateSpec{
		Where:      asMap(body["where"]),
		Aggregates: decodeAggregateSelectors(body),
	}
}

func decodeGroupBySpec(body map[string]any) *query.GroupBySpec {
	spec := &query.GroupBySpec{
		Where:      asMap(body["where"]),
		Having:     asMap(body["having"]),
		Aggregates: decodeAggregateSelectors(body),
	}
	if list, ok := body["by"].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				spec.By = append(spec.By, s)
			}
		}
	}
	return spec
}

func decodeManyBody(raw any) []map[string]any {
	list, ok := raw.([]any)
	if !ok {
		if m, ok := raw.(map[string]any); ok {
			return []map[string]any{m}
		}
		return nil
	}
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
