package clientgen

import (
	"fmt"
	"sort"
	"strings"

	"weave/internal/schema"
	"weave/internal/value"
)

func init() {
	register("typescript", func() Generator { return typescriptGenerator{} })
}

// typescriptGenerator walks the frozen Graph and emits one interface per
// Model (fields typed by Value kind, relations typed by the target model)
// and one async method per enabled Action against the single catch-all
// action endpoint.
type typescriptGenerator struct{}

func (typescriptGenerator) Name() string { return "typescript" }

func (g typescriptGenerator) Generate(graph *schema.Graph) ([]byte, error) {
	var b strings.Builder
	b.WriteString("// Code generated by weave's client binding generator. DO NOT EDIT.\n\n")

	for _, e := range graph.Enums() {
		writeEnum(&b, e)
	}

	models := graph.Models()
	for _, m := range models {
		writeModelInterface(&b, m)
	}

	b.WriteString("export interface ActionEnvelope<T> {\n  data: T\n  meta?: { count?: number; numberOfPages?: number; token?: string }\n}\n\n")
	b.WriteString("export interface ActionClient {\n  call(model: string, action: string, body: unknown): Promise<unknown>\n}\n\n")

	for _, m := range models {
		writeModelDelegate(&b, m)
	}

	writeRootClient(&b, models)

	return []byte(b.String()), nil
}

func writeEnum(b *strings.Builder, e *schema.Enum) {
	fmt.Fprintf(b, "export type %s =\n", e.Name)
	for _, v := range e.Variants {
		fmt.Fprintf(b, "  | %q\n", v)
	}
	b.WriteString("\n")
}

func writeModelInterface(b *strings.Builder, m *schema.Model) {
	fmt.Fprintf(b, "export interface %s {\n", m.Name)
	for _, k := range m.OutputKeys() {
		f, _ := m.Field(k)
		opt := ""
		if f.Optionality == schema.Optional {
			opt = "?"
		}
		fmt.Fprintf(b, "  %s%s: %s\n", k, opt, tsType(f))
	}
	for _, r := range m.Relations() {
		opt := ""
		if r.Optionality == schema.Optional || r.IsVec {
			opt = "?"
		}
		rt := r.TargetModel
		if r.IsVec {
			rt += "[]"
		}
		fmt.Fprintf(b, "  %s%s: %s\n", r.Name, opt, rt)
	}
	b.WriteString("}\n\n")
}

func tsType(f *schema.Field) string {
	switch f.Kind {
	case value.KindBool:
		return "boolean"
	case value.KindInt32, value.KindInt64, value.KindFloat32, value.KindFloat64:
		return "number"
	case value.KindDecimal:
		return "string"
	case value.KindString:
		return "string"
	case value.KindDate, value.KindDateTime:
		return "string"
	case value.KindEnum:
		return f.EnumName
	case value.KindVec:
		return "unknown[]"
	case value.KindMap:
		return "Record<string, unknown>"
	case value.KindObject:
		return "unknown"
	default:
		return "unknown"
	}
}

// actionOrder fixes a stable emission order for a model's enabled actions,
// since schema.Model.Actions is a map.
var actionOrder = []schema.Action{
	schema.ActionFindUnique, schema.ActionFindFirst, schema.ActionFindMany,
	schema.ActionCreate, schema.ActionUpdate, schema.ActionUpsert, schema.ActionDelete,
	schema.ActionCreateMany, schema.ActionUpdateMany, schema.ActionDeleteMany,
	schema.ActionCount, schema.ActionAggregate, schema.ActionGroupBy,
	schema.ActionSignIn, schema.ActionIdentity,
}

func writeModelDelegate(b *strings.Builder, m *schema.Model) {
	if len(m.Actions) == 0 {
		return
	}
	className := strings.ToUpper(m.Name[:1]) + m.Name[1:] + "Delegate"
	fmt.Fprintf(b, "export class %s {\n", className)
	b.WriteString("  constructor(private readonly client: ActionClient) {}\n\n")
	for _, a := range actionOrder {
		if !m.HasAction(a) {
			continue
		}
		resultType := fmt.Sprintf("ActionEnvelope<%s>", m.Name)
		if a == schema.ActionFindMany || a == schema.ActionCreateMany || a == schema.ActionUpdateMany || a == schema.ActionDeleteMany {
			resultType = fmt.Sprintf("ActionEnvelope<%s[]>", m.Name)
		}
		if a == schema.ActionCount {
			resultType = "ActionEnvelope<number>"
		}
		fmt.Fprintf(b, "  async %s(args: unknown = {}): Promise<%s> {\n", string(a), resultType)
		fmt.Fprintf(b, "    return this.client.call(%q, %q, args) as Promise<%s>\n", m.URLSegment, string(a), resultType)
		b.WriteString("  }\n\n")
	}
	b.WriteString("}\n\n")
}

func writeRootClient(b *strings.Builder, models []*schema.Model) {
	sorted := append([]*schema.Model(nil), models...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	b.WriteString("export class WeaveClient {\n")
	for _, m := range sorted {
		if len(m.Actions) == 0 {
			continue
		}
		fmt.Fprintf(b, "  readonly %s: %sDelegate\n", m.Name, strings.ToUpper(m.Name[:1])+m.Name[1:])
	}
	b.WriteString("\n  constructor(client: ActionClient) {\n")
	for _, m := range sorted {
		if len(m.Actions) == 0 {
			continue
		}
		className := strings.ToUpper(m.Name[:1]) + m.Name[1:] + "Delegate"
		fmt.Fprintf(b, "    this.%s = new %s(client)\n", m.Name, className)
	}
	b.WriteString("  }\n}\n")
}
