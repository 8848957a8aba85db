package action

import "weave/internal/schema"

// urlSegments maps the literal path segment used in
// POST <prefix>/<model>/action/<segment> to the schema.Action it invokes.
var urlSegments = map[string]schema.Action{
	"findUnique": schema.ActionFindUnique,
	"findFirst":  schema.ActionFindFirst,
	"findMany":   schema.ActionFindMany,
	"create":     schema.ActionCreate,
	"update":     schema.ActionUpdate,
	"upsert":     schema.ActionUpsert,
	"delete":     schema.ActionDelete,
	"createMany": schema.ActionCreateMany,
	"updateMany": schema.ActionUpdateMany,
	"deleteMany": schema.ActionDeleteMany,
	"count":      schema.ActionCount,
	"aggregate":  schema.ActionAggregate,
	"groupBy":    schema.ActionGroupBy,
	"signIn":     schema.ActionSignIn,
	"identity":   schema.ActionIdentity,
}

// FromURLSegment resolves an action path segment to its schema.Action.
func FromURLSegment(seg string) (schema.Action, bool) {
	a, ok := urlSegments[seg]
	return a, ok
}
