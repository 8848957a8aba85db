package httpapi

import (
	"context"
	"net/http"

	"weave/internal/action"
	"weave/internal/object"
	"weave/internal/query"
	"weave/internal/schema"
)

func getIdentity(ctx context.Context) *object.Object {
	obj, _ := ctx.Value(identityCtxKey).(*object.Object)
	return obj
}

// handle dispatches one decoded action to its orchestrator/identity call
// and renders the success or error envelope.
func (s *Server) handle(ctx context.Context, act schema.Action, m *schema.Model, body map[string]any) (int, map[string]any) {
	switch act {
	case schema.ActionFindUnique:
		obj, err := s.orch.FindUnique(ctx, m, asMap(body["where"]), decodeInclude(body["include"]), decodeSelect(body["select"]))
		return s.single(obj, err)

	case schema.ActionFindFirst:
		obj, err := s.orch.FindFirst(ctx, m, decodeFilter(body))
		return s.single(obj, err)

	case schema.ActionFindMany:
		objs, meta, err := s.orch.FindMany(ctx, m, decodeFilter(body))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, listEnvelope(objs, meta)

	case schema.ActionCreate:
		obj, err := s.orch.Create(ctx, m, asMap(body["create"]), decodeInclude(body["include"]), decodeSelect(body["select"]))
		return s.single(obj, err)

	case schema.ActionUpdate:
		obj, err := s.orch.Update(ctx, m, asMap(body["where"]), asMap(body["update"]), decodeInclude(body["include"]), decodeSelect(body["select"]))
		return s.single(obj, err)

	case schema.ActionUpsert:
		obj, err := s.orch.Upsert(ctx, m, asMap(body["where"]), asMap(body["create"]), asMap(body["update"]), decodeInclude(body["include"]), decodeSelect(body["select"]))
		return s.single(obj, err)

	case schema.ActionDelete:
		obj, err := s.orch.Delete(ctx, m, asMap(body["where"]))
		return s.single(obj, err)

	case schema.ActionCreateMany:
		objs, count, err := s.orch.CreateMany(ctx, m, decodeManyBody(body["create"]))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, listEnvelope(objs, queryMetaOf(count))

	case schema.ActionUpdateMany:
		objs, count, err := s.orch.UpdateMany(ctx, m, decodeFilter(body), asMap(body["update"]))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, listEnvelope(objs, queryMetaOf(count))

	case schema.ActionDeleteMany:
		count, err := s.orch.DeleteMany(ctx, m, decodeFilter(body))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, map[string]any{"meta": map[string]any{"count": count}, "data": []any{}}

	case schema.ActionCount:
		n, err := s.orch.Count(ctx, m, decodeFilter(body))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, map[string]any{"data": n}

	case schema.ActionAggregate:
		v, err := s.orch.Aggregate(ctx, m, decodeAggregateSpec(body))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, map[string]any{"data": v}

	case schema.ActionGroupBy:
		rows, err := s.orch.GroupBy(ctx, m, decodeGroupBySpec(body))
		if err != nil {
			return s.errStatus(err)
		}
		return http.StatusOK, map[string]any{"data": rows}

	case schema.ActionSignIn:
		return s.handleSignIn(ctx, m, body)

	case schema.ActionIdentity:
		return s.handleIdentity(ctx, body)

	default:
		return http.StatusBadRequest, errorEnvelope(action.New(action.WrongJsonFormat, "action is not recognized"))
	}
}

func (s *Server) handleSignIn(ctx context.Context, m *schema.Model, body map[string]any) (int, map[string]any) {
	obj, token, err := s.issuer.SignIn(ctx, m, s.orch, asMap(body["credentials"]))
	if err != nil {
		return s.errStatus(err)
	}
	fresh, err := s.orch.Refresh(ctx, obj, decodeInclude(body["include"]), decodeSelect(body["select"]))
	if err != nil {
		return s.errStatus(err)
	}
	j, err := fresh.ToJSON()
	if err != nil {
		return s.errStatus(err)
	}
	return http.StatusOK, map[string]any{"meta": map[string]any{"token": token}, "data": j}
}

func (s *Server) handleIdentity(ctx context.Context, body map[string]any) (int, map[string]any) {
	ident := getIdentity(ctx)
	if ident == nil {
		return http.StatusOK, map[string]any{"data": nil}
	}
	fresh, err := s.orch.Refresh(ctx, ident, decodeInclude(body["include"]), decodeSelect(body["select"]))
	if err != nil {
		return s.errStatus(err)
	}
	j, err := fresh.ToJSON()
	if err != nil {
		return s.errStatus(err)
	}
	return http.StatusOK, map[string]any{"data": j}
}

func (s *Server) single(obj *object.Object, err error) (int, map[string]any) {
	if err != nil {
		return s.errStatus(err)
	}
	j, err := obj.ToJSON()
	if err != nil {
		return s.errStatus(err)
	}
	return http.StatusOK, map[string]any{"data": j}
}

func (s *Server) errStatus(err error) (int, map[string]any) {
	ae := asActionError(err)
	return ae.StatusCode(), errorEnvelope(ae)
}

func listEnvelope(objs []*object.Object, meta queryMeta) map[string]any {
	data := make([]map[string]any, 0, len(objs))
	for _, o := range objs {
		j, err := o.ToJSON()
		if err != nil {
			continue
		}
		data = append(data, j)
	}
	m := map[string]any{"count": meta.Count}
	if meta.HasPageInfo {
		m["numberOfPages"] = meta.NumberOfPages
	}
	return map[string]any{"meta": m, "data": data}
}

// queryMeta aliases query.Meta so listEnvelope can serve both findMany's
// full Meta and the bulk operations' bare success count.
type queryMeta = query.Meta

func queryMetaOf(count int) queryMeta { return queryMeta{Count: int64(count)} }
