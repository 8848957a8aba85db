package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/connector/memory"
	"weave/internal/identity"
	"weave/internal/pipeline"
	"weave/internal/query"
	"weave/internal/schema"
	"weave/internal/value"
)

// apiGraph is the User/Post pair the end-to-end tests run against: User is
// an identity model whose password is hashed on set and checked by
// hashCompare on sign-in; Post.author is singular and required so
// disconnect attempts against User.posts must be rejected.
func apiGraph(t *testing.T) *schema.Graph {
	t.Helper()
	b := schema.NewBuilder()
	b.Model("User", func(mb *schema.ModelBuilder) {
		mb.Identity()
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("email", &schema.Field{Kind: value.KindString, Optionality: schema.Required, AuthIdentity: true})
		mb.Field("name", &schema.Field{Kind: value.KindString, Optionality: schema.Optional})
		mb.Field("password", &schema.Field{
			Kind:        value.KindString,
			Optionality: schema.Required,
			OnSet:       pipeline.New(pipeline.Hash()),
			AuthBy:      pipeline.New(pipeline.HashCompare("password")),
		})
		mb.PrimaryIndex("id")
		mb.UniqueIndex("email")
		mb.Relation("posts", &schema.Relation{TargetModel: "Post", IsVec: true, Optionality: schema.Optional, Fields: []string{"id"}, References: []string{"authorId"}})
		mb.EnableActions(
			schema.ActionFindUnique, schema.ActionFindMany, schema.ActionCreate,
			schema.ActionCreateMany, schema.ActionUpdate, schema.ActionDelete,
			schema.ActionCount, schema.ActionSignIn, schema.ActionIdentity,
		)
	})
	b.Model("Post", func(mb *schema.ModelBuilder) {
		mb.Field("id", &schema.Field{Kind: value.KindInt32, Auto: true, AutoIncrement: true})
		mb.Field("title", &schema.Field{Kind: value.KindString, Optionality: schema.Required})
		mb.Field("authorId", &schema.Field{Kind: value.KindInt32, Optionality: schema.Required})
		mb.PrimaryIndex("id")
		mb.Relation("author", &schema.Relation{TargetModel: "User", Optionality: schema.Required, Fields: []string{"authorId"}, References: []string{"id"}})
		mb.EnableActions(schema.ActionFindUnique, schema.ActionFindMany, schema.ActionCreate)
	})
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func newTestServer(t *testing.T, prefix string) *Server {
	t.Helper()
	g := apiGraph(t)
	conn := memory.New(g)
	orch := query.New(g, conn)
	issuer := identity.NewIssuer("test-secret")
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(g, orch, issuer, prefix, log)
}

func doRequest(t *testing.T, s *Server, method, path string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	var parsed map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &parsed))
	}
	return rec.Code, parsed
}

func post(t *testing.T, s *Server, path string, body any) (int, map[string]any) {
	return doRequest(t, s, http.MethodPost, path, body, nil)
}

func dataOf(t *testing.T, resp map[string]any) map[string]any {
	t.Helper()
	d, ok := resp["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", resp)
	return d
}

func errTypeOf(t *testing.T, resp map[string]any) string {
	t.Helper()
	e, ok := resp["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %v", resp)
	s, _ := e["type"].(string)
	return s
}

// TestCreateAndFindUnique: create a row, find it by its unique key, and 404
// on a miss.
func TestCreateAndFindUnique(t *testing.T) {
	s := newTestServer(t, "")

	code, resp := post(t, s, "/User/action/create", map[string]any{
		"create": map[string]any{"email": "a@x", "name": "A", "password": "pw"},
	})
	require.Equal(t, http.StatusOK, code)
	d := dataOf(t, resp)
	assert.Equal(t, float64(1), d["id"])
	assert.Equal(t, "a@x", d["email"])
	assert.Equal(t, "A", d["name"])

	code, resp = post(t, s, "/User/action/findUnique", map[string]any{
		"where": map[string]any{"email": "a@x"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "a@x", dataOf(t, resp)["email"])

	code, resp = post(t, s, "/User/action/findUnique", map[string]any{
		"where": map[string]any{"email": "none"},
	})
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "ObjectNotFound", errTypeOf(t, resp))
}

// TestNestedCreateWithInclude: nested relation create links every child to
// the parent, observable through an include tree.
func TestNestedCreateWithInclude(t *testing.T) {
	s := newTestServer(t, "")

	code, _ := post(t, s, "/User/action/create", map[string]any{
		"create": map[string]any{
			"email": "a@x", "name": "A", "password": "pw",
			"posts": map[string]any{
				"create": []any{
					map[string]any{"title": "p1"},
					map[string]any{"title": "p2"},
				},
			},
		},
	})
	require.Equal(t, http.StatusOK, code)

	code, resp := post(t, s, "/User/action/findUnique", map[string]any{
		"where":   map[string]any{"id": float64(1)},
		"include": map[string]any{"posts": true},
	})
	require.Equal(t, http.StatusOK, code)
	posts, ok := dataOf(t, resp)["posts"].([]any)
	require.True(t, ok, "expected posts array in %v", resp)
	assert.Len(t, posts, 2)
	for _, p := range posts {
		assert.Equal(t, float64(1), p.(map[string]any)["authorId"])
	}
}

// TestDisconnectRequiredRelationRejected: disconnecting a relation whose
// opposite side is singular and required fails with InvalidInput.
func TestDisconnectRequiredRelationRejected(t *testing.T) {
	s := newTestServer(t, "")

	code, _ := post(t, s, "/User/action/create", map[string]any{
		"create": map[string]any{
			"email": "a@x", "password": "pw",
			"posts": map[string]any{"create": []any{
				map[string]any{"title": "p1"},
				map[string]any{"title": "p2"},
			}},
		},
	})
	require.Equal(t, http.StatusOK, code)

	code, resp := post(t, s, "/User/action/update", map[string]any{
		"where":  map[string]any{"id": float64(1)},
		"update": map[string]any{"posts": map[string]any{"disconnect": []any{map[string]any{"id": float64(2)}}}},
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidInput", errTypeOf(t, resp))
}

// TestFindManyPagination: pageSize+pageNumber select the right window and
// meta reports count and numberOfPages.
func TestFindManyPagination(t *testing.T) {
	s := newTestServer(t, "")
	for _, email := range []string{"a@x", "b@x", "c@x", "d@x", "e@x"} {
		code, _ := post(t, s, "/User/action/create", map[string]any{
			"create": map[string]any{"email": email, "password": "pw"},
		})
		require.Equal(t, http.StatusOK, code)
	}

	code, resp := post(t, s, "/User/action/findMany", map[string]any{
		"pageSize": float64(2), "pageNumber": float64(2),
	})
	require.Equal(t, http.StatusOK, code)
	meta := resp["meta"].(map[string]any)
	assert.Equal(t, float64(5), meta["count"])
	assert.Equal(t, float64(3), meta["numberOfPages"])

	data := resp["data"].([]any)
	require.Len(t, data, 2)
	assert.Equal(t, float64(3), data[0].(map[string]any)["id"])
	assert.Equal(t, float64(4), data[1].(map[string]any)["id"])
}

// TestSignInAndIdentity: correct credentials yield a token usable with the
// identity action; a wrong password fails with AuthenticationFailed.
func TestSignInAndIdentity(t *testing.T) {
	s := newTestServer(t, "")
	code, _ := post(t, s, "/User/action/create", map[string]any{
		"create": map[string]any{"email": "a@x", "password": "pw"},
	})
	require.Equal(t, http.StatusOK, code)

	code, resp := post(t, s, "/User/action/signIn", map[string]any{
		"credentials": map[string]any{"email": "a@x", "password": "pw"},
	})
	require.Equal(t, http.StatusOK, code)
	meta := resp["meta"].(map[string]any)
	token, _ := meta["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, float64(1), dataOf(t, resp)["id"])

	code, resp = post(t, s, "/User/action/signIn", map[string]any{
		"credentials": map[string]any{"email": "a@x", "password": "wrong"},
	})
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "AuthenticationFailed", errTypeOf(t, resp))

	code, resp = doRequest(t, s, http.MethodPost, "/User/action/identity", map[string]any{}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), dataOf(t, resp)["id"])

	code, _ = post(t, s, "/User/action/identity", map[string]any{})
	require.Equal(t, http.StatusOK, code)
}

// TestCreateManyPartialFailure: a duplicate unique value drops the failed
// item from both data and the success count.
func TestCreateManyPartialFailure(t *testing.T) {
	s := newTestServer(t, "")
	code, resp := post(t, s, "/User/action/createMany", map[string]any{
		"create": []any{
			map[string]any{"email": "a@x", "password": "pw"},
			map[string]any{"email": "a@x", "password": "pw"},
		},
	})
	require.Equal(t, http.StatusOK, code)
	meta := resp["meta"].(map[string]any)
	assert.Equal(t, float64(1), meta["count"])
	assert.Len(t, resp["data"].([]any), 1)
}

func TestOptionsAlwaysOK(t *testing.T) {
	s := newTestServer(t, "")
	code, resp := doRequest(t, s, http.MethodOptions, "/User/action/create", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, resp)

	code, _ = doRequest(t, s, http.MethodOptions, "/anything/else", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestNonPostReturnsNotFound(t *testing.T) {
	s := newTestServer(t, "")
	code, resp := doRequest(t, s, http.MethodGet, "/User/action/findMany", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", errTypeOf(t, resp))
}

func TestUnknownActionOrModelReturnsNotFound(t *testing.T) {
	s := newTestServer(t, "")
	code, _ := post(t, s, "/User/action/frobnicate", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = post(t, s, "/Nonexistent/action/create", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = post(t, s, "/User/findMany", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDisabledActionReturnsWrongJsonFormat(t *testing.T) {
	s := newTestServer(t, "")
	code, resp := post(t, s, "/Post/action/delete", map[string]any{"where": map[string]any{"id": float64(1)}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "WrongJsonFormat", errTypeOf(t, resp))
}

func TestMalformedJSONBody(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/User/action/create", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "WrongJsonFormat")
}

func TestOversizedBodyReturnsInternalServerError(t *testing.T) {
	s := newTestServer(t, "")
	big := bytes.Repeat([]byte("a"), maxBodyBytes+100)
	req := httptest.NewRequest(http.MethodPost, "/User/action/create", bytes.NewReader(big))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "InternalServerError")
}

func TestBadBearerToken(t *testing.T) {
	s := newTestServer(t, "")
	code, resp := doRequest(t, s, http.MethodPost, "/User/action/findMany", map[string]any{}, map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidJwtToken", errTypeOf(t, resp))

	code, resp = doRequest(t, s, http.MethodPost, "/User/action/findMany", map[string]any{}, map[string]string{
		"Authorization": "Basic",
	})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "InvalidAuthorizationFormat", errTypeOf(t, resp))
}

func TestPrefixStripping(t *testing.T) {
	s := newTestServer(t, "/api")
	code, _ := post(t, s, "/api/User/action/create", map[string]any{
		"create": map[string]any{"email": "a@x", "password": "pw"},
	})
	assert.Equal(t, http.StatusOK, code)

	code, _ = post(t, s, "/User/action/create", map[string]any{
		"create": map[string]any{"email": "b@x", "password": "pw"},
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCORSHeaderOnCrossOriginRequest(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/User/action/findMany", strings.NewReader("{}"))
	req.Header.Set("Origin", "https://example.com")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
