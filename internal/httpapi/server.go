// Package httpapi implements the HTTP action API: a single catch-all action
// route, CORS, body-size capping, error-kind -> status mapping, and the
// response envelopes. Transport is github.com/labstack/echo/v4; request
// logging is structured via sirupsen/logrus.
package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"weave/internal/action"
	"weave/internal/identity"
	"weave/internal/query"
	"weave/internal/schema"
)

// maxBodyBytes caps a request body at 262,144 bytes.
const maxBodyBytes = 262_144

// ShutdownTimeout bounds how long graceful shutdown waits for in-flight
// requests before cmd/weave gives up and returns.
const ShutdownTimeout = 10 * time.Second

// Server wires the query orchestrator and identity issuer onto one echo.Echo
// instance mounted under a configurable path prefix.
type Server struct {
	echo   *echo.Echo
	graph  *schema.Graph
	orch   *query.Orchestrator
	issuer *identity.Issuer
	prefix string
	log    *logrus.Logger
}

// New builds a Server; prefix is the configured URL path prefix (e.g. "/api"),
// possibly empty.
func New(graph *schema.Graph, orch *query.Orchestrator, issuer *identity.Issuer, prefix string, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodOptions, http.MethodPost, http.MethodGet},
		AllowHeaders: []string{"*"},
		MaxAge:       86400,
	}))

	s := &Server{echo: e, graph: graph, orch: orch, issuer: issuer, prefix: prefix, log: log}
	e.Any("/*", s.dispatch)
	return s
}

// Echo exposes the underlying echo.Echo for callers that need to start or
// shut it down directly (cmd/weave).
func (s *Server) Echo() *echo.Echo { return s.echo }

// dispatch is the single catch-all route: strip prefix, trim trailing slash,
// answer OPTIONS with 200 {} whatever the path, reject every other non-POST
// method, require exactly 3 path segments with the middle one "action",
// resolve ActionType and model, read+parse the capped body, check the action
// is enabled, extract identity, and hand off to the matching handler.
func (s *Server) dispatch(c echo.Context) error {
	start := time.Now()
	req := c.Request()
	path := req.URL.Path

	if s.prefix != "" {
		if !strings.HasPrefix(path, s.prefix) {
			return s.notFound(c, start, "")
		}
		path = strings.TrimPrefix(path, s.prefix)
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}

	if req.Method == http.MethodOptions {
		return c.JSON(http.StatusOK, map[string]any{})
	}
	if req.Method != http.MethodPost {
		return s.notFound(c, start, "")
	}

	segments := pathComponents(path)
	if len(segments) != 3 || segments[1] != "action" {
		return s.notFound(c, start, "")
	}
	modelSegment, actionSegment := segments[0], segments[2]

	act, ok := action.FromURLSegment(actionSegment)
	if !ok {
		return s.notFound(c, start, "")
	}
	modelName, ok := s.graph.ModelNameForURLSegment(modelSegment)
	if !ok {
		return s.notFound(c, start, "")
	}
	model, _ := s.graph.Model(modelName)

	body, err := readCappedBody(req.Body)
	if err != nil {
		s.logRequest(start, string(act), model.Name, http.StatusInternalServerError)
		return c.JSON(http.StatusInternalServerError, errorEnvelope(action.New(action.InternalServerError, "Memory overflow.")))
	}

	var parsed map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &parsed); err != nil {
			s.logRequest(start, string(act), model.Name, http.StatusBadRequest)
			return c.JSON(http.StatusBadRequest, errorEnvelope(action.New(action.WrongJsonFormat, "request body is not valid JSON")))
		}
	}
	if parsed == nil {
		parsed = map[string]any{}
	}

	if !model.HasAction(act) {
		s.logRequest(start, string(act), model.Name, http.StatusBadRequest)
		return c.JSON(http.StatusBadRequest, errorEnvelope(action.New(action.WrongJsonFormat, "action is not enabled for this model")))
	}

	ctx := req.Context()
	ident, err := s.extractIdentity(ctx, req)
	if err != nil {
		ae := asActionError(err)
		s.logRequest(start, string(act), model.Name, ae.StatusCode())
		return c.JSON(ae.StatusCode(), errorEnvelope(ae))
	}
	if ident != nil {
		ctx = withIdentity(ctx, ident)
		ctx = query.WithIdentity(ctx, ident)
	}

	status, resp := s.handle(ctx, act, model, parsed)
	s.logRequest(start, string(act), model.Name, status)
	return c.JSON(status, resp)
}

func pathComponents(path string) []string {
	var out []string
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func readCappedBody(r io.Reader) ([]byte, error) {
	limited := io.LimitReader(r, maxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxBodyBytes {
		return nil, io.ErrShortBuffer
	}
	return data, nil
}

func (s *Server) notFound(c echo.Context, start time.Time, model string) error {
	s.logRequest(start, "unhandled", model, http.StatusNotFound)
	return c.JSON(http.StatusNotFound, errorEnvelope(action.New(action.NotFound, "route not found")))
}

func (s *Server) logRequest(start time.Time, act, model string, status int) {
	s.log.WithFields(logrus.Fields{
		"action":   act,
		"model":    model,
		"status":   status,
		"duration": time.Since(start).String(),
	}).Info("action request")
}

func errorEnvelope(err *action.Error) map[string]any {
	body := map[string]any{"type": err.Kind, "message": err.Message}
	if len(err.Errors) > 0 {
		body["errors"] = err.Errors
	}
	return map[string]any{"error": body}
}

func asActionError(err error) *action.Error {
	if ae, ok := err.(*action.Error); ok {
		return ae
	}
	return action.Wrap(action.InternalServerError, err)
}

type ctxKey int

const identityCtxKey ctxKey = iota

func withIdentity(ctx context.Context, obj any) context.Context {
	return context.WithValue(ctx, identityCtxKey, obj)
}

// extractIdentity implements get_identity's exact validation sequence: a
// missing header means an anonymous request (nil, nil); a present header
// shorter than 7 chars or not starting with "Bearer " is
// InvalidAuthorizationFormat; a present but unparsable token is InvalidJwtToken; a valid token whose claims don't
// resolve to a stored row is IdentityIsNotFound.
func (s *Server) extractIdentity(ctx context.Context, req *http.Request) (any, error) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	if len(header) < 7 || !strings.HasPrefix(header, "Bearer ") {
		return nil, action.New(action.InvalidAuthorizationFormat, "authorization header must be \"Bearer <token>\"")
	}
	token := header[7:]
	if s.issuer == nil {
		return nil, action.New(action.InvalidJwtToken, "no identity issuer configured")
	}
	claims, err := s.issuer.Verify(token)
	if err != nil {
		return nil, err
	}
	return identity.Resolve(ctx, s.graph, s.orch, claims)
}
