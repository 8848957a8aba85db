// Package identity implements signIn credential validation, auth-by
// pipeline execution, and JWT issuance/verification. Claims are a
// jwt.RegisteredClaims-embedding struct signed HS256 via
// github.com/golang-jwt/jwt/v5.
package identity

import (
	"context"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"weave/internal/action"
	"weave/internal/object"
	"weave/internal/pipeline"
	"weave/internal/query"
	"weave/internal/schema"
	"weave/internal/value"
)

// tokenTTL is the lifetime of an issued bearer token.
const tokenTTL = 365 * 24 * time.Hour

// Claims is the JWT payload: the identity object's primary-key value and its
// model name, embedded in the standard registered claim set so exp/iat are
// validated by the jwt/v5 parser itself.
type Claims struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies bearer tokens against one shared secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret string) *Issuer {
	return &Issuer{secret: []byte(secret)}
}

// Issue mints a bearer token for the given identity object, whose primary
// key must be a single string-or-int-like field.
func (iss *Issuer) Issue(obj *object.Object) (string, error) {
	id, err := primaryKeyString(obj)
	if err != nil {
		return "", err
	}
	claims := Claims{
		ID:    id,
		Model: obj.Model().Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString(iss.secret)
}

// Verify parses and validates a bearer token, returning its claims.
func (iss *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return iss.secret, nil
	})
	if err != nil || !tok.Valid {
		return nil, action.Newf(action.InvalidJwtToken, "invalid or expired bearer token")
	}
	return claims, nil
}

func primaryKeyString(obj *object.Object) (string, error) {
	where, err := obj.PrimaryWhere()
	if err != nil {
		return "", err
	}
	for _, v := range where {
		switch v.Kind() {
		case value.KindString:
			return v.String(), nil
		case value.KindInt32:
			return strconv.FormatInt(int64(v.Int32()), 10), nil
		case value.KindInt64:
			return strconv.FormatInt(v.Int64(), 10), nil
		}
	}
	return "", action.New(action.InternalServerError, "identity model has no string/int primary key")
}

func parseIntOrZero(s string) float64 {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n
}

// Resolve loads the identity object named by claims through the query
// orchestrator, IdentityIsNotFound on a miss.
func Resolve(ctx context.Context, graph *schema.Graph, orch *query.Orchestrator, claims *Claims) (*object.Object, error) {
	m, ok := graph.Model(claims.Model)
	if !ok || !m.IsIdentity {
		return nil, action.Newf(action.WrongIdentityModel, "model %q is not an identity model", claims.Model)
	}
	pk := m.PrimaryFieldNames()
	if len(pk) != 1 {
		return nil, action.New(action.InternalServerError, "identity model primary key must be a single field")
	}
	where := map[string]any{pk[0]: claims.ID}
	f, ok := m.Field(pk[0])
	if ok && (f.Kind == value.KindInt32 || f.Kind == value.KindInt64) {
		where[pk[0]] = parseIntOrZero(claims.ID)
	}
	obj, err := orch.FindUnique(ctx, m, where, nil, nil)
	if err != nil {
		if errKind(err) == action.ObjectNotFound {
			return nil, action.New(action.IdentityIsNotFound, "identity not found")
		}
		return nil, err
	}
	return obj, nil
}

func errKind(err error) action.ErrorKind {
	if ae, ok := err.(*action.Error); ok {
		return ae.Kind
	}
	return ""
}

// SignIn validates a credentials dictionary against exactly one
// auth_identity_key and exactly one auth_by_key, runs the matched field's
// checker pipeline, and on success returns both the identity object and a
// freshly-issued token.
func (iss *Issuer) SignIn(ctx context.Context, m *schema.Model, orch *query.Orchestrator, credentials map[string]any) (*object.Object, string, error) {
	if !m.IsIdentity {
		return nil, "", action.Newf(action.WrongIdentityModel, "model %q is not an identity model", m.Name)
	}
	if len(credentials) == 0 {
		return nil, "", action.New(action.MissingCredentials, "credentials section is required")
	}

	var identityKey, authKey string
	identityCount, authCount := 0, 0
	for k := range credentials {
		if m.AuthIdentityKeys[k] {
			identityKey = k
			identityCount++
		} else if m.AuthByKeys[k] {
			authKey = k
			authCount++
		} else {
			return nil, "", action.Newf(action.KeysUnallowed, "model %q: credential key %q is not an auth key", m.Name, k)
		}
	}
	if identityCount == 0 {
		return nil, "", action.New(action.MissingAuthIdentity, "credentials missing an auth_identity_key")
	}
	if identityCount > 1 {
		return nil, "", action.New(action.MultipleAuthIdentityProvided, "credentials carry more than one auth_identity_key")
	}
	if authCount == 0 {
		return nil, "", action.New(action.MissingAuthChecker, "credentials missing an auth_by_key")
	}
	if authCount > 1 {
		return nil, "", action.New(action.MultipleAuthCheckerProvided, "credentials carry more than one auth_by_key")
	}

	obj, err := orch.FindUnique(ctx, m, map[string]any{identityKey: credentials[identityKey]}, nil, nil)
	if err != nil {
		if errKind(err) == action.ObjectNotFound {
			return nil, "", action.New(action.AuthenticationFailed, "no matching identity")
		}
		return nil, "", err
	}

	f, ok := m.Field(authKey)
	if !ok || f.AuthBy == nil {
		return nil, "", action.Newf(action.MissingAuthChecker, "field %q has no registered auth_by checker", authKey)
	}
	candidate, err := value.FromJSON(credentials[authKey], f.Kind)
	if err != nil {
		return nil, "", action.Wrap(action.InvalidInput, err)
	}
	pctx := pipeline.NewContext(obj, candidate, pipeline.PurposeCustomAuth, pipeline.Key(authKey))
	out, err := f.AuthBy.Run(ctx, pctx)
	if err != nil {
		return nil, "", action.Wrap(action.AuthenticationFailed, err)
	}
	if out.IsInvalid() {
		return nil, "", action.New(action.AuthenticationFailed, "credentials did not match")
	}

	token, err := iss.Issue(obj)
	if err != nil {
		return nil, "", action.Wrap(action.InternalServerError, err)
	}
	return obj, token, nil
}
