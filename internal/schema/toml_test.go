package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSchemaTOML = `
[validation]
allowed_name_pattern = "^[A-Z][a-zA-Z0-9]*$"

[[model]]
name = "User"
table = "users"
url_segment = "users"
identity = true
actions = ["findUnique", "findMany", "create", "signIn", "identity"]

[[model.field]]
name = "id"
kind = "int32"
auto = true
auto_increment = true

[[model.field]]
name = "email"
kind = "string"
auth_identity = true

[[model.field]]
name = "password"
kind = "string"
auth_by = true

[[model.index]]
type = "primary"
fields = ["id"]

[[model.index]]
type = "unique"
fields = ["email"]
`

func TestParseTOMLBuildsGraph(t *testing.T) {
	g, err := ParseTOML(strings.NewReader(sampleSchemaTOML))
	require.NoError(t, err)

	m, ok := g.Model("User")
	require.True(t, ok)
	assert.Equal(t, "users", m.TableName)
	assert.True(t, m.IsIdentity)
	assert.True(t, m.HasAction(ActionSignIn))

	f, ok := m.Field("email")
	require.True(t, ok)
	assert.True(t, f.AuthIdentity)

	pw, ok := m.Field("password")
	require.True(t, ok)
	assert.NotNil(t, pw.AuthBy)
	assert.True(t, m.AuthByKeys["password"])
}

func TestParseTOMLRejectsBadNamePattern(t *testing.T) {
	doc := `
[validation]
allowed_name_pattern = "^[A-Z][a-zA-Z0-9]*$"

[[model]]
name = "user"

[[model.field]]
name = "id"
kind = "int32"

[[model.index]]
type = "primary"
fields = ["id"]
`
	_, err := ParseTOML(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match allowed pattern")
}

func TestParseTOMLRejectsUnknownFieldKind(t *testing.T) {
	doc := `
[[model]]
name = "User"

[[model.field]]
name = "id"
kind = "nonsense"

[[model.index]]
type = "primary"
fields = ["id"]
`
	_, err := ParseTOML(strings.NewReader(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported field kind")
}

func TestParseTOMLInvalidDocument(t *testing.T) {
	_, err := ParseTOML(strings.NewReader("not = [valid"))
	require.Error(t, err)
}
