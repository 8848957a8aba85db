package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weave/internal/value"
)

type fakeObject struct {
	values map[string]value.Value
	isNew  bool
}

func (f *fakeObject) GetValue(field string) (value.Value, bool) {
	v, ok := f.values[field]
	return v, ok
}
func (f *fakeObject) IsNew() bool { return f.isNew }

func runStage(t *testing.T, s Stage, v value.Value, obj ObjectHandle) *Context {
	t.Helper()
	pctx := NewContext(obj, v, PurposeCreate)
	out, err := s.Run(context.Background(), pctx)
	require.NoError(t, err)
	return out
}

func TestGtLt(t *testing.T) {
	out := runStage(t, Gt(5), value.Int32(10), nil)
	assert.False(t, out.IsInvalid())

	out = runStage(t, Gt(5), value.Int32(3), nil)
	assert.True(t, out.IsInvalid())

	out = runStage(t, Lt(5), value.Int32(3), nil)
	assert.False(t, out.IsInvalid())
}

func TestLength(t *testing.T) {
	out := runStage(t, Length(2, 4), value.String("abc"), nil)
	assert.False(t, out.IsInvalid())

	out = runStage(t, Length(2, 4), value.String("toolong"), nil)
	assert.True(t, out.IsInvalid())

	out = runStage(t, Length(2, 4), value.Int32(1), nil)
	assert.True(t, out.IsInvalid())
}

func TestRegex(t *testing.T) {
	out := runStage(t, Regex(`^[a-z]+$`), value.String("abc"), nil)
	assert.False(t, out.IsInvalid())

	out = runStage(t, Regex(`^[a-z]+$`), value.String("ABC"), nil)
	assert.True(t, out.IsInvalid())
}

func TestTrimLowercase(t *testing.T) {
	out := runStage(t, Trim(), value.String("  hi  "), nil)
	assert.Equal(t, "hi", out.Value.String())

	out = runStage(t, Lowercase(), value.String("HI"), nil)
	assert.Equal(t, "hi", out.Value.String())
}

func TestHashAndHashCompare(t *testing.T) {
	out := runStage(t, Hash(), value.String("secret"), nil)
	require.False(t, out.IsInvalid())
	hashed := out.Value.String()
	assert.NotEqual(t, "secret", hashed)

	obj := &fakeObject{values: map[string]value.Value{"password": value.String(hashed)}}
	out = runStage(t, HashCompare("password"), value.String("secret"), obj)
	assert.False(t, out.IsInvalid())

	out = runStage(t, HashCompare("password"), value.String("wrong"), obj)
	assert.True(t, out.IsInvalid())
}

func TestHashComparePanicsNeverOnMissingField(t *testing.T) {
	obj := &fakeObject{values: map[string]value.Value{}}
	out := runStage(t, HashCompare("password"), value.String("secret"), obj)
	assert.True(t, out.IsInvalid())
}

func TestUUIDAndCuidProduceNonEmptyStrings(t *testing.T) {
	out := runStage(t, UUID(), value.Null(), nil)
	assert.Len(t, out.Value.String(), 36)

	out = runStage(t, Cuid(), value.Null(), nil)
	assert.True(t, len(out.Value.String()) > 10)
	assert.Equal(t, byte('c'), out.Value.String()[0])
}

func TestSequence(t *testing.T) {
	calls := 0
	s := Sequence(func(ctx context.Context) (int64, error) {
		calls++
		return int64(calls), nil
	})
	out := runStage(t, s, value.Null(), nil)
	assert.Equal(t, int64(1), out.Value.Int64())
}

func TestIfWhen(t *testing.T) {
	pred := func(c *Context) bool { return c.Value.Kind() == value.KindString }
	stage := If(pred, Lowercase(), Trim())

	out := runStage(t, stage, value.String("ABC"), nil)
	assert.Equal(t, "abc", out.Value.String())

	out = runStage(t, When(pred, Lowercase()), value.Int32(1), nil)
	assert.Equal(t, int32(1), out.Value.Int32())
}

func TestPipelineStopsOnInvalid(t *testing.T) {
	ranSecond := false
	second := StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		ranSecond = true
		return pctx, nil
	})
	p := New(Gt(100), second)
	pctx := NewContext(nil, value.Int32(1), PurposeCreate)
	out, err := p.Run(context.Background(), pctx)
	require.NoError(t, err)
	assert.True(t, out.IsInvalid())
	assert.False(t, ranSecond)
}

func TestPipelineEmptyIsPassthrough(t *testing.T) {
	var p *Pipeline
	assert.True(t, p.Empty())
	pctx := NewContext(nil, value.Int32(1), PurposeCreate)
	out, err := p.Run(context.Background(), pctx)
	require.NoError(t, err)
	assert.Equal(t, pctx, out)
}
