// Package pipeline implements the composable stage engine used for field
// validation, transformation, default production, and sign-in checking.
package pipeline

import (
	"context"
	"fmt"

	"weave/internal/value"
)

// Purpose identifies why a pipeline is running, threaded into every Context
// so stages that behave differently for create vs. update (or sign-in) can
// branch on it.
type Purpose int

const (
	PurposeCreate Purpose = iota
	PurposeUpdate
	PurposeSignIn
	PurposeCustomAuth
	PurposeRead
)

// KeyPathSegment is one element of a Context's key path: either a string
// field name or a vector index.
type KeyPathSegment struct {
	Name  string
	Index int
	IsIdx bool
}

func Key(name string) KeyPathSegment      { return KeyPathSegment{Name: name} }
func Idx(i int) KeyPathSegment            { return KeyPathSegment{Index: i, IsIdx: true} }

func (s KeyPathSegment) String() string {
	if s.IsIdx {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Name
}

// ObjectHandle is the minimal surface a pipeline stage needs from the owning
// live object, kept abstract here to avoid an import cycle with package
// object (which itself depends on pipeline to run on-set/on-save stages).
type ObjectHandle interface {
	GetValue(field string) (value.Value, bool)
	IsNew() bool
}

// Context carries the in-flight state threaded through one pipeline run: the
// owning object, the current stage value, the key path to the value being
// processed, the purpose, and an invalid-reason slot a stage may set.
//
// Identity carries the requesting identity object for permission-predicate
// runs (nil everywhere else); it is left untyped to avoid an import cycle
// with package object, the same reason ObjectHandle exists.
type Context struct {
	Object        ObjectHandle
	Value         value.Value
	KeyPath       []KeyPathSegment
	Purpose       Purpose
	Identity      any
	invalidReason string
}

func NewContext(obj ObjectHandle, v value.Value, purpose Purpose, keyPath ...KeyPathSegment) *Context {
	return &Context{Object: obj, Value: v, Purpose: purpose, KeyPath: keyPath}
}

// Invalidate marks the context invalid with a human-readable reason. A stage
// that invalidates the context short-circuits the remaining pipeline.
func (c *Context) Invalidate(reason string) { c.invalidReason = reason }

func (c *Context) IsInvalid() bool      { return c.invalidReason != "" }
func (c *Context) InvalidReason() string { return c.invalidReason }

// WithValue returns a shallow copy of the context carrying a new stage value,
// used by stages that transform rather than merely check.
func (c *Context) WithValue(v value.Value) *Context {
	next := *c
	next.Value = v
	return &next
}

// Stage is the atomic unit of a pipeline: it consumes a Context and returns
// the (possibly transformed, possibly invalidated) next Context. Stages may
// perform IO through ctx and must return promptly; invalid-reason
// propagation is the atomic unit of progress, never torn mid-stage.
type Stage interface {
	Run(ctx context.Context, pctx *Context) (*Context, error)
}

// StageFunc adapts a plain function to the Stage interface.
type StageFunc func(ctx context.Context, pctx *Context) (*Context, error)

func (f StageFunc) Run(ctx context.Context, pctx *Context) (*Context, error) { return f(ctx, pctx) }

// Pipeline is an ordered, immutable sequence of stages run sequentially
// within one Context. There is no parallelism inside a single pipeline run;
// concurrency across distinct fields' pipelines is the caller's
// responsibility (see internal/object's concurrent set_json fan-out).
type Pipeline struct {
	stages []Stage
}

// New builds a Pipeline from an ordered stage list.
func New(stages ...Stage) *Pipeline { return &Pipeline{stages: stages} }

// Empty reports whether this pipeline has no stages (a no-op pass-through).
func (p *Pipeline) Empty() bool { return p == nil || len(p.stages) == 0 }

// Run executes every stage in order against pctx, stopping early if a stage
// invalidates the context or returns an error.
func (p *Pipeline) Run(ctx context.Context, pctx *Context) (*Context, error) {
	if p == nil {
		return pctx, nil
	}
	cur := pctx
	for _, s := range p.stages {
		next, err := s.Run(ctx, cur)
		if err != nil {
			return cur, err
		}
		cur = next
		if cur.IsInvalid() {
			return cur, nil
		}
	}
	return cur, nil
}
