package pipeline

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"weave/internal/value"
)

// Gt invalidates the context unless the current value is a numeric scalar
// strictly greater than threshold.
func Gt(threshold float64) Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		f, ok := asFloat(pctx.Value)
		if !ok || !(f > threshold) {
			pctx.Invalidate(fmt.Sprintf("must be greater than %v", threshold))
		}
		return pctx, nil
	})
}

// Lt invalidates the context unless the current value is a numeric scalar
// strictly less than threshold.
func Lt(threshold float64) Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		f, ok := asFloat(pctx.Value)
		if !ok || !(f < threshold) {
			pctx.Invalidate(fmt.Sprintf("must be less than %v", threshold))
		}
		return pctx, nil
	})
}

// Length invalidates the context unless the current string value's length is
// within [min, max] inclusive.
func Length(min, max int) Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Value.Kind() != value.KindString {
			pctx.Invalidate("must be a string")
			return pctx, nil
		}
		n := len(pctx.Value.String())
		if n < min || n > max {
			pctx.Invalidate(fmt.Sprintf("length must be between %d and %d", min, max))
		}
		return pctx, nil
	})
}

// Regex invalidates the context unless the current string value matches pat.
func Regex(pat string) Stage {
	re := regexp.MustCompile(pat)
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Value.Kind() != value.KindString || !re.MatchString(pctx.Value.String()) {
			pctx.Invalidate(fmt.Sprintf("must match pattern %s", pat))
		}
		return pctx, nil
	})
}

// Trim transforms the current string value by trimming leading/trailing
// whitespace.
func Trim() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Value.Kind() != value.KindString {
			return pctx, nil
		}
		return pctx.WithValue(value.String(strings.TrimSpace(pctx.Value.String()))), nil
	})
}

// Lowercase transforms the current string value to lowercase.
func Lowercase() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Value.Kind() != value.KindString {
			return pctx, nil
		}
		return pctx.WithValue(value.String(strings.ToLower(pctx.Value.String()))), nil
	})
}

// Hash replaces the current string value with its bcrypt hash. Used on
// on-set pipelines of password-style fields.
func Hash() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Value.Kind() != value.KindString {
			pctx.Invalidate("must be a string")
			return pctx, nil
		}
		h, err := bcrypt.GenerateFromPassword([]byte(pctx.Value.String()), bcrypt.DefaultCost)
		if err != nil {
			return pctx, fmt.Errorf("pipeline: hash: %w", err)
		}
		return pctx.WithValue(value.String(string(h))), nil
	})
}

// HashCompare is the auth_by checker stage for password-style identity
// fields: it compares the candidate plaintext (the current context value)
// against the stored bcrypt hash fetched from the owning object's field,
// leaving the context valid on match and invalid otherwise.
func HashCompare(storedField string) Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		if pctx.Object == nil {
			pctx.Invalidate("no object bound for hash comparison")
			return pctx, nil
		}
		stored, ok := pctx.Object.GetValue(storedField)
		if !ok || stored.Kind() != value.KindString {
			pctx.Invalidate("authentication failed")
			return pctx, nil
		}
		if pctx.Value.Kind() != value.KindString {
			pctx.Invalidate("authentication failed")
			return pctx, nil
		}
		if err := bcrypt.CompareHashAndPassword([]byte(stored.String()), []byte(pctx.Value.String())); err != nil {
			pctx.Invalidate("authentication failed")
		}
		return pctx, nil
	})
}

// Now produces the current UTC instant, ignoring the incoming value.
func Now() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		return pctx.WithValue(value.DateTime(time.Now().UTC())), nil
	})
}

// UUID produces a random v4 UUID string, backed by github.com/google/uuid.
func UUID() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		return pctx.WithValue(value.String(uuid.NewString())), nil
	})
}

// cuidAlphabet is the base36 alphabet used by Cuid's short-ID encoding.
const cuidAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Cuid produces a short, lexicographically-sortable identifier: a
// millisecond timestamp followed by random base36 digits drawn from
// crypto/rand.
func Cuid() Stage {
	return StageFunc(func(_ context.Context, pctx *Context) (*Context, error) {
		var sb strings.Builder
		sb.WriteByte('c')
		sb.WriteString(encodeBase36(time.Now().UnixMilli()))
		for i := 0; i < 12; i++ {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(cuidAlphabet))))
			if err != nil {
				return pctx, fmt.Errorf("pipeline: cuid: %w", err)
			}
			sb.WriteByte(cuidAlphabet[n.Int64()])
		}
		return pctx.WithValue(value.String(sb.String())), nil
	})
}

func encodeBase36(n int64) string {
	if n == 0 {
		return "0"
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{cuidAlphabet[n%36]}, buf...)
		n /= 36
	}
	return string(buf)
}

// Sequence produces the next value from a monotonically increasing counter
// function supplied by the caller (typically connector-backed, e.g. a table
// row count or a dedicated sequence table).
func Sequence(next func(ctx context.Context) (int64, error)) Stage {
	return StageFunc(func(ctx context.Context, pctx *Context) (*Context, error) {
		n, err := next(ctx)
		if err != nil {
			return pctx, fmt.Errorf("pipeline: sequence: %w", err)
		}
		return pctx.WithValue(value.Int64(n)), nil
	})
}

// If runs `then` when pred(pctx) is true, otherwise runs `els` (which may be
// nil, meaning pass through unchanged).
func If(pred func(*Context) bool, then, els Stage) Stage {
	return StageFunc(func(ctx context.Context, pctx *Context) (*Context, error) {
		if pred(pctx) {
			return then.Run(ctx, pctx)
		}
		if els == nil {
			return pctx, nil
		}
		return els.Run(ctx, pctx)
	})
}

// When is an alias of If kept for readability at call sites that have no
// else branch, matching the spec's vocabulary ("if/else, when").
func When(pred func(*Context) bool, then Stage) Stage {
	return If(pred, then, nil)
}

func asFloat(v value.Value) (float64, bool) {
	switch v.Kind() {
	case value.KindInt32:
		return float64(v.Int32()), true
	case value.KindInt64:
		return float64(v.Int64()), true
	case value.KindFloat32:
		return float64(v.Float32()), true
	case value.KindFloat64:
		return v.Float64(), true
	case value.KindDecimal:
		f, _ := v.Decimal().Float64()
		return f, true
	default:
		return 0, false
	}
}
