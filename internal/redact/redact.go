// Package redact sanitizes captured values before they enter telemetry
// events, replacing the project root's absolute path prefix with "." so
// payloads keep relative structure without leaking local filesystem layout.
package redact

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Redactor rewrites values relative to one project root.
type Redactor struct {
	root string
}

// New creates a Redactor for the given project directory. A relative dir is
// resolved against the current working directory.
func New(projectDir string) *Redactor {
	abs, err := filepath.Abs(projectDir)
	if err != nil {
		abs = filepath.Clean(projectDir)
	}
	return &Redactor{root: abs}
}

// Root returns the absolute project root the redactor rewrites against.
func (r *Redactor) Root() string { return r.root }

// Value sanitizes v recursively. nil, bools, integers, and floats pass
// through; maps recurse over values with keys untouched; slices recurse
// element-wise preserving order; anything else is stringified and the
// project-root prefix replaced with ".". Redaction is idempotent.
func (r *Redactor) Value(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return v
	case string:
		return r.String(x)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = r.Value(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = r.Value(val)
		}
		return out
	case []string:
		return r.Strings(x)
	default:
		return r.String(fmt.Sprint(v))
	}
}

// String replaces every occurrence of the project root in s with ".".
func (r *Redactor) String(s string) string {
	return strings.ReplaceAll(s, r.root, ".")
}

// Strings redacts each element of s, preserving order.
func (r *Redactor) Strings(s []string) []string {
	out := make([]string, len(s))
	for i, v := range s {
		out[i] = r.String(v)
	}
	return out
}
