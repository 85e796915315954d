package dump

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// docFilter wraps a compiled CEL program evaluated per exported document.
// When disabled (empty expression) Eval always accepts.
type docFilter struct {
	prog    cel.Program
	enabled bool
}

func newDocFilter(expr string) (docFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return docFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("key", cel.StringType),
		cel.Variable("rev", cel.IntType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		// Parsed JSON document body for field filtering
		cel.Variable("doc", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return docFilter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return docFilter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return docFilter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return docFilter{}, err
	}
	return docFilter{prog: prog, enabled: true}, nil
}

// Eval decides whether a document is exported. Evaluation errors reject the
// document rather than failing the dump.
func (f docFilter) Eval(key string, rev uint64, tsMs int64, body []byte) bool {
	if !f.enabled {
		return true
	}
	var docObj any
	_ = json.Unmarshal(body, &docObj)
	out, _, err := f.prog.Eval(map[string]any{
		"key":    key,
		"rev":    int64(rev),
		"ts_ms":  tsMs,
		"size":   int64(len(body)),
		"text":   string(body),
		"doc":    docObj,
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
