package workflow

import (
	"encoding/json"

	"github.com/google/cel-go/cel"

	"github.com/secbot-io/secbot/common/secerr"
)

// Condition is a compiled CEL expression over the event payload. The
// payload is bound to the `event` variable.
type Condition struct {
	expr    string
	program cel.Program
}

// CompileCondition compiles a job condition expression.
func CompileCondition(expr string) (*Condition, error) {
	env, err := cel.NewEnv(
		cel.Variable("event", cel.DynType),
	)
	if err != nil {
		return nil, secerr.Wrap(secerr.KindConfig, "create condition env", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, secerr.Wrap(secerr.KindConfig, "compile job condition", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, secerr.Wrap(secerr.KindConfig, "build job condition program", err)
	}

	return &Condition{expr: expr, program: program}, nil
}

// Eval evaluates the condition against a raw event payload.
func (c *Condition) Eval(payload []byte) (bool, error) {
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		return false, secerr.Wrap(secerr.KindConfig, "decode payload for condition", err)
	}

	out, _, err := c.program.Eval(map[string]any{"event": event})
	if err != nil {
		return false, secerr.Wrap(secerr.KindConfig, "evaluate job condition", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, secerr.Newf(secerr.KindConfig, "job condition %q did not return a boolean", c.expr)
	}
	return result, nil
}

// String returns the source expression.
func (c *Condition) String() string {
	return c.expr
}
