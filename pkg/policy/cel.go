package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// celProgram wraps a compiled CEL program so Pattern values stay
// comparable through their exported fields only.
type celProgram struct {
	prog cel.Program
}

var (
	celEnvOnce sync.Once
	celEnv     *cel.Env
	celEnvErr  error
)

// constraintEnv exposes the request context to custom constraints:
// consumer identity, attested profile, prior usage count, and the
// evaluation timestamp (unix seconds).
func constraintEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("consumer", cel.StringType),
			cel.Variable("profile", cel.StringType),
			cel.Variable("usageCount", cel.IntType),
			cel.Variable("now", cel.IntType),
		)
	})
	return celEnv, celEnvErr
}

// compileExpression compiles a custom constraint expression. The
// expression must produce a bool.
func compileExpression(expr string) (celProgram, error) {
	env, err := constraintEnv()
	if err != nil {
		return celProgram{}, fmt.Errorf("policy: cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return celProgram{}, fmt.Errorf("policy: constraint compile failed: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return celProgram{}, fmt.Errorf("policy: constraint must evaluate to bool, got %s", ast.OutputType())
	}
	prog, err := env.Program(ast)
	if err != nil {
		return celProgram{}, fmt.Errorf("policy: constraint program failed: %w", err)
	}
	return celProgram{prog: prog}, nil
}

// evaluateExpression runs the compiled constraint. Any evaluation error
// or non-true result denies with CONSTRAINT_FAILED.
func (p *Pattern) evaluateExpression(ctx Context) Decision {
	if p.program.prog == nil {
		// Pattern was not produced by Parse; nothing to grant.
		return Denied(ReasonNoPolicy)
	}
	out, _, err := p.program.prog.Eval(map[string]any{
		"consumer":   ctx.Consumer,
		"profile":    string(ctx.Profile),
		"usageCount": ctx.PriorUsage,
		"now":        ctx.Now.Unix(),
	})
	if err != nil {
		return Denied(ReasonConstraintFailed)
	}
	allowed, ok := out.Value().(bool)
	if !ok || !allowed {
		return Denied(ReasonConstraintFailed)
	}
	return Allowed()
}
