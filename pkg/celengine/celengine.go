package celengine

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Variables available to platform admission expressions.
const (
	VarPlan           = "plan"
	VarCategory       = "category"
	VarUserStatus     = "user_status"
	VarCompletedToday = "completed_today"
	VarPlatformToday  = "platform_today"
	VarEarningsToday  = "earnings_today"
)

// NewAdmissionEnv declares the admission variables with their CEL types.
func NewAdmissionEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(VarPlan, cel.StringType),
		cel.Variable(VarCategory, cel.StringType),
		cel.Variable(VarUserStatus, cel.StringType),
		cel.Variable(VarCompletedToday, cel.IntType),
		cel.Variable(VarPlatformToday, cel.IntType),
		cel.Variable(VarEarningsToday, cel.IntType),
	)
}

// Compile type-checks expr and requires a bool result.
func Compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}
	return env.Program(ast)
}

func Eval(prg cel.Program, vars map[string]any) (bool, error) {
	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}
	return b, nil
}
