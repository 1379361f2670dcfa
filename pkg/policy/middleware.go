package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/scripthost/pkg/capability"
	"github.com/openfroyo/scripthost/pkg/hosterr"
	"github.com/openfroyo/scripthost/pkg/value"
)

// Middleware gates every capability call of workspace through e. A call
// with a blocking violation fails with a permission_denied error before it
// reaches the capability. Warnings are logged and the call proceeds.
func (e *Engine) Middleware(workspace string) capability.Middleware {
	return func(object, member string, next capability.Func) capability.Func {
		op := object + "." + member
		return func(ctx context.Context, args capability.Args) (value.Value, error) {
			input := &Input{
				Workspace: workspace,
				Object:    object,
				Member:    member,
				Op:        op,
				Args:      make([]interface{}, len(args)),
			}
			for i, a := range args {
				input.Args[i] = value.ToGo(a)
			}

			decision, err := e.Evaluate(ctx, input)
			if err != nil {
				return value.Null(), hosterr.NewEngineError("policy evaluation failed", err).WithOp(op)
			}

			for _, w := range decision.Warnings {
				e.logger.Warn().
					Str("workspace", workspace).
					Str("policy", w.Policy).
					Str("op", op).
					Msg(w.Message)
			}

			if !decision.Allowed {
				return value.Null(), deniedError(op, decision)
			}
			return next(ctx, args)
		}
	}
}

func deniedError(op string, decision *Decision) *hosterr.HostError {
	messages := make([]string, 0, len(decision.Violations))
	names := make([]string, 0, len(decision.Violations))
	for _, v := range decision.Violations {
		messages = append(messages, v.Message)
		names = append(names, v.Policy)
	}
	return hosterr.NewPermissionDeniedError(
		fmt.Sprintf("denied by policy: %s", strings.Join(messages, "; "))).
		WithOp(op).
		WithDetail("policies", names)
}
