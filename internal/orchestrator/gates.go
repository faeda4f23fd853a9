package orchestrator

import "context"

// Verdict is a gate's answer for one decision. A denial is a normal
// outcome and always carries a human-readable reason.
type Verdict struct {
	Authorized bool   `json:"authorized"`
	Reason     string `json:"reason"`
	Risk       int    `json:"risk"`
	Phase      string `json:"phase,omitempty"`
}

// Gate decides whether a coordinated decision may be executed.
type Gate interface {
	Authorize(ctx context.Context, d Decision) Verdict
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, d Decision) Verdict

// Authorize calls f.
func (f GateFunc) Authorize(ctx context.Context, d Decision) Verdict {
	return f(ctx, d)
}

// AllowAll authorizes every actionable decision.
var AllowAll Gate = GateFunc(func(_ context.Context, d Decision) Verdict {
	if !d.Actionable() {
		return Verdict{Reason: "nothing to execute"}
	}
	return Verdict{Authorized: true, Reason: "allowed", Risk: d.Action.Risk()}
})
