package conflict

import (
	"fmt"
	"math"
	"sync"

	"github.com/fyrsmithlabs/govcore/internal/agent"
)

const (
	// DefaultPriorityMargin is the effective-priority gap needed for PriorityWin.
	DefaultPriorityMargin = 20.0
	// DefaultDisparityMargin is the confidence gap that makes an agreement suspect.
	DefaultDisparityMargin = 300
)

// Config holds resolver thresholds.
type Config struct {
	PriorityMargin  float64
	DisparityMargin int
}

// Resolver finds and resolves pairwise conflicts. Safe for concurrent use.
type Resolver struct {
	cfg Config

	mu         sync.Mutex
	total      uint64
	byKind     map[Kind]uint64
	byStrategy map[Strategy]uint64
}

// NewResolver creates a resolver; zero config values take the defaults.
func NewResolver(cfg Config) *Resolver {
	if cfg.PriorityMargin <= 0 {
		cfg.PriorityMargin = DefaultPriorityMargin
	}
	if cfg.DisparityMargin <= 0 {
		cfg.DisparityMargin = DefaultDisparityMargin
	}
	return &Resolver{
		cfg:        cfg,
		byKind:     make(map[Kind]uint64),
		byStrategy: make(map[Strategy]uint64),
	}
}

// Classify returns the conflict kind between a and b, if any.
func (r *Resolver) Classify(a, b agent.Recommendation) (Kind, agent.Resource, bool) {
	if a.Action.Kind == agent.NoAction || b.Action.Kind == agent.NoAction {
		return 0, agent.ResourceNone, false
	}

	if a.Action.Equal(b.Action) {
		if abs(a.Confidence-b.Confidence) > r.cfg.DisparityMargin {
			return ConfidenceDisparity, primaryResource(a.Action), true
		}
		return 0, agent.ResourceNone, false
	}

	ea, eb := a.Action.Effects(), b.Action.Effects()
	for _, x := range ea {
		for _, y := range eb {
			if x.Resource == y.Resource && x.Resource != agent.ResourceNone && x.Direction*y.Direction < 0 {
				return DirectOpposition, x.Resource, true
			}
		}
	}
	for _, x := range ea {
		for _, y := range eb {
			if x.Resource == y.Resource && x.Exclusive && y.Exclusive {
				return ResourceContention, x.Resource, true
			}
		}
	}
	return 0, agent.ResourceNone, false
}

// FindConflicts returns every conflicting pair in recs, in input order.
func (r *Resolver) FindConflicts(recs []agent.Recommendation) []Conflict {
	var out []Conflict
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			if kind, res, ok := r.Classify(recs[i], recs[j]); ok {
				out = append(out, Conflict{Kind: kind, A: recs[i], B: recs[j], Resource: res})
			}
		}
	}
	return out
}

// Resolve picks exactly one strategy for c. Without a clear signal it
// escalates rather than choosing a side.
func (r *Resolver) Resolve(c Conflict) Resolution {
	res := r.resolve(c)

	r.mu.Lock()
	r.total++
	r.byKind[c.Kind]++
	r.byStrategy[res.Strategy]++
	r.mu.Unlock()

	return res
}

func (r *Resolver) resolve(c Conflict) Resolution {
	pa, pb := c.A.EffectivePriority(), c.B.EffectivePriority()
	if gap := math.Abs(pa - pb); gap > r.cfg.PriorityMargin {
		win, lose := c.A, c.B
		pw, pl := pa, pb
		if pb > pa {
			win, lose = c.B, c.A
			pw, pl = pb, pa
		}
		return Resolution{
			Conflict: c,
			Strategy: PriorityWin,
			Action:   win.Action,
			Winner:   win.Agent,
			Explanation: fmt.Sprintf("%s %s at effective priority %.1f outranks %s %s at %.1f (gap %.1f > margin %.1f)",
				win.Agent, win.Action, pw, lose.Agent, lose.Action, pl, gap, r.cfg.PriorityMargin),
		}
	}

	if c.Kind != DirectOpposition && !c.A.Action.Equal(c.B.Action) {
		if merged, rule, ok := Merge(c.A.Action, c.B.Action); ok {
			return Resolution{
				Conflict: c,
				Strategy: Synthesis,
				Action:   merged,
				Explanation: fmt.Sprintf("merged %s (%s) and %s (%s) into %s: %s",
					c.A.Action, c.A.Agent, c.B.Action, c.B.Agent, merged, rule),
			}
		}
	}

	return Resolution{
		Conflict: c,
		Strategy: HumanEscalation,
		Action:   agent.Of(agent.NoAction),
		Explanation: fmt.Sprintf("%s: %s at %.1f vs %s at %.1f within margin %.1f and not mergeable; human review required",
			c.Kind, c.A, pa, c.B, pb, r.cfg.PriorityMargin),
	}
}

// ResolveAll resolves every conflict in order.
func (r *Resolver) ResolveAll(conflicts []Conflict) []Resolution {
	out := make([]Resolution, 0, len(conflicts))
	for _, c := range conflicts {
		out = append(out, r.Resolve(c))
	}
	return out
}

// Stats returns cumulative counters.
func (r *Resolver) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{
		Conflicts:  r.total,
		ByKind:     make(map[string]uint64, len(r.byKind)),
		ByStrategy: make(map[string]uint64, len(r.byStrategy)),
	}
	for k, v := range r.byKind {
		s.ByKind[k.String()] = v
	}
	for k, v := range r.byStrategy {
		s.ByStrategy[k.String()] = v
	}
	if r.total > 0 {
		s.EscalationRate = float64(r.byStrategy[HumanEscalation]) / float64(r.total)
	}
	return s
}

// Mergeable reports whether a and b collapse into one action.
func Mergeable(a, b agent.Action) bool {
	_, _, ok := Merge(a, b)
	return ok
}

// Merge combines two compatible actions into the more conservative one and
// names the rule applied. Opposing actions never merge.
func Merge(a, b agent.Action) (agent.Action, string, bool) {
	if a.Equal(b) {
		return a, "identical", true
	}
	if opposing(a, b) {
		return agent.Action{}, "", false
	}
	if a.Kind == b.Kind && a.Kind == agent.ScaleSchedulingWeight {
		da, db := abs(a.Param-100), abs(b.Param-100)
		if da < db || (da == db && a.Param < b.Param) {
			return a, "smaller weight change", true
		}
		return b, "smaller weight change", true
	}
	if pick, ok := conservativeFamily(a.Kind, b.Kind); ok {
		return agent.Of(pick), "least disruptive of " + a.Kind.String() + "/" + b.Kind.String(), true
	}
	return agent.Action{}, "", false
}

// Families of actions that express the same intent at different strengths.
// The first entry is the most conservative.
var families = [][]agent.ActionKind{
	{agent.PreventiveCompaction, agent.CompactMemory},
	{agent.Stop, agent.Halt},
}

func conservativeFamily(a, b agent.ActionKind) (agent.ActionKind, bool) {
	for _, fam := range families {
		ia, ib := indexOf(fam, a), indexOf(fam, b)
		if ia < 0 || ib < 0 {
			continue
		}
		if ia < ib {
			return a, true
		}
		return b, true
	}
	return 0, false
}

func opposing(a, b agent.Action) bool {
	for _, x := range a.Effects() {
		for _, y := range b.Effects() {
			if x.Resource == y.Resource && x.Direction*y.Direction < 0 {
				return true
			}
		}
	}
	return false
}

func primaryResource(a agent.Action) agent.Resource {
	if effects := a.Effects(); len(effects) > 0 {
		return effects[0].Resource
	}
	return agent.ResourceNone
}

func indexOf(kinds []agent.ActionKind, k agent.ActionKind) int {
	for i, v := range kinds {
		if v == k {
			return i
		}
	}
	return -1
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
