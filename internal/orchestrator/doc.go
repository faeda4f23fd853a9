// Package orchestrator coordinates agent recommendations into one decision
// per cycle.
//
// # Decision order
//
// Each cycle's recommendations go through four steps, stopping at the first
// that applies:
//
//  1. A CrashPredictor Stop or Halt at or above the safety threshold is a
//     SafetyOverride. No arbitration happens.
//  2. Recommendations are grouped into classes of mergeable actions. A
//     single class is Unanimous, and its confidence is the mean of the
//     members.
//  3. A class holding a strict majority of effective priority is a
//     Majority. Its confidence is scaled by its weight share. A pairwise
//     PriorityWin against a class member does not change this; the class
//     weight decides. Only an escalated conflict involving the class turns
//     the decision into an escalated NoConsensus.
//  4. Otherwise NoConsensus. No action is taken.
//
// Every decision is appended to a bounded AuditLog. The log counts
// evictions, and Since reports when requested entries have already been
// dropped.
//
// # Cycle
//
// Cycle ties an agent.Poller, the Orchestrator and a Gate together:
//
//	cycle := orchestrator.NewCycle(poller, orch, phaseManager)
//	res, err := cycle.Run(ctx, metrics)
//	if res.Verdict.Authorized {
//	    executor.Execute(ctx, res.Decision.Action)
//	}
package orchestrator
