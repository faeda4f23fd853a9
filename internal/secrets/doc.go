// Package secrets redacts credentials from free text.
//
// Operator notes, phase-change reasons and agent explanations end up in the
// audit journal, the phase history and the logs. The governance core passes
// them through a Scrubber first so a token pasted into a note is never
// persisted.
package secrets
