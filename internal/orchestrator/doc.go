// Package orchestrator drives harness sessions.
//
// # Session protocol
//
// Every session walks the same ten steps and always ends by persisting a
// progress record, even when a step faults:
//
//	GetBearings → StartApp → RegressionTest → PickTask → Implement →
//	Validate → MarkOutcome → Commit → UpdateProgress → Persist
//
// GetBearings seeds the new session from the latest handoff. StartApp is
// advisory. RegressionTest replays the registered regression checks against
// the most recently passed features and demotes any that broke. PickTask
// asks the scheduler for the next feature; when there is none the session
// ends as complete. Implement hands a phase-based plan to the configured
// Implementer and records what it reports. Validate runs the feature's
// steps, MarkOutcome updates the feature list, and Commit records the work
// in version control when the feature passed.
//
// # Budget
//
// Every tracked read and decision is charged against the session's token
// budget. When the budget is exhausted the session is finalized with a
// handoff and a new session, seeded from that handoff, continues the
// protocol where the old one stopped.
//
// # Faults
//
// A panic or unexpected error inside a session is returned as a
// *HarnessFault after the session's progress has been written.
// RunContinuous keeps going until MaxConsecutiveFaults faults happen in a
// row.
package orchestrator
