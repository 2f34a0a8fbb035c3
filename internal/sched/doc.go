// Package sched runs independent effect subtrees concurrently over shared
// linear resources.
//
// Determinism is preserved by construction: every observable state change
// goes through the domain's serialized commit step, so only the scheduling
// trace varies between runs and the trace is not an output. Pending work
// is totally ordered by (priority desc, submission seq asc); a task
// dispatches only when its required resources are Live and unclaimed.
// Cancellation is cooperative, taking effect at the task's next suspension
// point, and timeouts come in two flavors: logical-step deadlines that are
// reproducible under replay, and wall-clock limits that are operational
// only and never touch committed state.
package sched
