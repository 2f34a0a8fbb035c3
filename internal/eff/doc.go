// Package eff implements the effect expression language and its
// interpreter.
//
// An expression is built from six node kinds: Pure, Bind, Perform, Handle,
// Parallel and Race. Evaluation is a deterministic stack machine metered in
// gas; no step depends on wall-clock time, goroutine scheduling, or map
// iteration order, so the same expression against the same domain state
// always produces the same value, the same gas count, and the same commit.
//
// Effects performed during evaluation do not touch the resource tree
// directly. Core effects stage into the evaluation's transaction and the
// whole transaction lands through a Committer as one atomic batch after the
// expression finishes. Parallel branches stage privately and join on
// completion; Race branches stage privately and only the winner joins,
// which is what keeps losing branches invisible to committed state.
package eff
