package harness

import (
	"fmt"
	"strings"
)

// EvaluateAssertions checks every assertion against the result's trace and
// returns one message per failure. All assertions run; evaluation does not
// fail fast.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if msg := evaluateAssertion(result, &a); msg != "" {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %s", i, msg))
		}
	}
	return failures
}

func evaluateAssertion(result *Result, a *Assertion) string {
	switch a.Type {
	case AssertTraceContains:
		if countKind(result.Trace, a.Kind) == 0 {
			return fmt.Sprintf("trace does not contain event kind %q (saw: %s)", a.Kind, kindList(result.Trace))
		}
	case AssertTraceCount:
		if got := countKind(result.Trace, a.Kind); got != a.Count {
			return fmt.Sprintf("event kind %q appears %d time(s), want %d", a.Kind, got, a.Count)
		}
	case AssertTraceOrder:
		if !kindsInOrder(result.Trace, a.Kinds) {
			return fmt.Sprintf("trace does not contain kinds %v in order (saw: %s)", a.Kinds, kindList(result.Trace))
		}
	case AssertFinalRoot:
		if result.FinalRoot == "" {
			return "no commit was recorded"
		}
		if a.Root != "" && result.FinalRoot != a.Root {
			return fmt.Sprintf("final root %s, want %s", result.FinalRoot, a.Root)
		}
	default:
		return fmt.Sprintf("unknown assertion type %q", a.Type)
	}
	return ""
}

func countKind(trace []TraceEvent, kind string) int {
	n := 0
	for _, ev := range trace {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// kindsInOrder reports whether the kinds appear in the trace as a
// subsequence.
func kindsInOrder(trace []TraceEvent, kinds []string) bool {
	next := 0
	for _, ev := range trace {
		if next < len(kinds) && ev.Kind == kinds[next] {
			next++
		}
	}
	return next == len(kinds)
}

func kindList(trace []TraceEvent) string {
	kinds := make([]string, len(trace))
	for i, ev := range trace {
		kinds[i] = ev.Kind
	}
	return strings.Join(kinds, ", ")
}
