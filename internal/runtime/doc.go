// Package runtime composes the per-domain pieces into a serving core: each
// Domain owns its SMT, journal, resource registry and handler table, and a
// Runtime holds a set of domains with no shared state between them.
//
// Every mutation of a domain goes through its Run loop in one goroutine.
// Ingress ports (SubmitIntent, SubmitTeg, RegisterHandler) authenticate
// the caller's capability, enqueue a command, and wait for the loop's
// answer. Outbound traffic leaves through the Egress port and the observer
// stream; the core itself never speaks a protocol. A fatal invariant break
// halts the domain and every further command is refused until an operator
// intervenes.
package runtime
