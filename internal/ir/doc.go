// Package ir defines the core data model of the telic runtime: typed
// content-addressed identifiers, the entity kinds (resources, capabilities,
// effects, intents, handlers, domains), the constrained value types allowed in
// entity bodies, and the canonical serialization that identity is computed
// from.
//
// Every entity is identified by the SHA-256 hash of its canonical encoding
// with a per-kind domain tag. Equality is hash equality. Decoding always
// recomputes and verifies the id, so tampering with stored bytes is detected
// at the boundary.
package ir
