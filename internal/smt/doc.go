// Package smt implements the per-domain Sparse Merkle Tree that backs all
// durable state: resources, effects, intents, handlers, TEG nodes, nullifiers
// and cross-domain references.
//
// The tree is 256 levels deep over SHA-256(key) paths. Every node is
// content-addressed in a NodeStore keyed by node hash, so historical roots
// remain readable forever and a Snapshot pinned to a root is an immutable,
// consistent read view. Batches apply a sequence of puts as one atomic commit
// producing one new root; a failed batch leaves both the in-memory root and
// the store untouched.
//
// Node stores come in three backends (memory, sqlite, postgres) behind one
// interface; the commit journal and domain manifest live alongside the sqlite
// backend for durable deployments.
package smt
