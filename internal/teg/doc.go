// Package teg implements the temporal effect graph: content-addressed nodes
// for effects, resources, intents and handlers, kinded edges, fragment
// combinators obeying sequence/parallel laws, a canonical encoding whose
// hash identifies the graph, structural validation, and atomic commits into
// a domain's SMT.
package teg
