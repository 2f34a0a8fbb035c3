// Package resource implements linear resource registries: lifecycle-tracked
// resources, the capability forest with subset delegation and transitive
// revocation, nullifier emission on consumption, and the three-phase effect
// commit that makes consumption atomic against the domain's SMT.
package resource
