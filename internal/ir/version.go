package ir

// RuntimeVersion is stamped into journal records so a replayed history can be
// checked against the engine that produced it.
const RuntimeVersion = "0.3.0"

// SchemaVersion is the version of the canonical entity encoding. Bumped only
// on incompatible changes to entity bodies; the domain tags carry their own
// /v1 suffix for hash migration.
const SchemaVersion = "1"
