package runtime

import (
	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

// CommitSummary describes one committed batch for egress consumers.
type CommitSummary struct {
	Seq        int64
	Effects    int
	Nullifiers int
	Minted     int
	Summary    string
}

// Egress is the outbound port a domain publishes through. Adapters
// implement it; the core never speaks a protocol directly.
type Egress interface {
	// PublishCommit announces a new root after a successful batch.
	PublishCommit(domain ir.DomainID, root smt.Hash, summary CommitSummary) error

	// RequestExternalRead fetches foreign bytes referenced from this
	// domain, typically through a cross-domain key.
	RequestExternalRead(domain ir.DomainID, key string) ([]byte, error)

	// RequestOrdering asks the external sequencer for this domain's next
	// ordering number.
	RequestOrdering(domain ir.DomainID) (int64, error)
}

// NopEgress discards everything. Domains without adapters use it.
type NopEgress struct{}

// PublishCommit implements Egress.
func (NopEgress) PublishCommit(ir.DomainID, smt.Hash, CommitSummary) error { return nil }

// RequestExternalRead implements Egress.
func (NopEgress) RequestExternalRead(ir.DomainID, string) ([]byte, error) { return nil, nil }

// RequestOrdering implements Egress.
func (NopEgress) RequestOrdering(ir.DomainID) (int64, error) { return 0, nil }
