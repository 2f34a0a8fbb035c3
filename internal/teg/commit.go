package teg

import (
	"log/slog"

	"github.com/telic-run/telic/internal/ir"
	"github.com/telic-run/telic/internal/smt"
)

// Commit validates the fragment against the domain rules and writes every
// node body, every attached expression and the graph's canonical encoding
// into the domain's SMT as one atomic batch. Returns the graph id and the
// new root.
func Commit(f *Fragment, tree *smt.Tree, domain ir.DomainID, cfg ir.DomainConfig, log *slog.Logger) (ir.TegID, smt.Hash, error) {
	g := f.Graph()
	if err := g.Validate(domain, cfg); err != nil {
		return ir.TegID{}, smt.Hash{}, err
	}

	encoded, err := Encode(g)
	if err != nil {
		return ir.TegID{}, smt.Hash{}, err
	}
	tegID := ir.TegID(ir.HashWithTag(ir.TagTeg, encoded))

	ops := make([]smt.Op, 0, g.Len()+len(g.exprs)+1)
	for _, n := range g.Nodes() {
		body, err := encodeNodeBody(n)
		if err != nil {
			return ir.TegID{}, smt.Hash{}, err
		}
		ops = append(ops, smt.Op{Key: nodeKey(n), Value: body})
	}
	for _, id := range sortedExprIDs(g) {
		body, err := ir.MarshalCanonical(g.exprs[id])
		if err != nil {
			return ir.TegID{}, smt.Hash{}, err
		}
		ops = append(ops, smt.Op{Key: smt.ExprKey(id), Value: body})
	}
	ops = append(ops, smt.Op{Key: smt.GraphKey(tegID), Value: encoded})

	root, err := tree.Batch(ops)
	if err != nil {
		return ir.TegID{}, smt.Hash{}, err
	}

	log.Info("teg committed",
		"domain", ir.ShortHex(domain),
		"teg", ir.ShortHex(tegID),
		"nodes", g.Len(),
		"root", root)
	return tegID, root, nil
}

func nodeKey(n Node) string {
	switch n.Kind {
	case NodeEffect:
		return smt.EffectKey(n.Effect.ID)
	case NodeResource:
		return smt.ResourceKey(n.Resource.ID)
	case NodeIntent:
		return smt.IntentKey(n.Intent.ID)
	case NodeHandler:
		return smt.HandlerKey(n.Handler.ID)
	default:
		return "teg-node-" + ir.Hex(n.ID)
	}
}

// Load rebuilds a committed graph from the SMT by graph id.
func Load(tree *smt.Tree, id ir.TegID) (*Graph, error) {
	data, ok, err := tree.Get(smt.GraphKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &InvalidTegError{Code: CodeDangling, Message: "graph not found", Node: ir.NodeID(id)}
	}
	return Decode(data)
}
