package teg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/telic-run/telic/internal/ir"
)

// Canonical graph encoding: one JSON object with the node list sorted by id
// and the edge list sorted by (source, target, kind). Node bodies are the
// entities' canonical bytes, so the whole encoding is canonical JSON and
// hashing it yields a stable TegID. Encoding is idempotent:
// Encode(Decode(Encode(g))) == Encode(g).

type wireNode struct {
	Body json.RawMessage `json:"body"`
	ID   string          `json:"id"`
	Kind uint8           `json:"kind"`
}

type wireEdge struct {
	Kind   uint8  `json:"kind"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type wireExpr struct {
	Body json.RawMessage `json:"body"`
	ID   string          `json:"id"`
}

type wireGraph struct {
	Edges []wireEdge `json:"edges"`
	Exprs []wireExpr `json:"exprs"`
	Nodes []wireNode `json:"nodes"`
}

func encodeNodeBody(n Node) ([]byte, error) {
	switch n.Kind {
	case NodeEffect:
		return ir.EncodeEffect(*n.Effect)
	case NodeResource:
		return ir.EncodeResource(*n.Resource)
	case NodeIntent:
		return ir.EncodeIntent(*n.Intent)
	case NodeHandler:
		return ir.EncodeHandler(*n.Handler)
	default:
		return nil, fmt.Errorf("encode node: unknown kind %d", n.Kind)
	}
}

// Encode returns the canonical bytes of the graph. The output is assembled
// by hand so the already-canonical entity bodies embed verbatim; field
// order within each record follows the canonical key sort.
func Encode(g *Graph) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"edges":[`)
	for i, e := range g.Edges() {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"kind":`)
		buf.WriteString(strconv.Itoa(int(e.Kind)))
		buf.WriteString(`,"source":"`)
		buf.WriteString(ir.Hex(e.Source))
		buf.WriteString(`","target":"`)
		buf.WriteString(ir.Hex(e.Target))
		buf.WriteString(`"}`)
	}
	buf.WriteString(`],"exprs":[`)
	i := 0
	for _, id := range sortedExprIDs(g) {
		body, err := ir.MarshalCanonical(g.exprs[id])
		if err != nil {
			return nil, fmt.Errorf("encode graph: expr %s: %w", ir.ShortHex(id), err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		buf.WriteString(`{"body":`)
		buf.Write(body)
		buf.WriteString(`,"id":"`)
		buf.WriteString(ir.Hex(id))
		buf.WriteString(`"}`)
	}
	buf.WriteString(`],"nodes":[`)
	for i, n := range g.Nodes() {
		body, err := encodeNodeBody(n)
		if err != nil {
			return nil, fmt.Errorf("encode graph: node %s: %w", ir.ShortHex(n.ID), err)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`{"body":`)
		buf.Write(body)
		buf.WriteString(`,"id":"`)
		buf.WriteString(ir.Hex(n.ID))
		buf.WriteString(`","kind":`)
		buf.WriteString(strconv.Itoa(int(n.Kind)))
		buf.WriteByte('}')
	}
	buf.WriteString(`]}`)
	return buf.Bytes(), nil
}

func sortedExprIDs(g *Graph) []ir.ExprID { return g.Exprs() }

// ComputeTegID hashes the canonical encoding.
func ComputeTegID(g *Graph) (ir.TegID, error) {
	data, err := Encode(g)
	if err != nil {
		return ir.TegID{}, err
	}
	return ir.TegID(ir.HashWithTag(ir.TagTeg, data)), nil
}

// Decode rebuilds a graph from canonical bytes. Node and expression ids are
// recomputed from the bodies; a mismatch with the encoded id means the bytes
// were tampered with.
func Decode(data []byte) (*Graph, error) {
	var w wireGraph
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}

	g := NewGraph()
	for _, wn := range w.Nodes {
		n, err := decodeNode(wn)
		if err != nil {
			return nil, err
		}
		g.AddNode(n)
	}
	for _, we := range w.Exprs {
		body, err := ir.UnmarshalValue(we.Body)
		if err != nil {
			return nil, fmt.Errorf("decode graph: expr: %w", err)
		}
		id, err := ir.ComputeExprID(body)
		if err != nil {
			return nil, fmt.Errorf("decode graph: expr: %w", err)
		}
		if ir.Hex(id) != we.ID {
			return nil, fmt.Errorf("decode graph: expr id mismatch: body hashes to %s, encoded as %s",
				ir.ShortHex(id), we.ID)
		}
		g.AddExpr(id, body)
	}
	for _, we := range w.Edges {
		src, err := ir.ParseID[ir.NodeID](we.Source)
		if err != nil {
			return nil, fmt.Errorf("decode graph: edge source: %w", err)
		}
		dst, err := ir.ParseID[ir.NodeID](we.Target)
		if err != nil {
			return nil, fmt.Errorf("decode graph: edge target: %w", err)
		}
		g.AddEdge(Edge{Source: src, Target: dst, Kind: EdgeKind(we.Kind)})
	}
	return g, nil
}

func decodeNode(wn wireNode) (Node, error) {
	var n Node
	switch NodeKind(wn.Kind) {
	case NodeEffect:
		e, err := ir.DecodeEffect(wn.Body)
		if err != nil {
			return n, fmt.Errorf("decode graph: effect node: %w", err)
		}
		n = EffectNode(e)
	case NodeResource:
		r, err := ir.DecodeResource(wn.Body)
		if err != nil {
			return n, fmt.Errorf("decode graph: resource node: %w", err)
		}
		n = ResourceNode(r)
	case NodeIntent:
		in, err := ir.DecodeIntent(wn.Body)
		if err != nil {
			return n, fmt.Errorf("decode graph: intent node: %w", err)
		}
		n = IntentNode(in)
	case NodeHandler:
		h, err := ir.DecodeHandler(wn.Body)
		if err != nil {
			return n, fmt.Errorf("decode graph: handler node: %w", err)
		}
		n = HandlerNode(h)
	default:
		return n, fmt.Errorf("decode graph: unknown node kind %d", wn.Kind)
	}
	if ir.Hex(n.ID) != wn.ID {
		return n, fmt.Errorf("decode graph: node id mismatch: body hashes to %s, encoded as %s",
			ir.ShortHex(n.ID), wn.ID)
	}
	return n, nil
}
