package teg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/ir"
)

func buildTestGraph(t *testing.T) *Graph {
	t.Helper()
	ea := testEffect(t, "a", "core.read", 1)
	eb := testEffect(t, "b", "core.write", 2)
	res := testResource(t, "vault", 2)

	expr := ir.App("add", ir.Int(1), ir.Int(2))
	exprID, err := ir.ComputeExprID(expr)
	require.NoError(t, err)

	g := NewGraph()
	g.AddNode(EffectNode(ea))
	g.AddNode(EffectNode(eb))
	g.AddNode(ResourceNode(res))
	g.AddExpr(exprID, expr)
	g.AddEdge(Edge{Source: ir.NodeID(ea.ID), Target: ir.NodeID(eb.ID), Kind: EdgeDepends})
	g.AddEdge(Edge{Source: ir.NodeID(eb.ID), Target: ir.NodeID(res.ID), Kind: EdgeConsumes})
	return g
}

func TestEncode_RoundTrip(t *testing.T) {
	g := buildTestGraph(t)

	data, err := Encode(g)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, g.Len(), got.Len())
	assert.Equal(t, g.Edges(), got.Edges())

	reencoded, err := Encode(got)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, reencoded), "canonical encoding must be idempotent")
}

func TestEncode_Deterministic(t *testing.T) {
	a, err := Encode(buildTestGraph(t))
	require.NoError(t, err)
	b, err := Encode(buildTestGraph(t))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestComputeTegID_SensitiveToContent(t *testing.T) {
	g := buildTestGraph(t)
	id1, err := ComputeTegID(g)
	require.NoError(t, err)

	g.AddNode(EffectNode(testEffect(t, "c", "core.read", 3)))
	id2, err := ComputeTegID(g)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestDecode_RejectsTamperedNodeID(t *testing.T) {
	g := buildTestGraph(t)
	data, err := Encode(g)
	require.NoError(t, err)

	// Flip the first hex digit of the first node id.
	idx := bytes.Index(data, []byte(`"nodes":`))
	require.Positive(t, idx)
	idIdx := bytes.Index(data[idx:], []byte(`"id":"`))
	require.Positive(t, idIdx)
	pos := idx + idIdx + len(`"id":"`)

	tampered := append([]byte{}, data...)
	if tampered[pos] == '0' {
		tampered[pos] = '1'
	} else {
		tampered[pos] = '0'
	}
	_, err = Decode(tampered)
	assert.Error(t, err)
}
