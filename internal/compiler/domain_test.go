package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telic-run/telic/internal/eff"
	"github.com/telic-run/telic/internal/ir"
)

func compileDomainSource(t *testing.T, src, path string) (*DomainSpec, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileDomain(v.LookupPath(cue.ParsePath(path)))
}

func TestCompileDomainMinimal(t *testing.T) {
	spec, err := compileDomainSource(t, `domain: amm: {}`, "domain.amm")
	require.NoError(t, err)

	assert.Equal(t, "amm", spec.Name)
	assert.Equal(t, ir.DefaultDomainConfig(), spec.Config)
	assert.Empty(t, spec.Handlers)
}

func TestCompileDomainExplicitNameOverridesLabel(t *testing.T) {
	spec, err := compileDomainSource(t, `domain: staging: {name: "amm"}`, "domain.staging")
	require.NoError(t, err)
	assert.Equal(t, "amm", spec.Name)
}

func TestCompileDomainConfigOverlay(t *testing.T) {
	src := `domain: amm: {
		config: {
			max_nodes_per_transaction: 64
			allow_cross_domain_refs:   false
		}
	}`
	spec, err := compileDomainSource(t, src, "domain.amm")
	require.NoError(t, err)

	assert.Equal(t, 64, spec.Config.MaxNodesPerTransaction)
	assert.False(t, spec.Config.AllowCrossDomainRefs)
	// Unset fields keep their defaults.
	assert.Equal(t, ir.DefaultDomainConfig().MaxCrossDomainDepth, spec.Config.MaxCrossDomainDepth)
	assert.True(t, spec.Config.ValidateTemporalConstraints)
}

func TestCompileDomainHandlers(t *testing.T) {
	src := `domain: amm: {
		handler: {
			swap: {
				handles_type: "amm.swap"
				priority:     10
				rewrite:      "core.transform"
			}
			quote: {
				handles_type: "amm.quote"
				expression: {
					op: "add"
					args: [{op: "var", args: ["base"]}, 3]
				}
			}
		}
	}`
	spec, err := compileDomainSource(t, src, "domain.amm")
	require.NoError(t, err)
	require.Len(t, spec.Handlers, 2)

	byName := map[string]HandlerDecl{}
	for _, h := range spec.Handlers {
		byName[h.Name] = h
	}

	swap := byName["swap"]
	assert.Equal(t, "amm.swap", swap.HandlesType)
	assert.Equal(t, uint32(10), swap.Priority)
	assert.Equal(t, "core.transform", swap.Rewrite)
	assert.Nil(t, swap.Expression)

	quote := byName["quote"]
	assert.Equal(t, "amm.quote", quote.HandlesType)
	assert.Equal(t, uint32(0), quote.Priority)
	require.NotNil(t, quote.Expression)

	got, err := ir.EvalExpr(quote.Expression, ir.Obj{"base": ir.Int(4)})
	require.NoError(t, err)
	assert.Equal(t, ir.Int(7), got)
}

func TestCompileDomainMissingHandlesType(t *testing.T) {
	src := `domain: amm: {handler: broken: {priority: 1}}`
	_, err := compileDomainSource(t, src, "domain.amm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handles_type is required")
}

func TestCompileDomainNegativePriority(t *testing.T) {
	src := `domain: amm: {handler: broken: {handles_type: "amm.x", priority: -1}}`
	_, err := compileDomainSource(t, src, "domain.amm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority must be non-negative")
}

func TestCompileDomainFloatForbidden(t *testing.T) {
	src := `domain: amm: {handler: q: {handles_type: "amm.q", expression: 1.5}}`
	_, err := compileDomainSource(t, src, "domain.amm")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "float values are forbidden")
}

func TestHandlerDeclHandler(t *testing.T) {
	decl := HandlerDecl{
		Name:        "swap",
		HandlesType: "amm.swap",
		Priority:    5,
		Rewrite:     "core.transform",
	}
	domain := ir.NewDomainID("amm")

	h, err := decl.Handler(domain, 42)
	require.NoError(t, err)
	assert.Equal(t, "swap", h.Name)
	assert.Equal(t, domain, h.DomainID)
	assert.Equal(t, "amm.swap", h.HandlesType)
	assert.False(t, ir.IsZero(h.ID))

	// Same declaration, same id.
	again, err := decl.Handler(domain, 42)
	require.NoError(t, err)
	assert.Equal(t, h.ID, again.ID)
}

func TestHandlerDeclTransformerRewrite(t *testing.T) {
	decl := HandlerDecl{Name: "swap", HandlesType: "amm.swap", Rewrite: "core.transform"}
	tr, err := decl.Transformer()
	require.NoError(t, err)
	assert.Equal(t, "amm.swap", tr.HandlesType())
}

func TestHandlerDeclTransformerExpression(t *testing.T) {
	decl := HandlerDecl{
		Name:        "quote",
		HandlesType: "amm.quote",
		Expression: ir.Obj{
			"op":   ir.Str("mul"),
			"args": ir.Arr{ir.Obj{"op": ir.Str("var"), "args": ir.Arr{ir.Str("amount")}}, ir.Int(2)},
		},
	}
	tr, err := decl.Transformer()
	require.NoError(t, err)

	effect := ir.Effect{EffectType: "amm.quote"}
	expr, err := tr.Transform(effect, ir.Obj{"amount": ir.Int(21)})
	require.NoError(t, err)

	pure, ok := expr.(*eff.Pure)
	require.True(t, ok)
	assert.Equal(t, ir.Int(42), pure.Value)
}

func TestHandlerDeclTransformerUndeclared(t *testing.T) {
	decl := HandlerDecl{Name: "empty", HandlesType: "amm.x"}
	_, err := decl.Transformer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "neither rewrite nor expression")
}
