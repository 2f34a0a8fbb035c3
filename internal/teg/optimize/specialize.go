package optimize

import (
	"strings"

	"github.com/telic-run/telic/internal/teg"
)

// DomainSpecialization rewrites generic core.* effect types into the typed
// domain the effect targets, e.g. core.transfer targeting "settlement"
// becomes settlement.transfer. Specialized effects bypass the generic
// handler chain, so the pass does not preserve the adjunction and needs
// AllowUnsafePasses.
type DomainSpecialization struct{}

// NewDomainSpecialization creates the pass.
func NewDomainSpecialization() *DomainSpecialization { return &DomainSpecialization{} }

func (*DomainSpecialization) Name() string                     { return "domain-specialization" }
func (*DomainSpecialization) PreservesAdjunction() bool        { return false }
func (*DomainSpecialization) PreservesResourceStructure() bool { return true }

// Apply implements Optimization.
func (*DomainSpecialization) Apply(g *teg.Graph, _ Config) (bool, error) {
	changed := false
	for _, n := range g.Effects() {
		target := n.Effect.TargetTypedDomain
		if target == "" || !strings.HasPrefix(n.Effect.EffectType, "core.") {
			continue
		}
		e := *n.Effect
		e.EffectType = target + strings.TrimPrefix(e.EffectType, "core")
		e.TargetTypedDomain = ""
		if _, err := g.ReplaceEffect(n.ID, e); err != nil {
			return changed, err
		}
		changed = true
	}
	return changed, nil
}
