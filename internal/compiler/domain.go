package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/telic-run/telic/internal/ir"
)

// DomainSpec is the compiled form of a CUE domain manifest: the domain's
// configuration plus the handlers it declares.
type DomainSpec struct {
	Name     string
	Config   ir.DomainConfig
	Handlers []HandlerDecl
}

// HandlerDecl is one declared handler. Exactly one of Rewrite and
// Expression is set: Rewrite lowers the handled type onto another effect
// type, Expression replaces the effect with a pure body evaluated over the
// perform payload.
type HandlerDecl struct {
	Name        string
	HandlesType string
	Priority    uint32
	Rewrite     string
	Expression  ir.Value
}

// CompileDomain parses a CUE value into a DomainSpec.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the domain struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`domain: amm: { ... }`)
//	spec, err := CompileDomain(v.LookupPath(cue.ParsePath("domain.amm")))
func CompileDomain(v cue.Value) (*DomainSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &DomainSpec{Config: ir.DefaultDomainConfig()}

	// Domain name comes from the struct label (the path selector); an
	// explicit name field overrides it.
	labels := v.Path().Selectors()
	if len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}
	nameVal := v.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Name = name
	}
	if spec.Name == "" {
		return nil, &CompileError{
			Field:   "name",
			Message: "domain name is required",
			Pos:     v.Pos(),
		}
	}

	if err := parseConfig(v, &spec.Config); err != nil {
		return nil, err
	}

	handlers, err := parseHandlers(v)
	if err != nil {
		return nil, err
	}
	spec.Handlers = handlers

	return spec, nil
}

// parseConfig overlays manifest config fields onto the defaults.
func parseConfig(v cue.Value, cfg *ir.DomainConfig) error {
	configVal := v.LookupPath(cue.ParsePath("config"))
	if !configVal.Exists() {
		return nil // config is optional
	}

	if maxNodes := configVal.LookupPath(cue.ParsePath("max_nodes_per_transaction")); maxNodes.Exists() {
		n, err := maxNodes.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		cfg.MaxNodesPerTransaction = int(n)
	}
	if crossRefs := configVal.LookupPath(cue.ParsePath("allow_cross_domain_refs")); crossRefs.Exists() {
		b, err := crossRefs.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		cfg.AllowCrossDomainRefs = b
	}
	if temporal := configVal.LookupPath(cue.ParsePath("validate_temporal_constraints")); temporal.Exists() {
		b, err := temporal.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		cfg.ValidateTemporalConstraints = b
	}
	if depth := configVal.LookupPath(cue.ParsePath("max_cross_domain_depth")); depth.Exists() {
		n, err := depth.Int64()
		if err != nil {
			return formatCUEError(err)
		}
		cfg.MaxCrossDomainDepth = int(n)
	}
	if content := configVal.LookupPath(cue.ParsePath("content_addressable_nodes")); content.Exists() {
		b, err := content.Bool()
		if err != nil {
			return formatCUEError(err)
		}
		cfg.ContentAddressableNodes = b
	}
	return nil
}

// parseHandlers extracts handler declarations from the domain.
func parseHandlers(v cue.Value) ([]HandlerDecl, error) {
	var handlers []HandlerDecl

	handlerVal := v.LookupPath(cue.ParsePath("handler"))
	if !handlerVal.Exists() {
		return handlers, nil // handlers are optional
	}

	iter, err := handlerVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	for iter.Next() {
		name := iter.Label()
		hv := iter.Value()

		decl := HandlerDecl{Name: name}

		typeVal := hv.LookupPath(cue.ParsePath("handles_type"))
		if !typeVal.Exists() {
			return nil, &CompileError{
				Field:   fmt.Sprintf("handler.%s.handles_type", name),
				Message: "handles_type is required",
				Pos:     hv.Pos(),
			}
		}
		decl.HandlesType, err = typeVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}

		if prioVal := hv.LookupPath(cue.ParsePath("priority")); prioVal.Exists() {
			prio, err := prioVal.Int64()
			if err != nil {
				return nil, formatCUEError(err)
			}
			if prio < 0 {
				return nil, &CompileError{
					Field:   fmt.Sprintf("handler.%s.priority", name),
					Message: "priority must be non-negative",
					Pos:     prioVal.Pos(),
				}
			}
			decl.Priority = uint32(prio)
		}

		if rewriteVal := hv.LookupPath(cue.ParsePath("rewrite")); rewriteVal.Exists() {
			decl.Rewrite, err = rewriteVal.String()
			if err != nil {
				return nil, formatCUEError(err)
			}
		}

		if exprVal := hv.LookupPath(cue.ParsePath("expression")); exprVal.Exists() {
			decl.Expression, err = valueToIR(exprVal)
			if err != nil {
				return nil, err
			}
		}

		handlers = append(handlers, decl)
	}

	return handlers, nil
}

// valueToIR converts a concrete CUE value to the runtime value model.
// Floats are forbidden.
func valueToIR(v cue.Value) (ir.Value, error) {
	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Str(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Arr{}
		for iter.Next() {
			elem, err := valueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Obj{}
		for iter.Next() {
			field, err := valueToIR(iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = field
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   "expression",
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, &CompileError{
			Field:   "expression",
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
