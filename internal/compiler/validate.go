package compiler

import (
	"fmt"
	"regexp"
	"strings"
)

// Validation error codes (E100-E199)
const (
	ErrUnsupportedInput = "E100" // value is not a DomainSpec

	// DomainSpec errors (E101-E109)
	ErrDomainNameInvalid   = "E101" // empty or malformed domain name
	ErrConfigOutOfRange    = "E102" // config limit outside allowed range
	ErrHandlerTypeInvalid  = "E103" // malformed handles_type
	ErrDuplicateHandler    = "E104" // duplicate handler name
	ErrHandlerBodyInvalid  = "E105" // zero or both of rewrite/expression
	ErrReservedEffectType  = "E106" // handler registered for a core effect
	ErrRewriteTargetBroken = "E107" // rewrite target malformed or self-referential
)

// ValidationError represents a manifest validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate validates a compiled domain spec against schema rules.
// Returns all errors found (does not fail-fast).
func Validate(v any) []ValidationError {
	switch spec := v.(type) {
	case *DomainSpec:
		return validateDomainSpec(spec)
	case DomainSpec:
		return validateDomainSpec(&spec)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported input type: %T", v),
			Code:    ErrUnsupportedInput,
		}}
	}
}

func validateDomainSpec(spec *DomainSpec) []ValidationError {
	var errs []ValidationError

	// E101: domain name must be a lowercase identifier
	if !isValidDomainName(spec.Name) {
		errs = append(errs, ValidationError{
			Field:   "name",
			Message: fmt.Sprintf("invalid domain name %q, expected a lowercase identifier", spec.Name),
			Code:    ErrDomainNameInvalid,
		})
	}

	// E102: config limits
	if spec.Config.MaxNodesPerTransaction <= 0 {
		errs = append(errs, ValidationError{
			Field:   "config.max_nodes_per_transaction",
			Message: "must be positive",
			Code:    ErrConfigOutOfRange,
		})
	}
	if spec.Config.MaxCrossDomainDepth < 0 {
		errs = append(errs, ValidationError{
			Field:   "config.max_cross_domain_depth",
			Message: "must be non-negative",
			Code:    ErrConfigOutOfRange,
		})
	}

	names := make(map[string]bool)
	for i, h := range spec.Handlers {
		// E104: duplicate handler name
		if names[h.Name] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("handler[%d].name", i),
				Message: fmt.Sprintf("duplicate handler name: %q", h.Name),
				Code:    ErrDuplicateHandler,
			})
		}
		names[h.Name] = true

		// E103: handles_type must be "domain.effect" format
		if !isValidEffectType(h.HandlesType) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("handler[%d].handles_type", i),
				Message: fmt.Sprintf("invalid effect type %q, expected format \"domain.effect\"", h.HandlesType),
				Code:    ErrHandlerTypeInvalid,
			})
		}

		// E106: the core effect set is not handleable from manifests
		if strings.HasPrefix(h.HandlesType, "core.") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("handler[%d].handles_type", i),
				Message: fmt.Sprintf("effect type %q is reserved, handlers may not shadow core effects", h.HandlesType),
				Code:    ErrReservedEffectType,
			})
		}

		// E105: exactly one of rewrite and expression
		hasRewrite := h.Rewrite != ""
		hasExpr := h.Expression != nil
		if hasRewrite == hasExpr {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("handler[%d]", i),
				Message: fmt.Sprintf("handler %q must declare exactly one of rewrite and expression", h.Name),
				Code:    ErrHandlerBodyInvalid,
			})
		}

		// E107: rewrite target must be well-formed and distinct
		if hasRewrite {
			if !isValidEffectType(h.Rewrite) {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("handler[%d].rewrite", i),
					Message: fmt.Sprintf("invalid rewrite target %q, expected format \"domain.effect\"", h.Rewrite),
					Code:    ErrRewriteTargetBroken,
				})
			} else if h.Rewrite == h.HandlesType {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("handler[%d].rewrite", i),
					Message: fmt.Sprintf("handler %q rewrites to its own type", h.Name),
					Code:    ErrRewriteTargetBroken,
				})
			}
		}
	}

	return errs
}

// domainNamePattern matches lowercase identifiers.
var domainNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func isValidDomainName(name string) bool {
	return domainNamePattern.MatchString(name)
}

// effectTypePattern matches "domain.effect" format.
var effectTypePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

func isValidEffectType(t string) bool {
	return effectTypePattern.MatchString(t)
}
