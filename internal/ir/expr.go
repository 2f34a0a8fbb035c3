package ir

import "fmt"

// Pure expression bodies. An expression is a Value tree: literals evaluate to
// themselves, and an Obj of the form {"op": <name>, "args": [...]} is an
// application. Expressions are total and terminate by construction (the tree
// is finite and there is no recursion operator), which is what lets the
// optimizer fold them at compile time.

// ComputeExprID returns the content id of an expression body.
func ComputeExprID(expr Value) (ExprID, error) {
	canonical, err := MarshalCanonical(expr)
	if err != nil {
		return ExprID{}, fmt.Errorf("expr id: %w", err)
	}
	return ExprID(HashWithTag(TagExpr, canonical)), nil
}

// IsApplication reports whether v is an operator application node.
func IsApplication(v Value) bool {
	o, ok := v.(Obj)
	if !ok {
		return false
	}
	_, hasOp := o["op"].(Str)
	return hasOp
}

// EvalExpr evaluates a pure expression under an environment of named
// bindings. Unknown operators and arity mismatches are errors; the caller
// decides whether that aborts (interpreter) or skips (optimizer).
func EvalExpr(expr Value, env Obj) (Value, error) {
	if !IsApplication(expr) {
		return expr, nil
	}
	o := expr.(Obj)
	op := string(o["op"].(Str))
	rawArgs, _ := o["args"].(Arr)

	if op == "var" {
		if len(rawArgs) != 1 {
			return nil, fmt.Errorf("eval: var takes 1 argument, got %d", len(rawArgs))
		}
		name, ok := rawArgs[0].(Str)
		if !ok {
			return nil, fmt.Errorf("eval: var argument must be a string")
		}
		v, ok := env[string(name)]
		if !ok {
			return nil, fmt.Errorf("eval: unbound variable %q", name)
		}
		return v, nil
	}

	// "if" is lazy in its branches.
	if op == "if" {
		if len(rawArgs) != 3 {
			return nil, fmt.Errorf("eval: if takes 3 arguments, got %d", len(rawArgs))
		}
		cond, err := EvalExpr(rawArgs[0], env)
		if err != nil {
			return nil, err
		}
		b, ok := cond.(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: if condition is not a boolean")
		}
		if bool(b) {
			return EvalExpr(rawArgs[1], env)
		}
		return EvalExpr(rawArgs[2], env)
	}

	args := make([]Value, len(rawArgs))
	for i, a := range rawArgs {
		v, err := EvalExpr(a, env)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return applyOp(op, args)
}

func applyOp(op string, args []Value) (Value, error) {
	switch op {
	case "add", "sub", "mul":
		a, b, err := intArgs(op, args)
		if err != nil {
			return nil, err
		}
		switch op {
		case "add":
			return Int(a + b), nil
		case "sub":
			return Int(a - b), nil
		default:
			return Int(a * b), nil
		}
	case "eq":
		if len(args) != 2 {
			return nil, arity(op, 2, len(args))
		}
		return Bool(EqualValues(args[0], args[1])), nil
	case "lt":
		a, b, err := intArgs(op, args)
		if err != nil {
			return nil, err
		}
		return Bool(a < b), nil
	case "and", "or":
		if len(args) != 2 {
			return nil, arity(op, 2, len(args))
		}
		a, aok := args[0].(Bool)
		b, bok := args[1].(Bool)
		if !aok || !bok {
			return nil, fmt.Errorf("eval: %s requires boolean arguments", op)
		}
		if op == "and" {
			return Bool(a && b), nil
		}
		return Bool(a || b), nil
	case "not":
		if len(args) != 1 {
			return nil, arity(op, 1, len(args))
		}
		b, ok := args[0].(Bool)
		if !ok {
			return nil, fmt.Errorf("eval: not requires a boolean argument")
		}
		return Bool(!b), nil
	case "concat":
		if len(args) != 2 {
			return nil, arity(op, 2, len(args))
		}
		a, aok := args[0].(Str)
		b, bok := args[1].(Str)
		if !aok || !bok {
			return nil, fmt.Errorf("eval: concat requires string arguments")
		}
		return Str(string(a) + string(b)), nil
	default:
		return nil, fmt.Errorf("eval: unknown operator %q", op)
	}
}

func intArgs(op string, args []Value) (int64, int64, error) {
	if len(args) != 2 {
		return 0, 0, arity(op, 2, len(args))
	}
	a, aok := args[0].(Int)
	b, bok := args[1].(Int)
	if !aok || !bok {
		return 0, 0, fmt.Errorf("eval: %s requires integer arguments", op)
	}
	return int64(a), int64(b), nil
}

func arity(op string, want, got int) error {
	return fmt.Errorf("eval: %s takes %d arguments, got %d", op, want, got)
}

// App builds an operator application node.
func App(op string, args ...Value) Obj {
	return Obj{"op": Str(op), "args": Arr(args)}
}

// Var builds a variable reference node.
func Var(name string) Obj {
	return App("var", Str(name))
}
