package expr

import (
	"fmt"
)

// Eval walks a parsed AST against env, resolving dotted identifier
// paths into nested maps. Arithmetic other than '+', and ordering
// comparisons, on a string return an error. Booleans count as 1 and 0
// in arithmetic, '+' with a string operand concatenates, and ==/!=
// compare numbers numerically and other values by their printed form.
func Eval(n Node, env map[string]interface{}) (interface{}, error) {
	switch t := n.(type) {
	case literalNode:
		return t.value, nil
	case identNode:
		return resolvePath(env, t.path)
	case unaryNode:
		return evalUnary(t, env)
	case binaryNode:
		return evalBinary(t, env)
	default:
		return nil, fmt.Errorf("expr: unknown node type %T", n)
	}
}

// EvalBool parses and evaluates src, coercing the result to bool via
// truthiness rules (non-zero numbers, non-empty strings, non-nil are
// truthy).
func EvalBool(src string, env map[string]interface{}) (bool, error) {
	ast, err := Parse(src)
	if err != nil {
		return false, err
	}
	v, err := Eval(ast, env)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func resolvePath(env map[string]interface{}, path []string) (interface{}, error) {
	var cur interface{} = env
	for i, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("expr: %s is not a map at segment %q", joinPath(path[:i]), key)
		}
		v, present := m[key]
		if !present {
			return nil, nil
		}
		cur = v
	}
	return cur, nil
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "."
		}
		out += p
	}
	return out
}

func evalUnary(n unaryNode, env map[string]interface{}) (interface{}, error) {
	v, err := Eval(n.operand, env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case tokNot:
		return !truthy(v), nil
	case tokMinus:
		f, err := toNumber(v)
		if err != nil {
			return nil, err
		}
		return -f, nil
	default:
		return nil, fmt.Errorf("expr: unsupported unary operator")
	}
}

func evalBinary(n binaryNode, env map[string]interface{}) (interface{}, error) {
	if n.op == tokAnd {
		left, err := Eval(n.left, env)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return false, nil
		}
		right, err := Eval(n.right, env)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}
	if n.op == tokOr {
		left, err := Eval(n.left, env)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return true, nil
		}
		right, err := Eval(n.right, env)
		if err != nil {
			return nil, err
		}
		return truthy(right), nil
	}

	left, err := Eval(n.left, env)
	if err != nil {
		return nil, err
	}
	right, err := Eval(n.right, env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case tokEq:
		return equal(left, right), nil
	case tokNeq:
		return !equal(left, right), nil
	case tokLt, tokLte, tokGt, tokGte:
		return compareNumbers(n.op, left, right)
	case tokPlus:
		return arithOrConcat(left, right)
	case tokMinus, tokStar, tokSlash, tokPercent:
		return arith(n.op, left, right)
	default:
		return nil, fmt.Errorf("expr: unsupported binary operator")
	}
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

func equal(a, b interface{}) bool {
	af, aok := toNumberOK(a)
	bf, bok := toNumberOK(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func toNumberOK(v interface{}) (float64, bool) {
	f, err := toNumber(v)
	return f, err == nil
}

func toNumber(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("expr: value %v is not numeric", v)
	}
}

func compareNumbers(op tokenKind, left, right interface{}) (interface{}, error) {
	lf, err := toNumber(left)
	if err != nil {
		return nil, err
	}
	rf, err := toNumber(right)
	if err != nil {
		return nil, err
	}
	switch op {
	case tokLt:
		return lf < rf, nil
	case tokLte:
		return lf <= rf, nil
	case tokGt:
		return lf > rf, nil
	case tokGte:
		return lf >= rf, nil
	default:
		return nil, fmt.Errorf("expr: unsupported comparison operator")
	}
}

func arithOrConcat(left, right interface{}) (interface{}, error) {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok || rok {
		if !lok {
			ls = fmt.Sprintf("%v", left)
		}
		if !rok {
			rs = fmt.Sprintf("%v", right)
		}
		return ls + rs, nil
	}
	return arith(tokPlus, left, right)
}

func arith(op tokenKind, left, right interface{}) (interface{}, error) {
	lf, err := toNumber(left)
	if err != nil {
		return nil, err
	}
	rf, err := toNumber(right)
	if err != nil {
		return nil, err
	}
	switch op {
	case tokPlus:
		return lf + rf, nil
	case tokMinus:
		return lf - rf, nil
	case tokStar:
		return lf * rf, nil
	case tokSlash:
		if rf == 0 {
			return nil, fmt.Errorf("expr: division by zero")
		}
		return lf / rf, nil
	case tokPercent:
		if rf == 0 {
			return nil, fmt.Errorf("expr: modulo by zero")
		}
		return float64(int64(lf) % int64(rf)), nil
	default:
		return nil, fmt.Errorf("expr: unsupported arithmetic operator")
	}
}
