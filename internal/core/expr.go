package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/rhysd/actionlint"
)

// Expressions follow the hosted platform's syntax for "if:" and "${{ }}".
// actionlint lexes and parses them; evaluation happens here. Values are nil,
// bool, float64, string, []any or map[string]any.

// Expr is a compiled expression.
type Expr struct {
	src  string
	root actionlint.ExprNode
}

// ParseExpr compiles an expression. A surrounding "${{ }}" is optional.
func ParseExpr(src string) (*Expr, error) {
	body := strings.TrimSpace(src)
	if strings.HasPrefix(body, "${{") && strings.HasSuffix(body, "}}") {
		body = strings.TrimSpace(body[3 : len(body)-2])
	}
	if body == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrExpression)
	}
	// the lexer reads up to the closing braces of a ${{ }} placeholder
	root, perr := actionlint.NewExprParser().Parse(actionlint.NewExprLexer(body + "}}"))
	if perr != nil {
		return nil, fmt.Errorf("%w: %s at %d", ErrExpression, perr.Message, perr.Offset)
	}
	var unknown string
	walk(root, func(n actionlint.ExprNode) bool {
		if call, ok := n.(*actionlint.FuncCallNode); ok {
			if _, known := functions[strings.ToLower(call.Callee)]; !known && unknown == "" {
				unknown = call.Callee
			}
		}
		return false
	})
	if unknown != "" {
		return nil, fmt.Errorf("%w: unknown function %q", ErrExpression, unknown)
	}
	return &Expr{src: src, root: root}, nil
}

func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against ctx.
func (e *Expr) Eval(ctx *ExprContext) (any, error) {
	return eval(e.root, ctx)
}

// EvalBool evaluates the expression and coerces the result to a boolean.
func (e *Expr) EvalBool(ctx *ExprContext) (bool, error) {
	v, err := eval(e.root, ctx)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// usesStatusFunction reports whether the expression calls success(),
// failure(), always() or cancelled().
func (e *Expr) usesStatusFunction() bool {
	return walk(e.root, func(n actionlint.ExprNode) bool {
		call, ok := n.(*actionlint.FuncCallNode)
		if !ok {
			return false
		}
		switch strings.ToLower(call.Callee) {
		case "success", "failure", "always", "cancelled":
			return true
		}
		return false
	})
}

// walk visits n and its children depth first until visit returns true.
func walk(n actionlint.ExprNode, visit func(actionlint.ExprNode) bool) bool {
	if n == nil {
		return false
	}
	if visit(n) {
		return true
	}
	switch n := n.(type) {
	case *actionlint.ObjectDerefNode:
		return walk(n.Receiver, visit)
	case *actionlint.ArrayDerefNode:
		return walk(n.Receiver, visit)
	case *actionlint.IndexAccessNode:
		return walk(n.Operand, visit) || walk(n.Index, visit)
	case *actionlint.NotOpNode:
		return walk(n.Operand, visit)
	case *actionlint.CompareOpNode:
		return walk(n.Left, visit) || walk(n.Right, visit)
	case *actionlint.LogicalOpNode:
		return walk(n.Left, visit) || walk(n.Right, visit)
	case *actionlint.FuncCallNode:
		for _, a := range n.Args {
			if walk(a, visit) {
				return true
			}
		}
	}
	return false
}

func eval(n actionlint.ExprNode, ctx *ExprContext) (any, error) {
	switch n := n.(type) {
	case *actionlint.NullNode:
		return nil, nil
	case *actionlint.BoolNode:
		return n.Value, nil
	case *actionlint.IntNode:
		return float64(n.Value), nil
	case *actionlint.FloatNode:
		return n.Value, nil
	case *actionlint.StringNode:
		return n.Value, nil
	case *actionlint.VariableNode:
		return ctx.lookupRoot(strings.ToLower(n.Name)), nil
	case *actionlint.ObjectDerefNode:
		recv, err := eval(n.Receiver, ctx)
		if err != nil {
			return nil, err
		}
		return property(recv, n.Property), nil
	case *actionlint.IndexAccessNode:
		recv, err := eval(n.Operand, ctx)
		if err != nil {
			return nil, err
		}
		idx, err := eval(n.Index, ctx)
		if err != nil {
			return nil, err
		}
		if list, ok := recv.([]any); ok {
			if i, ok := idx.(float64); ok && i >= 0 && int(i) < len(list) && i == math.Trunc(i) {
				return list[int(i)], nil
			}
			return nil, nil
		}
		return property(recv, toString(idx)), nil
	case *actionlint.ArrayDerefNode:
		recv, err := eval(n.Receiver, ctx)
		if err != nil {
			return nil, err
		}
		return filterValues(recv), nil
	case *actionlint.NotOpNode:
		v, err := eval(n.Operand, ctx)
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	case *actionlint.LogicalOpNode:
		left, err := eval(n.Left, ctx)
		if err != nil {
			return nil, err
		}
		if truthy(left) == (n.Kind == actionlint.LogicalOpNodeKindOr) {
			return left, nil
		}
		return eval(n.Right, ctx)
	case *actionlint.CompareOpNode:
		left, err := eval(n.Left, ctx)
		if err != nil {
			return nil, err
		}
		right, err := eval(n.Right, ctx)
		if err != nil {
			return nil, err
		}
		switch n.Kind {
		case actionlint.CompareOpNodeKindEq:
			return looseEqual(left, right), nil
		case actionlint.CompareOpNodeKindNotEq:
			return !looseEqual(left, right), nil
		case actionlint.CompareOpNodeKindLess:
			return compare("<", left, right), nil
		case actionlint.CompareOpNodeKindLessEq:
			return compare("<=", left, right), nil
		case actionlint.CompareOpNodeKindGreater:
			return compare(">", left, right), nil
		default:
			return compare(">=", left, right), nil
		}
	case *actionlint.FuncCallNode:
		fn := functions[strings.ToLower(n.Callee)]
		if fn == nil {
			return nil, fmt.Errorf("%w: unknown function %q", ErrExpression, n.Callee)
		}
		args := make([]any, 0, len(n.Args))
		for _, a := range n.Args {
			v, err := eval(a, ctx)
			if err != nil {
				return nil, err
			}
			args = append(args, v)
		}
		return fn(ctx, args)
	default:
		return nil, fmt.Errorf("%w: unsupported node %T", ErrExpression, n)
	}
}

// property reads key from an object, or from every object of a filtered list.
func property(v any, key string) any {
	switch v := v.(type) {
	case map[string]any:
		return lookupFold(v, key)
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				if p := lookupFold(obj, key); p != nil {
					out = append(out, p)
				}
			}
		}
		return out
	default:
		return nil
	}
}

// filterValues implements the ".*" object filter.
func filterValues(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(v))
		for _, k := range keys {
			out = append(out, v[k])
		}
		return out
	default:
		return []any{}
	}
}

type exprFunc func(ctx *ExprContext, args []any) (any, error)

var functions map[string]exprFunc

func init() {
	functions = map[string]exprFunc{
		"startswith": stringPredicate("startsWith", func(s, p string) bool { return strings.HasPrefix(s, p) }),
		"endswith":   stringPredicate("endsWith", func(s, p string) bool { return strings.HasSuffix(s, p) }),
		"contains":   containsFunc,
		"format":     formatFunc,
		"success":    statusFunc(func(ctx *ExprContext) bool { return !ctx.Failed && !ctx.Cancelled }),
		"failure":    statusFunc(func(ctx *ExprContext) bool { return ctx.Failed }),
		"always":     statusFunc(func(*ExprContext) bool { return true }),
		"cancelled":  statusFunc(func(ctx *ExprContext) bool { return ctx.Cancelled }),
	}
}

func stringPredicate(name string, pred func(s, p string) bool) exprFunc {
	return func(_ *ExprContext, args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s expects 2 arguments, got %d", ErrExpression, name, len(args))
		}
		s := strings.ToLower(toString(args[0]))
		p := strings.ToLower(toString(args[1]))
		return pred(s, p), nil
	}
}

// containsFunc searches a list for an item, or a string for a substring.
func containsFunc(ctx *ExprContext, args []any) (any, error) {
	if len(args) == 2 {
		if list, ok := args[0].([]any); ok {
			for _, item := range list {
				if looseEqual(item, args[1]) {
					return true, nil
				}
			}
			return false, nil
		}
	}
	return stringPredicate("contains", strings.Contains)(ctx, args)
}

func statusFunc(f func(ctx *ExprContext) bool) exprFunc {
	return func(ctx *ExprContext, args []any) (any, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: status functions take no arguments", ErrExpression)
		}
		return f(ctx), nil
	}
}

func formatFunc(_ *ExprContext, args []any) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: format expects a format string", ErrExpression)
	}
	f := toString(args[0])
	var sb strings.Builder
	for i := 0; i < len(f); i++ {
		c := f[i]
		switch {
		case c == '{' && i+1 < len(f) && f[i+1] == '{':
			sb.WriteByte('{')
			i++
		case c == '}' && i+1 < len(f) && f[i+1] == '}':
			sb.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(f[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w: unclosed placeholder in format string", ErrExpression)
			}
			idx, err := strconv.Atoi(f[i+1 : i+end])
			if err != nil || idx < 0 || idx+1 >= len(args) {
				return nil, fmt.Errorf("%w: bad placeholder %q", ErrExpression, f[i:i+end+1])
			}
			sb.WriteString(toString(args[idx+1]))
			i += end
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String(), nil
}

func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	default:
		return true
	}
}

func toString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case map[string]any:
		return "Object"
	case []any:
		return "Array"
	default:
		return fmt.Sprint(v)
	}
}

func parseNumber(s string) (float64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "-0x") {
		i, err := strconv.ParseInt(s, 0, 64)
		return float64(i), err
	}
	return strconv.ParseFloat(s, 64)
}

func toNumber(v any) float64 {
	switch v := v.(type) {
	case nil:
		return 0
	case bool:
		if v {
			return 1
		}
		return 0
	case float64:
		return v
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		f, err := parseNumber(s)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

// looseEqual compares strings case-insensitively and coerces mismatched
// types to numbers.
func looseEqual(a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.EqualFold(as, bs)
	}
	if a == nil && b == nil {
		return true
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			return ab == bb
		}
	}
	_, aobj := a.(map[string]any)
	_, bobj := b.(map[string]any)
	if aobj || bobj {
		return false
	}
	return toNumber(a) == toNumber(b)
}

func compare(op string, a, b any) bool {
	as, aok := a.(string)
	bs, bok := b.(string)
	var c int
	if aok && bok {
		c = strings.Compare(strings.ToLower(as), strings.ToLower(bs))
	} else {
		x, y := toNumber(a), toNumber(b)
		if math.IsNaN(x) || math.IsNaN(y) {
			return false
		}
		switch {
		case x < y:
			c = -1
		case x > y:
			c = 1
		}
	}
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	default:
		return c >= 0
	}
}

func lookupFold(obj map[string]any, key string) any {
	if v, ok := obj[key]; ok {
		return v
	}
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}
