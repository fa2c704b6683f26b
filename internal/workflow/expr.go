package workflow

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// 受限条件表达式引擎。
//
// 表达式针对表单数据求值，只支持白名单内的语法与函数调用：
// 逻辑 and/or/not、比较、加减乘除取模、列表/下标、以及 allowedCalls
// 里列出的函数。没有属性访问、没有赋值、没有任意调用，标识符不允许
// 以双下划线开头。这里是一个安全边界：表达式来自模板配置方，引擎
// 自己解析求值，不借助任何宿主执行机制。

var allowedCalls = map[string]bool{
	"len": true, "int": true, "float": true, "str": true, "bool": true,
	"abs": true, "contains": true, "startswith": true, "endswith": true,
	"lower": true, "upper": true, "empty": true, "any": true, "all": true,
	"min": true, "max": true, "round": true, "field": true,
}

// CheckExpression 仅做语法与白名单校验，不求值。
// 非法表达式返回 false，永远不会 panic。
func CheckExpression(expression string) bool {
	text := strings.TrimSpace(expression)
	if text == "" {
		return false
	}
	_, err := parseExpression(text)
	return err == nil
}

// EvalExpression 对表单数据求值表达式，任何解析或求值错误都按 false 处理
func EvalExpression(formData map[string]any, expression string) bool {
	text := strings.TrimSpace(expression)
	if text == "" {
		return false
	}
	node, err := parseExpression(text)
	if err != nil {
		return false
	}
	value, err := evalNode(node, formData)
	if err != nil {
		return false
	}
	return truthy(value)
}

// ---------------------------------------------------------------------------
// 词法分析

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenNumber
	tokenString
	tokenIdent
	tokenOp    // 运算符与标点
	tokenKeyword
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

var exprKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true,
	"true": true, "false": true, "none": true, "null": true,
}

func lexExpression(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c >= '0' && c <= '9' || (c == '.' && i+1 < len(input) && input[i+1] >= '0' && input[i+1] <= '9'):
			j := i
			seenDot := false
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || (input[j] == '.' && !seenDot)) {
				if input[j] == '.' {
					seenDot = true
				}
				j++
			}
			num, err := strconv.ParseFloat(input[i:j], 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", input[i:j])
			}
			tokens = append(tokens, token{kind: tokenNumber, text: input[i:j], num: num})
			i = j
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != quote {
				if input[j] == '\\' && j+1 < len(input) {
					j++
				}
				sb.WriteByte(input[j])
				j++
			}
			if j >= len(input) {
				return nil, fmt.Errorf("unterminated string")
			}
			tokens = append(tokens, token{kind: tokenString, text: sb.String()})
			i = j + 1
		case isIdentStart(c):
			j := i
			for j < len(input) && isIdentPart(input[j]) {
				j++
			}
			word := input[i:j]
			if lowerWord := strings.ToLower(word); exprKeywords[lowerWord] {
				tokens = append(tokens, token{kind: tokenKeyword, text: lowerWord})
			} else {
				if strings.HasPrefix(word, "__") {
					return nil, fmt.Errorf("identifier %q not allowed", word)
				}
				tokens = append(tokens, token{kind: tokenIdent, text: word})
			}
			i = j
		default:
			twoChar := ""
			if i+1 < len(input) {
				twoChar = input[i : i+2]
			}
			switch twoChar {
			case "==", "!=", ">=", "<=", "//", "&&", "||":
				tokens = append(tokens, token{kind: tokenOp, text: twoChar})
				i += 2
				continue
			}
			switch c {
			case '+', '-', '*', '/', '%', '<', '>', '(', ')', '[', ']', '{', '}', ',', ':', '!':
				tokens = append(tokens, token{kind: tokenOp, text: string(c)})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q", string(c))
			}
		}
	}
	tokens = append(tokens, token{kind: tokenEOF})
	return tokens, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// ---------------------------------------------------------------------------
// 语法分析（递归下降，输出类型化 AST）

type exprNode interface{}

type literalNode struct{ value any }
type nameNode struct{ name string }
type listNode struct{ items []exprNode }
type dictNode struct {
	keys   []exprNode
	values []exprNode
}
type unaryNode struct {
	op      string // not / - / +
	operand exprNode
}
type binaryNode struct {
	op          string // and or + - * / // % == != > >= < <= in not_in
	left, right exprNode
}
type callNode struct {
	fn   string
	args []exprNode
}
type indexNode struct {
	target exprNode
	index  exprNode
}

// maxExprDepth 限制表达式嵌套深度，超深表达式直接判为语法错误
const maxExprDepth = 128

type exprParser struct {
	tokens []token
	pos    int
	depth  int
}

func (p *exprParser) enter() error {
	p.depth++
	if p.depth > maxExprDepth {
		return fmt.Errorf("expression nested too deeply")
	}
	return nil
}

func (p *exprParser) leave() { p.depth-- }

func parseExpression(input string) (exprNode, error) {
	tokens, err := lexExpression(input)
	if err != nil {
		return nil, err
	}
	p := &exprParser{tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("unexpected token %q", p.peek().text)
	}
	return node, nil
}

func (p *exprParser) peek() token   { return p.tokens[p.pos] }
func (p *exprParser) advance() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) matchOp(text string) bool {
	t := p.peek()
	if t.kind == tokenOp && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) matchKeyword(text string) bool {
	t := p.peek()
	if t.kind == tokenKeyword && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) parseOr() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("or") || p.matchOp("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseAnd() (exprNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.matchKeyword("and") || p.matchOp("&&") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *exprParser) parseNot() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.matchKeyword("not") || p.matchOp("!") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *exprParser) parseComparison() (exprNode, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		var op string
		t := p.peek()
		switch {
		case t.kind == tokenOp && (t.text == "==" || t.text == "!=" || t.text == ">" || t.text == ">=" || t.text == "<" || t.text == "<="):
			op = t.text
			p.pos++
		case t.kind == tokenKeyword && t.text == "in":
			op = "in"
			p.pos++
		case t.kind == tokenKeyword && t.text == "not":
			// "not in"
			if p.tokens[p.pos+1].kind == tokenKeyword && p.tokens[p.pos+1].text == "in" {
				op = "not_in"
				p.pos += 2
			} else {
				return left, nil
			}
		default:
			return left, nil
		}
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *exprParser) parseAdditive() (exprNode, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text, left: left, right: right}
	}
}

func (p *exprParser) parseMultiplicative() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokenOp || (t.text != "*" && t.text != "/" && t.text != "//" && t.text != "%") {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: t.text, left: left, right: right}
	}
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	t := p.peek()
	if t.kind == tokenOp && (t.text == "-" || t.text == "+") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: t.text, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (exprNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.matchOp("("):
			// 只允许调用白名单内的裸函数名
			name, ok := node.(*nameNode)
			if !ok || !allowedCalls[name.name] {
				return nil, fmt.Errorf("call target not allowed")
			}
			var args []exprNode
			if !p.matchOp(")") {
				for {
					arg, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.matchOp(")") {
						break
					}
					if !p.matchOp(",") {
						return nil, fmt.Errorf("expected , or ) in call")
					}
				}
			}
			node = &callNode{fn: name.name, args: args}
		case p.matchOp("["):
			index, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.matchOp("]") {
				return nil, fmt.Errorf("expected ]")
			}
			node = &indexNode{target: node, index: index}
		default:
			return node, nil
		}
	}
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.peek()
	switch t.kind {
	case tokenNumber:
		p.pos++
		return &literalNode{value: t.num}, nil
	case tokenString:
		p.pos++
		return &literalNode{value: t.text}, nil
	case tokenKeyword:
		switch t.text {
		case "true":
			p.pos++
			return &literalNode{value: true}, nil
		case "false":
			p.pos++
			return &literalNode{value: false}, nil
		case "none", "null":
			p.pos++
			return &literalNode{value: nil}, nil
		}
		return nil, fmt.Errorf("unexpected keyword %q", t.text)
	case tokenIdent:
		p.pos++
		return &nameNode{name: t.text}, nil
	case tokenOp:
		switch t.text {
		case "(":
			p.pos++
			node, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			if !p.matchOp(")") {
				return nil, fmt.Errorf("expected )")
			}
			return node, nil
		case "[":
			p.pos++
			var items []exprNode
			if !p.matchOp("]") {
				for {
					item, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					items = append(items, item)
					if p.matchOp("]") {
						break
					}
					if !p.matchOp(",") {
						return nil, fmt.Errorf("expected , or ] in list")
					}
				}
			}
			return &listNode{items: items}, nil
		case "{":
			p.pos++
			node := &dictNode{}
			if !p.matchOp("}") {
				for {
					key, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					if !p.matchOp(":") {
						return nil, fmt.Errorf("expected : in dict")
					}
					value, err := p.parseOr()
					if err != nil {
						return nil, err
					}
					node.keys = append(node.keys, key)
					node.values = append(node.values, value)
					if p.matchOp("}") {
						break
					}
					if !p.matchOp(",") {
						return nil, fmt.Errorf("expected , or } in dict")
					}
				}
			}
			return node, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// ---------------------------------------------------------------------------
// 求值

func evalNode(node exprNode, formData map[string]any) (any, error) {
	switch n := node.(type) {
	case *literalNode:
		return n.value, nil
	case *nameNode:
		// 表单数据即命名空间，未知名字按 nil 处理
		return formData[n.name], nil
	case *listNode:
		items := make([]any, 0, len(n.items))
		for _, item := range n.items {
			value, err := evalNode(item, formData)
			if err != nil {
				return nil, err
			}
			items = append(items, value)
		}
		return items, nil
	case *dictNode:
		result := map[string]any{}
		for i := range n.keys {
			key, err := evalNode(n.keys[i], formData)
			if err != nil {
				return nil, err
			}
			value, err := evalNode(n.values[i], formData)
			if err != nil {
				return nil, err
			}
			result[stringOf(key)] = value
		}
		return result, nil
	case *unaryNode:
		operand, err := evalNode(n.operand, formData)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "not":
			return !truthy(operand), nil
		case "-":
			num, ok := floatOf(operand)
			if !ok {
				return nil, fmt.Errorf("unary - on non-number")
			}
			return -num, nil
		default:
			num, ok := floatOf(operand)
			if !ok {
				return nil, fmt.Errorf("unary + on non-number")
			}
			return num, nil
		}
	case *binaryNode:
		return evalBinary(n, formData)
	case *callNode:
		return evalCall(n, formData)
	case *indexNode:
		target, err := evalNode(n.target, formData)
		if err != nil {
			return nil, err
		}
		index, err := evalNode(n.index, formData)
		if err != nil {
			return nil, err
		}
		switch t := target.(type) {
		case []any:
			idxNum, ok := floatOf(index)
			if !ok {
				return nil, fmt.Errorf("list index must be a number")
			}
			idx := int(idxNum)
			if idx < 0 {
				idx += len(t)
			}
			if idx < 0 || idx >= len(t) {
				return nil, fmt.Errorf("list index out of range")
			}
			return t[idx], nil
		case map[string]any:
			return t[stringOf(index)], nil
		case string:
			idxNum, ok := floatOf(index)
			if !ok {
				return nil, fmt.Errorf("string index must be a number")
			}
			runes := []rune(t)
			idx := int(idxNum)
			if idx < 0 {
				idx += len(runes)
			}
			if idx < 0 || idx >= len(runes) {
				return nil, fmt.Errorf("string index out of range")
			}
			return string(runes[idx]), nil
		}
		return nil, fmt.Errorf("value is not indexable")
	}
	return nil, fmt.Errorf("unknown expression node")
}

func evalBinary(n *binaryNode, formData map[string]any) (any, error) {
	// and/or 短路求值
	switch n.op {
	case "and":
		left, err := evalNode(n.left, formData)
		if err != nil {
			return nil, err
		}
		if !truthy(left) {
			return left, nil
		}
		return evalNode(n.right, formData)
	case "or":
		left, err := evalNode(n.left, formData)
		if err != nil {
			return nil, err
		}
		if truthy(left) {
			return left, nil
		}
		return evalNode(n.right, formData)
	}

	left, err := evalNode(n.left, formData)
	if err != nil {
		return nil, err
	}
	right, err := evalNode(n.right, formData)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return looseEqual(left, right), nil
	case "!=":
		return !looseEqual(left, right), nil
	case ">", ">=", "<", "<=":
		return compareValues(n.op, left, right)
	case "in":
		return valueIn(left, right)
	case "not_in":
		found, err := valueIn(left, right)
		if err != nil {
			return nil, err
		}
		return !found.(bool), nil
	case "+":
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, fmt.Errorf("cannot add string and non-string")
			}
			return ls + rs, nil
		}
		return arith(n.op, left, right)
	case "-", "*", "/", "//", "%":
		return arith(n.op, left, right)
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

func compareValues(op string, left, right any) (any, error) {
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return nil, fmt.Errorf("cannot compare string with non-string")
		}
		switch op {
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		case "<":
			return ls < rs, nil
		default:
			return ls <= rs, nil
		}
	}
	ln, ok1 := floatOf(left)
	rn, ok2 := floatOf(right)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("cannot compare non-numeric values")
	}
	switch op {
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	case "<":
		return ln < rn, nil
	default:
		return ln <= rn, nil
	}
}

func valueIn(item, container any) (any, error) {
	switch t := container.(type) {
	case string:
		return strings.Contains(t, stringOf(item)), nil
	case []any:
		for _, member := range t {
			if looseEqual(member, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]any:
		_, found := t[stringOf(item)]
		return found, nil
	}
	return nil, fmt.Errorf("in requires string, list or dict")
}

func arith(op string, left, right any) (any, error) {
	ln, ok1 := floatOf(left)
	rn, ok2 := floatOf(right)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("arithmetic on non-number")
	}
	switch op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return ln / rn, nil
	case "//":
		if rn == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return math.Floor(ln / rn), nil
	case "%":
		if rn == 0 {
			return nil, fmt.Errorf("modulo by zero")
		}
		return math.Mod(ln, rn), nil
	}
	return nil, fmt.Errorf("unknown arithmetic operator %q", op)
}

func evalCall(n *callNode, formData map[string]any) (any, error) {
	args := make([]any, 0, len(n.args))
	for _, arg := range n.args {
		value, err := evalNode(arg, formData)
		if err != nil {
			return nil, err
		}
		args = append(args, value)
	}

	switch n.fn {
	case "field":
		if len(args) != 1 {
			return nil, fmt.Errorf("field() takes one argument")
		}
		return formData[stringOf(args[0])], nil
	case "len":
		if len(args) != 1 {
			return nil, fmt.Errorf("len() takes one argument")
		}
		switch t := args[0].(type) {
		case string:
			return float64(len([]rune(t))), nil
		case []any:
			return float64(len(t)), nil
		case map[string]any:
			return float64(len(t)), nil
		}
		return nil, fmt.Errorf("len() on unsupported type")
	case "int":
		num, ok := floatOf(args[0])
		if len(args) != 1 || !ok {
			return nil, fmt.Errorf("int() needs a number")
		}
		return math.Trunc(num), nil
	case "float":
		num, ok := floatOf(args[0])
		if len(args) != 1 || !ok {
			return nil, fmt.Errorf("float() needs a number")
		}
		return num, nil
	case "str":
		if len(args) != 1 {
			return nil, fmt.Errorf("str() takes one argument")
		}
		return stringOf(args[0]), nil
	case "bool":
		if len(args) != 1 {
			return nil, fmt.Errorf("bool() takes one argument")
		}
		return truthy(args[0]), nil
	case "abs":
		num, ok := floatOf(args[0])
		if len(args) != 1 || !ok {
			return nil, fmt.Errorf("abs() needs a number")
		}
		return math.Abs(num), nil
	case "contains":
		if len(args) != 2 {
			return nil, fmt.Errorf("contains() takes two arguments")
		}
		if args[0] == nil {
			return false, nil
		}
		return valueIn(args[1], args[0])
	case "startswith":
		if len(args) != 2 {
			return nil, fmt.Errorf("startswith() takes two arguments")
		}
		return strings.HasPrefix(stringOf(args[0]), stringOf(args[1])), nil
	case "endswith":
		if len(args) != 2 {
			return nil, fmt.Errorf("endswith() takes two arguments")
		}
		return strings.HasSuffix(stringOf(args[0]), stringOf(args[1])), nil
	case "lower":
		if len(args) != 1 {
			return nil, fmt.Errorf("lower() takes one argument")
		}
		return strings.ToLower(stringOf(args[0])), nil
	case "upper":
		if len(args) != 1 {
			return nil, fmt.Errorf("upper() takes one argument")
		}
		return strings.ToUpper(stringOf(args[0])), nil
	case "empty":
		if len(args) != 1 {
			return nil, fmt.Errorf("empty() takes one argument")
		}
		return IsEmptyValue(args[0]), nil
	case "any", "all":
		if len(args) != 1 {
			return nil, fmt.Errorf("%s() takes one list argument", n.fn)
		}
		items, ok := args[0].([]any)
		if !ok {
			return nil, fmt.Errorf("%s() takes a list", n.fn)
		}
		if n.fn == "any" {
			for _, item := range items {
				if truthy(item) {
					return true, nil
				}
			}
			return false, nil
		}
		for _, item := range items {
			if !truthy(item) {
				return false, nil
			}
		}
		return true, nil
	case "min", "max":
		values := args
		if len(args) == 1 {
			if items, ok := args[0].([]any); ok {
				values = items
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("%s() needs at least one value", n.fn)
		}
		best, ok := floatOf(values[0])
		if !ok {
			return nil, fmt.Errorf("%s() on non-number", n.fn)
		}
		for _, value := range values[1:] {
			num, ok := floatOf(value)
			if !ok {
				return nil, fmt.Errorf("%s() on non-number", n.fn)
			}
			if n.fn == "min" && num < best || n.fn == "max" && num > best {
				best = num
			}
		}
		return best, nil
	case "round":
		if len(args) == 0 || len(args) > 2 {
			return nil, fmt.Errorf("round() takes one or two arguments")
		}
		num, ok := floatOf(args[0])
		if !ok {
			return nil, fmt.Errorf("round() needs a number")
		}
		digits := 0.0
		if len(args) == 2 {
			digits, ok = floatOf(args[1])
			if !ok {
				return nil, fmt.Errorf("round() digits must be a number")
			}
		}
		scale := math.Pow(10, digits)
		return math.Round(num*scale) / scale, nil
	}
	return nil, fmt.Errorf("call to %q not allowed", n.fn)
}

// truthy 与前端条件语义对齐：空值、零值、空集合为假
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
