package workflow

import "strings"

// NormalizeCondition 规范化条件定义：logic + rules/expression 至少其一
func NormalizeCondition(raw any) (*Condition, error) {
	if isMissing(raw) {
		return nil, nil
	}
	condMap, ok := asMap(raw)
	if !ok {
		return nil, newError(CodeInvalidStepCondition)
	}

	logic := lower(trimmedString(condMap["logic"]))
	if logic == "" {
		logic = "and"
	}
	if !conditionLogics[logic] {
		return nil, newError(CodeInvalidStepConditionLogic)
	}

	expression := ""
	if raw := condMap["expression"]; !isMissing(raw) {
		expression = trimmedString(raw)
		if expression == "" {
			return nil, newError(CodeInvalidStepConditionExpr)
		}
	}

	var rules []ConditionRule
	if rawRules, ok := asList(condMap["rules"]); ok {
		for _, rawRule := range rawRules {
			ruleMap, ok := asMap(rawRule)
			if !ok {
				return nil, newError(CodeInvalidStepConditionRule)
			}
			field := trimmedString(ruleMap["field"])
			operator := lower(trimmedString(ruleMap["operator"]))
			if operator == "" {
				operator = "eq"
			}
			if field == "" {
				return nil, newError(CodeInvalidStepConditionField)
			}
			if !conditionOperators[operator] {
				return nil, newError(CodeInvalidStepConditionOp)
			}
			rules = append(rules, ConditionRule{Field: field, Operator: operator, Value: ruleMap["value"]})
		}
	}

	if len(rules) == 0 && expression == "" {
		return nil, newError(CodeInvalidStepCondition)
	}

	return &Condition{Logic: logic, Rules: rules, Expression: expression}, nil
}

// EvalCondition 对当前表单数据求值条件定义。
// 约定：nil 条件恒为真（无条件边）；有条件但一条结果都没有时为假。
func EvalCondition(formData map[string]any, cond *Condition) bool {
	if cond == nil {
		return true
	}
	var results []bool
	if cond.Expression != "" {
		results = append(results, EvalExpression(formData, cond.Expression))
	}
	for i := range cond.Rules {
		results = append(results, evalRule(formData, &cond.Rules[i]))
	}
	if len(results) == 0 {
		return false
	}
	if cond.Logic == "or" {
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	}
	for _, r := range results {
		if !r {
			return false
		}
	}
	return true
}

// evalRule 单条规则求值。数值比较时两边都转 float64，转换失败按不命中处理而不是报错。
func evalRule(formData map[string]any, rule *ConditionRule) bool {
	actual := formData[rule.Field]
	expected := rule.Value

	switch rule.Operator {
	case "is_empty":
		return IsEmptyValue(actual)
	case "not_empty":
		return !IsEmptyValue(actual)
	case "is_true":
		b, ok := actual.(bool)
		return ok && b
	case "is_false":
		b, ok := actual.(bool)
		return ok && !b
	case "contains":
		switch t := actual.(type) {
		case string:
			return strings.Contains(t, stringOf(expected))
		case []any:
			for _, item := range t {
				if looseEqual(item, expected) {
					return true
				}
			}
			return false
		}
		return false
	case "in":
		if items, ok := asList(expected); ok {
			for _, item := range items {
				if looseEqual(actual, item) {
					return true
				}
			}
			return false
		}
		return looseEqual(actual, expected)
	case "not_in":
		if items, ok := asList(expected); ok {
			for _, item := range items {
				if looseEqual(actual, item) {
					return false
				}
			}
			return true
		}
		return !looseEqual(actual, expected)
	case "gt", "gte", "lt", "lte":
		actualNum, ok1 := floatOf(actual)
		expectedNum, ok2 := floatOf(expected)
		if !ok1 || !ok2 {
			return false
		}
		switch rule.Operator {
		case "gt":
			return actualNum > expectedNum
		case "gte":
			return actualNum >= expectedNum
		case "lt":
			return actualNum < expectedNum
		default:
			return actualNum <= expectedNum
		}
	case "neq":
		return !looseEqual(actual, expected)
	default: // eq
		return looseEqual(actual, expected)
	}
}

// looseEqual 数字间按数值比较（JSON 反序列化后数字类型不稳定），其余按精确值比较
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	_, aStr := a.(string)
	_, bStr := b.(string)
	if !aStr && !bStr {
		fa, okA := floatOf(a)
		fb, okB := floatOf(b)
		if okA && okB {
			return fa == fb
		}
	}
	return a == b
}
