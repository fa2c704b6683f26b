package workflow

import (
	"testing"
)

// TestNormalizeCondition 测试条件定义规范化
func TestNormalizeCondition(t *testing.T) {
	cond, err := NormalizeCondition(map[string]any{
		"logic": "OR",
		"rules": []any{
			map[string]any{"field": "amount", "operator": "GT", "value": 1000},
			map[string]any{"field": "level"}, // operator 缺省为 eq
		},
	})
	if err != nil {
		t.Fatalf("NormalizeCondition 返回错误: %v", err)
	}
	if cond.Logic != "or" {
		t.Errorf("logic = %s, 期望 or", cond.Logic)
	}
	if cond.Rules[0].Operator != "gt" || cond.Rules[1].Operator != "eq" {
		t.Errorf("operator 规范化错误: %s %s", cond.Rules[0].Operator, cond.Rules[1].Operator)
	}

	if got, _ := NormalizeCondition(nil); got != nil {
		t.Errorf("nil 条件应返回 nil")
	}
	if got, _ := NormalizeCondition(""); got != nil {
		t.Errorf("空串条件应返回 nil")
	}
}

// TestNormalizeConditionErrors 测试条件定义错误码
func TestNormalizeConditionErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		wantCode string
	}{
		{"非对象", "x > 1", CodeInvalidStepCondition},
		{"logic 非法", map[string]any{"logic": "xor", "rules": []any{map[string]any{"field": "a"}}}, CodeInvalidStepConditionLogic},
		{"既无规则也无表达式", map[string]any{"logic": "and"}, CodeInvalidStepCondition},
		{"规则缺字段", map[string]any{"rules": []any{map[string]any{"operator": "eq"}}}, CodeInvalidStepConditionField},
		{"操作符非法", map[string]any{"rules": []any{map[string]any{"field": "a", "operator": "like"}}}, CodeInvalidStepConditionOp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeCondition(tt.raw)
			if err == nil {
				t.Fatalf("期望错误 %s, 实际成功", tt.wantCode)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", got, tt.wantCode)
			}
		})
	}
}

// TestEvalConditionRules 测试规则求值
func TestEvalConditionRules(t *testing.T) {
	formData := map[string]any{
		"amount": float64(1500),
		"level":  "高",
		"tags":   []any{"urgent", "finance"},
		"urgent": true,
		"note":   "",
	}

	tests := []struct {
		name string
		rule ConditionRule
		want bool
	}{
		{"gt 命中", ConditionRule{Field: "amount", Operator: "gt", Value: 1000}, true},
		{"gt 不命中", ConditionRule{Field: "amount", Operator: "gt", Value: 2000}, false},
		{"gt 字符串数字", ConditionRule{Field: "amount", Operator: "gt", Value: "1000"}, true},
		{"lte 命中", ConditionRule{Field: "amount", Operator: "lte", Value: 1500}, true},
		{"eq 数值比较", ConditionRule{Field: "amount", Operator: "eq", Value: 1500}, true},
		{"eq 字符串", ConditionRule{Field: "level", Operator: "eq", Value: "高"}, true},
		{"neq", ConditionRule{Field: "level", Operator: "neq", Value: "低"}, true},
		{"in 命中", ConditionRule{Field: "level", Operator: "in", Value: []any{"高", "中"}}, true},
		{"not_in 命中", ConditionRule{Field: "level", Operator: "not_in", Value: []any{"低"}}, true},
		{"contains 列表", ConditionRule{Field: "tags", Operator: "contains", Value: "urgent"}, true},
		{"contains 子串", ConditionRule{Field: "level", Operator: "contains", Value: "高"}, true},
		{"is_true", ConditionRule{Field: "urgent", Operator: "is_true"}, true},
		{"is_false 不命中", ConditionRule{Field: "urgent", Operator: "is_false"}, false},
		{"is_empty 空串", ConditionRule{Field: "note", Operator: "is_empty"}, true},
		{"is_empty 缺字段", ConditionRule{Field: "missing", Operator: "is_empty"}, true},
		{"not_empty", ConditionRule{Field: "level", Operator: "not_empty"}, true},
		{"数值转换失败按不命中", ConditionRule{Field: "level", Operator: "gt", Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := evalRule(formData, &tt.rule); got != tt.want {
				t.Errorf("evalRule = %v, 期望 %v", got, tt.want)
			}
		})
	}
}

// TestEvalConditionLogic 测试 and/or 组合语义
func TestEvalConditionLogic(t *testing.T) {
	formData := map[string]any{"amount": float64(1500), "level": "低"}

	andCond := &Condition{Logic: "and", Rules: []ConditionRule{
		{Field: "amount", Operator: "gt", Value: 1000},
		{Field: "level", Operator: "eq", Value: "高"},
	}}
	if EvalCondition(formData, andCond) {
		t.Errorf("and 组合应为假")
	}

	orCond := &Condition{Logic: "or", Rules: andCond.Rules}
	if !EvalCondition(formData, orCond) {
		t.Errorf("or 组合应为真")
	}

	if !EvalCondition(formData, nil) {
		t.Errorf("nil 条件恒为真")
	}
	if EvalCondition(formData, &Condition{Logic: "and"}) {
		t.Errorf("无结果的条件应为假")
	}
}

// TestEvalConditionWithExpression 规则与表达式混合求值
func TestEvalConditionWithExpression(t *testing.T) {
	formData := map[string]any{"amount": float64(1500), "level": "高"}
	cond := &Condition{
		Logic:      "and",
		Expression: "amount > 1000 and level == '高'",
		Rules:      []ConditionRule{{Field: "level", Operator: "not_empty"}},
	}
	if !EvalCondition(formData, cond) {
		t.Errorf("混合条件应为真")
	}
}
