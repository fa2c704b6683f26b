package workflow

import (
	"strings"
	"testing"
)

// TestEvalExpression 测试受限表达式求值
func TestEvalExpression(t *testing.T) {
	formData := map[string]any{
		"amount": float64(1500),
		"level":  "高",
		"tags":   []any{"urgent", "finance"},
		"title":  "采购申请",
		"urgent": true,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"数值比较", "amount > 1000", true},
		{"数值比较不命中", "amount >= 2000", false},
		{"与逻辑", "amount > 1000 and level == '高'", true},
		{"或逻辑", "amount > 9999 or urgent", true},
		{"取反", "not (amount > 9999)", true},
		{"in 列表", "'urgent' in tags", true},
		{"not in", "'spam' not in tags", true},
		{"in 字符串", "'申请' in title", true},
		{"字符串函数", "startswith(title, '采购') and endswith(title, '申请')", true},
		{"大小写函数", "lower('ABC') == 'abc' and upper('x') == 'X'", true},
		{"len 函数", "len(tags) == 2", true},
		{"contains 函数", "contains(tags, 'finance')", true},
		{"empty 函数", "not empty(title)", true},
		{"any all", "any([false, true]) and all([true, 1, 'x'])", true},
		{"min max", "min(3, 1, 2) == 1 and max([4, 9]) == 9", true},
		{"round abs", "round(2.5) == 3 and abs(0 - 5) == 5", true},
		{"field 函数", "field('amount') > 1000", true},
		{"算术", "amount * 2 - 1000 == 2000", true},
		{"整除取模", "7 // 2 == 3 and 7 % 2 == 1", true},
		{"下标访问", "tags[0] == 'urgent'", true},
		{"负下标", "tags[-1] == 'finance'", true},
		{"三方比较链不支持但可分写", "amount > 1000 and amount < 2000", true},
		{"未知变量为 nil", "missing == none", true},
		{"字符串拼接", "title + '!' == '采购申请!'", true},
		{"真值语义空串", "''", false},
		{"真值语义非零", "42", true},
		{"除零错误按假", "1 / 0 == 1", false},
		{"语法错误按假", "amount >", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EvalExpression(formData, tt.expr); got != tt.want {
				t.Errorf("EvalExpression(%q) = %v, 期望 %v", tt.expr, got, tt.want)
			}
		})
	}
}

// TestCheckExpression 测试表达式语法校验
func TestCheckExpression(t *testing.T) {
	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"合法比较", "amount > 1000", true},
		{"合法函数", "len(tags) > 0", true},
		{"合法组合", "(a or b) and not c", true},
		{"空表达式", "", false},
		{"语法残缺", "amount >", false},
		{"括号不闭合", "(a > 1", false},
		{"未知函数", "system('rm')", false},
		{"属性访问不支持", "a.b > 1", false},
		{"双下划线标识符", "__class__ == 1", false},
		{"非法字符", "a > 1 ; b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckExpression(tt.expr); got != tt.want {
				t.Errorf("CheckExpression(%q) = %v, 期望 %v", tt.expr, got, tt.want)
			}
		})
	}
}

// TestExpressionDepthLimit 测试嵌套深度上限：适度嵌套合法，超深嵌套按语法错误处理
func TestExpressionDepthLimit(t *testing.T) {
	nested := func(depth int) string {
		return strings.Repeat("(", depth) + "amount > 1" + strings.Repeat(")", depth)
	}

	t.Run("适度括号嵌套合法", func(t *testing.T) {
		if !CheckExpression(nested(20)) {
			t.Errorf("20 层括号嵌套应为合法表达式")
		}
	})

	t.Run("超深括号嵌套判非法", func(t *testing.T) {
		if CheckExpression(nested(1000)) {
			t.Errorf("1000 层括号嵌套应判为非法")
		}
	})

	t.Run("超深not链判非法", func(t *testing.T) {
		expr := strings.Repeat("not ", 1000) + "amount"
		if CheckExpression(expr) {
			t.Errorf("1000 层 not 嵌套应判为非法")
		}
	})

	t.Run("超深嵌套求值按假", func(t *testing.T) {
		formData := map[string]any{"amount": float64(5)}
		if EvalExpression(formData, nested(1000)) {
			t.Errorf("超深表达式求值应按 false 处理")
		}
	})
}
