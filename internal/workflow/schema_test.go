package workflow

import (
	"testing"
)

// TestNormalizeSchema 测试表单 schema 规范化
func TestNormalizeSchema(t *testing.T) {
	valid := []any{
		map[string]any{"key": "title", "label": "标题", "type": "text", "required": true},
		map[string]any{"key": "amount", "label": "金额", "type": "number", "default": 100},
		map[string]any{"key": "level", "label": "级别", "type": "select", "options": []any{"高", "中", "低"}, "default": "中"},
	}

	fields, err := NormalizeSchema(valid)
	if err != nil {
		t.Fatalf("NormalizeSchema 返回错误: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("期望 3 个字段, 实际 %d", len(fields))
	}
	if fields[0].Order != 1 || fields[2].Order != 3 {
		t.Errorf("字段顺序错误: %d %d", fields[0].Order, fields[2].Order)
	}
	if !fields[0].Required {
		t.Errorf("title 应为必填")
	}
	if len(fields[2].Options) != 3 {
		t.Errorf("select 选项数错误: %d", len(fields[2].Options))
	}
}

// TestNormalizeSchemaErrors 测试非法 schema 的错误码
func TestNormalizeSchemaErrors(t *testing.T) {
	tests := []struct {
		name     string
		raw      any
		wantCode string
	}{
		{"非数组", "not_a_list", CodeInvalidSchema},
		{"空数组", []any{}, CodeInvalidSchema},
		{"key 非法", []any{map[string]any{"key": "1abc", "label": "x", "type": "text"}}, CodeInvalidFieldKey},
		{"key 太短", []any{map[string]any{"key": "a", "label": "x", "type": "text"}}, CodeInvalidFieldKey},
		{"key 重复", []any{
			map[string]any{"key": "dup", "label": "x", "type": "text"},
			map[string]any{"key": "dup", "label": "y", "type": "text"},
		}, CodeDuplicatedFieldKey},
		{"缺少 label", []any{map[string]any{"key": "ok", "type": "text"}}, CodeInvalidFieldLabel},
		{"类型非法", []any{map[string]any{"key": "ok", "label": "x", "type": "magic"}}, CodeInvalidFieldType},
		{"select 无选项", []any{map[string]any{"key": "ok", "label": "x", "type": "select"}}, CodeInvalidFieldOptions},
		{"select 默认值不在选项内", []any{
			map[string]any{"key": "ok", "label": "x", "type": "select", "options": []any{"a"}, "default": "b"},
		}, CodeInvalidFieldDefault},
		{"number 默认值是布尔", []any{
			map[string]any{"key": "ok", "label": "x", "type": "number", "default": true},
		}, CodeInvalidFieldDefault},
		{"date 默认值格式错误", []any{
			map[string]any{"key": "ok", "label": "x", "type": "date", "default": "2024/01/01"},
		}, CodeInvalidFieldDefault},
		{"boolean 默认值非布尔", []any{
			map[string]any{"key": "ok", "label": "x", "type": "boolean", "default": "yes"},
		}, CodeInvalidFieldDefault},
		{"table 无列定义", []any{map[string]any{"key": "ok", "label": "x", "type": "table"}}, CodeInvalidFieldColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeSchema(tt.raw)
			if err == nil {
				t.Fatalf("期望错误 %s, 实际成功", tt.wantCode)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", got, tt.wantCode)
			}
		})
	}
}

// TestNormalizeSchemaTable 测试表格字段的列规范化
func TestNormalizeSchemaTable(t *testing.T) {
	raw := []any{
		map[string]any{
			"key": "items", "label": "明细", "type": "table",
			"columns": []any{
				map[string]any{"key": "item_name", "label": "名称", "type": "text"},
				map[string]any{"key": "qty", "label": "数量", "type": "number"},
			},
		},
	}
	fields, err := NormalizeSchema(raw)
	if err != nil {
		t.Fatalf("NormalizeSchema 返回错误: %v", err)
	}
	if len(fields[0].Columns) != 2 {
		t.Fatalf("期望 2 列, 实际 %d", len(fields[0].Columns))
	}
	if fields[0].Columns[1].Type != FieldNumber {
		t.Errorf("列类型错误: %s", fields[0].Columns[1].Type)
	}
}
