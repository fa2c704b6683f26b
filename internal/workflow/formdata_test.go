package workflow

import (
	"testing"
)

func testSchema(t *testing.T) []FormField {
	t.Helper()
	schema, err := NormalizeSchema([]any{
		map[string]any{"key": "title", "label": "标题", "type": "text", "required": true},
		map[string]any{"key": "amount", "label": "金额", "type": "number"},
		map[string]any{"key": "urgent", "label": "加急", "type": "boolean"},
		map[string]any{"key": "deadline", "label": "截止", "type": "date"},
		map[string]any{"key": "level", "label": "级别", "type": "select", "options": []any{"高", "低"}},
		map[string]any{"key": "files", "label": "附件", "type": "attachment", "max_count": 2},
	})
	if err != nil {
		t.Fatalf("构造测试 schema 失败: %v", err)
	}
	return schema
}

// TestValidateFormData 测试表单数据规范化
func TestValidateFormData(t *testing.T) {
	schema := testSchema(t)

	data, err := ValidateFormData(schema, map[string]any{
		"title":    "采购申请",
		"amount":   "1200", // 字符串数字要被接受
		"urgent":   "true",
		"deadline": "2026-09-01",
		"level":    "高",
		"files":    []any{"a.pdf", map[string]any{"url": "b.pdf"}},
	})
	if err != nil {
		t.Fatalf("ValidateFormData 返回错误: %v", err)
	}
	if data["amount"] != int64(1200) {
		t.Errorf("amount = %v (%T), 期望 int64(1200)", data["amount"], data["amount"])
	}
	if data["urgent"] != true {
		t.Errorf("urgent = %v, 期望 true", data["urgent"])
	}
	files, ok := data["files"].([]any)
	if !ok || len(files) != 2 || files[1] != "b.pdf" {
		t.Errorf("files 归一化错误: %v", data["files"])
	}
}

// TestValidateFormDataErrors 测试表单数据错误码
func TestValidateFormDataErrors(t *testing.T) {
	schema := testSchema(t)

	tests := []struct {
		name     string
		raw      map[string]any
		wantCode string
	}{
		{"缺必填", map[string]any{}, "missing_required_field:title"},
		{"必填为空串", map[string]any{"title": ""}, "missing_required_field:title"},
		{"数字非法", map[string]any{"title": "x", "amount": "abc"}, "invalid_field_type:amount"},
		{"数字为布尔", map[string]any{"title": "x", "amount": true}, "invalid_field_type:amount"},
		{"日期格式错", map[string]any{"title": "x", "deadline": "2026/09/01"}, "invalid_field_type:deadline"},
		{"选项越界", map[string]any{"title": "x", "level": "中"}, "invalid_field_option:level"},
		{"附件超限", map[string]any{"title": "x", "files": []any{"a", "b", "c"}}, "invalid_field_max_count:files"},
		{"未知字段", map[string]any{"title": "x", "ghost": "boo"}, "unknown_form_fields"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateFormData(schema, tt.raw)
			if err == nil {
				t.Fatalf("期望错误 %s, 实际成功", tt.wantCode)
			}
			if got := ErrorCode(err); got != tt.wantCode {
				t.Errorf("错误码 = %s, 期望 %s", got, tt.wantCode)
			}
		})
	}
}

// TestValidateFormDataUnknownEmptyIgnored 值为空的未知字段不报错
func TestValidateFormDataUnknownEmptyIgnored(t *testing.T) {
	schema := testSchema(t)
	if _, err := ValidateFormData(schema, map[string]any{"title": "x", "ghost": ""}); err != nil {
		t.Errorf("空值未知字段不应报错: %v", err)
	}
}

// TestValidateFormDataTable 测试表格字段行校验
func TestValidateFormDataTable(t *testing.T) {
	schema, err := NormalizeSchema([]any{
		map[string]any{
			"key": "items", "label": "明细", "type": "table",
			"columns": []any{
				map[string]any{"key": "item_name", "label": "名称", "type": "text"},
				map[string]any{"key": "qty", "label": "数量", "type": "number"},
			},
		},
	})
	if err != nil {
		t.Fatalf("构造 schema 失败: %v", err)
	}

	data, err := ValidateFormData(schema, map[string]any{
		"items": []any{
			map[string]any{"item_name": "键盘", "qty": 2},
			map[string]any{"item_name": "鼠标", "qty": ""},
		},
	})
	if err != nil {
		t.Fatalf("表格校验失败: %v", err)
	}
	rows := data["items"].([]any)
	second := rows[1].(map[string]any)
	if second["qty"] != nil {
		t.Errorf("空单元格应归一为 nil, 实际 %v", second["qty"])
	}

	if _, err := ValidateFormData(schema, map[string]any{
		"items": []any{map[string]any{"item_name": "键盘", "extra": "x"}},
	}); err == nil {
		t.Errorf("未知列应当报错")
	}
}
