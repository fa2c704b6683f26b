package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// 宽松取值辅助函数：前端提交的 JSON 里数字、布尔经常以字符串形式出现，
// 这里统一做容错转换，转换失败的语义由各调用方决定。

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

// stringOf 任意值转字符串，nil 返回空串
func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint:
		return strconv.FormatUint(uint64(t), 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func trimmedString(v any) string {
	return strings.TrimSpace(stringOf(v))
}

func lower(s string) string {
	return strings.ToLower(s)
}

// floatOf 数字转换，bool 不作为数字处理
func floatOf(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// uintOf 正整数 id 转换，非法或非正数返回 0
func uintOf(v any) uint {
	switch t := v.(type) {
	case float64:
		if t > 0 && t == float64(uint(t)) {
			return uint(t)
		}
	case int:
		if t > 0 {
			return uint(t)
		}
	case int64:
		if t > 0 {
			return uint(t)
		}
	case uint:
		return t
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		if err == nil && n > 0 {
			return uint(n)
		}
	}
	return 0
}

// intOf 整数转换，失败返回 (0, false)
func intOf(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case int64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	case bool:
		return 0, false
	default:
		return 0, false
	}
}

// boolFlag 宽松布尔解析："1"/"true"/"yes"/"on" 为真，nil 取默认值
func boolFlag(v any, def bool) bool {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case int:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}

// uniqueUserIDs 解析去重后的用户 id 列表，忽略非法项
func uniqueUserIDs(raw any) []uint {
	items, ok := asList(raw)
	if !ok {
		return nil
	}
	var ids []uint
	seen := map[uint]bool{}
	for _, item := range items {
		id := uintOf(item)
		if id > 0 && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// uniqueStrings 解析去重后的非空字符串列表
func uniqueStrings(raw any) []string {
	items, ok := asList(raw)
	if !ok {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, item := range items {
		text := trimmedString(item)
		if text != "" && !seen[text] {
			seen[text] = true
			out = append(out, text)
		}
	}
	return out
}

// isMissing nil 或空字符串视为未填写
func isMissing(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// IsEmptyValue 条件求值里使用的空值语义：nil、空白字符串、空集合
func IsEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	default:
		return false
	}
}
