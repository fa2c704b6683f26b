package workflow

// ValidateFormData 按 schema 校验并规范化一次表单提交。
// 返回的 map 只包含 schema 内的 key；未知 key（且值非空）会被拒绝。
func ValidateFormData(schema []FormField, raw map[string]any) (map[string]any, error) {
	if raw == nil {
		raw = map[string]any{}
	}

	known := map[string]bool{}
	normalized := make(map[string]any, len(schema))

	for i := range schema {
		field := &schema[i]
		known[field.Key] = true

		value := raw[field.Key]
		if s, ok := value.(string); ok && s == "" {
			value = nil
		}
		if value == nil {
			if field.Required {
				return nil, newFieldError(CodeMissingRequiredField, field.Key)
			}
			normalized[field.Key] = nil
			continue
		}

		coerced, err := coerceFieldValue(field, value)
		if err != nil {
			return nil, err
		}
		normalized[field.Key] = coerced
	}

	for key, value := range raw {
		if !known[key] && !isMissing(value) {
			return nil, newError(CodeUnknownFormFields)
		}
	}

	return normalized, nil
}

func coerceFieldValue(field *FormField, value any) (any, error) {
	switch field.Type {
	case FieldText, FieldTextarea:
		return stringOf(value), nil

	case FieldNumber:
		if _, isBool := value.(bool); isBool {
			return nil, newFieldError(CodeInvalidFieldValue, field.Key)
		}
		number, ok := floatOf(value)
		if !ok {
			return nil, newFieldError(CodeInvalidFieldValue, field.Key)
		}
		// 整数值保持整数形态，避免 12 变成 12.0
		if number == float64(int64(number)) {
			return int64(number), nil
		}
		return number, nil

	case FieldDate:
		text, isString := value.(string)
		if !isString || !datePattern.MatchString(text) {
			return nil, newFieldError(CodeInvalidFieldValue, field.Key)
		}
		return text, nil

	case FieldSelect:
		text := stringOf(value)
		if len(field.Options) > 0 && !containsString(field.Options, text) {
			return nil, newFieldError(CodeInvalidFieldOption, field.Key)
		}
		return text, nil

	case FieldBoolean:
		return coerceBool(field.Key, value)

	case FieldAttachment:
		return coerceAttachment(field, value)

	case FieldTable:
		return coerceTable(field, value)
	}
	return value, nil
}

func coerceBool(key string, value any) (any, error) {
	switch t := value.(type) {
	case bool:
		return t, nil
	case string:
		switch lower(t) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	case int:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	}
	return nil, newFieldError(CodeInvalidFieldValue, key)
}

// coerceAttachment 附件统一归一成字符串列表，对象形式取 url 或 name
func coerceAttachment(field *FormField, value any) (any, error) {
	items, ok := asList(value)
	if !ok {
		return nil, newFieldError(CodeInvalidFieldValue, field.Key)
	}
	files := []any{}
	for _, item := range items {
		switch t := item.(type) {
		case string:
			if ref := trimmedString(t); ref != "" {
				files = append(files, ref)
			}
		case map[string]any:
			ref := trimmedString(t["url"])
			if ref == "" {
				ref = trimmedString(t["name"])
			}
			if ref != "" {
				files = append(files, ref)
			}
		default:
			return nil, newFieldError(CodeInvalidFieldValue, field.Key)
		}
	}
	if field.MaxCount > 0 && len(files) > field.MaxCount {
		return nil, newFieldError(CodeInvalidFieldMaxCount, field.Key)
	}
	return files, nil
}

func coerceTable(field *FormField, value any) (any, error) {
	rows, ok := asList(value)
	if !ok || len(field.Columns) == 0 {
		return nil, newFieldError(CodeInvalidFieldValue, field.Key)
	}
	columnMap := map[string]*TableColumn{}
	for i := range field.Columns {
		columnMap[field.Columns[i].Key] = &field.Columns[i]
	}

	normalizedRows := []any{}
	for _, rawRow := range rows {
		row, ok := asMap(rawRow)
		if !ok {
			return nil, newFieldError(CodeInvalidFieldValue, field.Key)
		}
		normalizedRow := map[string]any{}
		for colKey, column := range columnMap {
			colValue := row[colKey]
			if s, isStr := colValue.(string); (isStr && s == "") || colValue == nil {
				normalizedRow[colKey] = nil
				continue
			}
			coerced, err := coerceColumnValue(field.Key, column, colValue)
			if err != nil {
				return nil, err
			}
			normalizedRow[colKey] = coerced
		}
		for colKey, colValue := range row {
			if _, known := columnMap[colKey]; !known && !isMissing(colValue) {
				return nil, newFieldError(CodeInvalidFieldValue, field.Key)
			}
		}
		normalizedRows = append(normalizedRows, normalizedRow)
	}
	return normalizedRows, nil
}

func coerceColumnValue(fieldKey string, column *TableColumn, value any) (any, error) {
	switch column.Type {
	case FieldText, FieldTextarea:
		return stringOf(value), nil
	case FieldNumber:
		if _, isBool := value.(bool); isBool {
			return nil, newFieldError(CodeInvalidFieldValue, fieldKey)
		}
		number, ok := floatOf(value)
		if !ok {
			return nil, newFieldError(CodeInvalidFieldValue, fieldKey)
		}
		if number == float64(int64(number)) {
			return int64(number), nil
		}
		return number, nil
	case FieldDate:
		text, isString := value.(string)
		if !isString || !datePattern.MatchString(text) {
			return nil, newFieldError(CodeInvalidFieldValue, fieldKey)
		}
		return text, nil
	case FieldSelect:
		text := stringOf(value)
		if len(column.Options) > 0 && !containsString(column.Options, text) {
			return nil, newFieldError(CodeInvalidFieldOption, fieldKey)
		}
		return text, nil
	case FieldBoolean:
		return coerceBool(fieldKey, value)
	}
	return value, nil
}
