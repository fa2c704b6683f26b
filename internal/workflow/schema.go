package workflow

// NormalizeSchema 规范化并校验表单字段列表。
// 入参是反序列化后的原始 JSON（[]any），出参是规范化字段，任何一处
// 不合法都会返回带具体错误码的 *Error，便于前端定位到字段。
func NormalizeSchema(raw any) ([]FormField, error) {
	items, ok := asList(raw)
	if !ok || len(items) == 0 {
		return nil, newError(CodeInvalidSchema)
	}

	seen := map[string]bool{}
	schema := make([]FormField, 0, len(items))

	for idx, rawField := range items {
		fieldMap, ok := asMap(rawField)
		if !ok {
			return nil, newError(CodeInvalidSchema)
		}

		key := trimmedString(fieldMap["key"])
		label := trimmedString(fieldMap["label"])
		fieldType := trimmedString(fieldMap["type"])
		if fieldType == "" {
			fieldType = FieldText
		}
		fieldType = lower(fieldType)

		if key == "" || !FieldKeyPattern.MatchString(key) {
			return nil, newError(CodeInvalidFieldKey)
		}
		if seen[key] {
			return nil, newError(CodeDuplicatedFieldKey)
		}
		if label == "" {
			return nil, newError(CodeInvalidFieldLabel)
		}
		if !fieldTypes[fieldType] {
			return nil, newError(CodeInvalidFieldType)
		}

		field := FormField{
			Key:      key,
			Label:    label,
			Type:     fieldType,
			Required: boolFlag(fieldMap["required"], false),
			Options:  []string{},
			Order:    idx + 1,
		}
		defaultValue := fieldMap["default"]

		switch fieldType {
		case FieldSelect:
			field.Options = uniqueStrings(fieldMap["options"])
			if len(field.Options) == 0 {
				return nil, newError(CodeInvalidFieldOptions)
			}
			if !isMissing(defaultValue) {
				text := stringOf(defaultValue)
				if !containsString(field.Options, text) {
					return nil, newError(CodeInvalidFieldDefault)
				}
				defaultValue = text
			}
		case FieldTable:
			columns, err := normalizeTableColumns(fieldMap["columns"])
			if err != nil {
				return nil, err
			}
			field.Columns = columns
			if !isMissing(defaultValue) {
				if _, ok := asList(defaultValue); !ok {
					return nil, newError(CodeInvalidFieldDefault)
				}
			}
		}

		switch fieldType {
		case FieldText, FieldTextarea:
			if !isMissing(defaultValue) {
				defaultValue = stringOf(defaultValue)
			}
		case FieldNumber:
			if !isMissing(defaultValue) {
				if _, isBool := defaultValue.(bool); isBool {
					return nil, newError(CodeInvalidFieldDefault)
				}
				number, ok := floatOf(defaultValue)
				if !ok {
					return nil, newError(CodeInvalidFieldDefault)
				}
				defaultValue = number
			}
		case FieldBoolean:
			if !isMissing(defaultValue) {
				if _, isBool := defaultValue.(bool); !isBool {
					return nil, newError(CodeInvalidFieldDefault)
				}
			}
		case FieldDate:
			if !isMissing(defaultValue) {
				text, isString := defaultValue.(string)
				if !isString || !datePattern.MatchString(text) {
					return nil, newError(CodeInvalidFieldDefault)
				}
			}
		case FieldAttachment:
			if !isMissing(defaultValue) {
				if _, ok := asList(defaultValue); !ok {
					return nil, newError(CodeInvalidFieldDefault)
				}
			}
			if rawCount := fieldMap["max_count"]; !isMissing(rawCount) {
				maxCount, ok := intOf(rawCount)
				if !ok || maxCount <= 0 {
					return nil, newError(CodeInvalidFieldMaxCount)
				}
				field.MaxCount = maxCount
			}
		}

		if isMissing(defaultValue) {
			field.Default = nil
		} else {
			field.Default = defaultValue
		}
		if placeholder := fieldMap["placeholder"]; !isMissing(placeholder) {
			field.Placeholder = stringOf(placeholder)
		}

		schema = append(schema, field)
		seen[key] = true
	}

	return schema, nil
}

func normalizeTableColumns(raw any) ([]TableColumn, error) {
	items, _ := asList(raw)
	columns := make([]TableColumn, 0, len(items))
	seen := map[string]bool{}
	for _, rawColumn := range items {
		columnMap, ok := asMap(rawColumn)
		if !ok {
			return nil, newError(CodeInvalidFieldColumns)
		}
		key := trimmedString(columnMap["key"])
		label := trimmedString(columnMap["label"])
		colType := trimmedString(columnMap["type"])
		if colType == "" {
			colType = FieldText
		}
		colType = lower(colType)

		if key == "" || !FieldKeyPattern.MatchString(key) || seen[key] || label == "" || !tableColumnTypes[colType] {
			return nil, newError(CodeInvalidFieldColumns)
		}
		column := TableColumn{Key: key, Label: label, Type: colType}
		if colType == FieldSelect {
			column.Options = uniqueStrings(columnMap["options"])
			if len(column.Options) == 0 {
				return nil, newError(CodeInvalidFieldColumns)
			}
		}
		columns = append(columns, column)
		seen[key] = true
	}
	if len(columns) == 0 {
		return nil, newError(CodeInvalidFieldColumns)
	}
	return columns, nil
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
