package gemini

// allowedSchemaKeys 是 functionDeclarations.parameters 接受的 OpenAPI
// Schema 子集。上游对未知字段直接返回 400，因此采用白名单而非黑名单。
var allowedSchemaKeys = map[string]struct{}{
	"type":        {},
	"description": {},
	"enum":        {},
	"items":       {},
	"properties":  {},
	"required":    {},
	"nullable":    {},
	"format":      {},
}

// CleanSchema 递归剔除上游不支持的 JSON Schema 字段。
// 白名单之外的键（additionalProperties、$schema、default 等）全部丢弃，
// 嵌套的对象和数组同样处理。输入不会被修改。
func CleanSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	cleaned := make(map[string]any, len(schema))
	for key, value := range schema {
		if _, ok := allowedSchemaKeys[key]; !ok {
			continue
		}
		cleaned[key] = cleanSchemaValue(value)
	}
	return cleaned
}

func cleanSchemaValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		return CleanSchema(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cleanSchemaValue(item)
		}
		return out
	default:
		return value
	}
}
