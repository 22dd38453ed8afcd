//go:build unit

package gemini

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanSchema_DropsUnsupportedKeys(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"properties": map[string]any{
			"path": map[string]any{
				"type":      "string",
				"minLength": 1,
				"format":    "uri",
			},
			"mode": map[string]any{
				"type":    "string",
				"enum":    []any{"read", "write"},
				"default": "read",
			},
		},
		"required": []any{"path"},
	}

	cleaned := CleanSchema(schema)

	require.NotContains(t, cleaned, "additionalProperties")
	require.NotContains(t, cleaned, "$schema")
	require.Equal(t, "object", cleaned["type"])
	require.Equal(t, []any{"path"}, cleaned["required"])

	props := cleaned["properties"].(map[string]any)
	path := props["path"].(map[string]any)
	require.Equal(t, "string", path["type"])
	require.Equal(t, "uri", path["format"])
	require.NotContains(t, path, "minLength")

	mode := props["mode"].(map[string]any)
	require.Equal(t, []any{"read", "write"}, mode["enum"])
	require.NotContains(t, mode, "default")
}

func TestCleanSchema_ListItems(t *testing.T) {
	schema := map[string]any{
		"type": "array",
		"items": map[string]any{
			"type":          "object",
			"patternString": "^a",
			"properties": map[string]any{
				"name": map[string]any{"type": "string", "description": "entry name"},
			},
		},
	}

	cleaned := CleanSchema(schema)
	items := cleaned["items"].(map[string]any)
	require.NotContains(t, items, "patternString")
	props := items["properties"].(map[string]any)
	require.Equal(t, "entry name", props["name"].(map[string]any)["description"])
}

func TestCleanSchema_DoesNotMutateInput(t *testing.T) {
	schema := map[string]any{
		"type":                 "object",
		"additionalProperties": true,
	}
	_ = CleanSchema(schema)
	require.Contains(t, schema, "additionalProperties")
}

func TestUnwrapResponse(t *testing.T) {
	wrapped := []byte(`{"response":{"candidates":[{"content":{"role":"model","parts":[{"text":"hi"}]}}],"usageMetadata":{"promptTokenCount":3,"candidatesTokenCount":1,"totalTokenCount":4}}}`)
	resp, err := UnwrapResponse(wrapped)
	require.NoError(t, err)
	require.Len(t, resp.Candidates, 1)
	require.Equal(t, "hi", resp.Candidates[0].Content.Parts[0].Text)
	require.Equal(t, 4, resp.UsageMetadata.TotalTokenCount)

	bare := []byte(`{"candidates":[{"content":{"parts":[{"functionCall":{"name":"ls","args":{"path":"/"}}}]}}]}`)
	resp, err = UnwrapResponse(bare)
	require.NoError(t, err)
	text, calls := ExtractParts(resp.Candidates[0].Content.Parts)
	require.Empty(t, text)
	require.Len(t, calls, 1)
	require.Equal(t, "ls", calls[0].Name)
}
