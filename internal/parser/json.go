package parser

import (
	"encoding/json"
	"fmt"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"
)

// JSONItem is one normalized element from a JSON feed's items array.
type JSONItem struct {
	Title       string
	Description string
	URL         string
	Type        string
	Severity    string
}

// parseJSON walks the configured items path (default "items") and
// returns a Result built from the first item.
func parseJSON(content []byte, itemsPath string) (Result, error) {
	items, err := ParseJSONItems(content, itemsPath)
	if err != nil {
		return Result{}, err
	}
	if len(items) == 0 {
		return Result{}, fmt.Errorf("json feed contained no items")
	}
	first := items[0]
	return Result{Title: first.Title, Body: first.Description}, nil
}

// ParseJSONItems extracts the items array at itemsPath (default "items")
// using gjson, falling back to a JSONPath expression via
// github.com/PaesslerAG/jsonpath when itemsPath looks like one (starts
// with "$").
func ParseJSONItems(content []byte, itemsPath string) ([]JSONItem, error) {
	if itemsPath == "" {
		itemsPath = "items"
	}

	if len(itemsPath) > 0 && itemsPath[0] == '$' {
		return parseJSONPathItems(content, itemsPath)
	}

	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("invalid json")
	}
	result := gjson.GetBytes(content, itemsPath)
	if !result.IsArray() {
		return nil, fmt.Errorf("path %q is not an array", itemsPath)
	}

	var items []JSONItem
	result.ForEach(func(_, value gjson.Result) bool {
		items = append(items, JSONItem{
			Title:       value.Get("title").String(),
			Description: value.Get("description").String(),
			URL:         value.Get("url").String(),
			Type:        value.Get("type").String(),
			Severity:    value.Get("severity").String(),
		})
		return true
	})
	return items, nil
}

func parseJSONPathItems(content []byte, path string) ([]JSONItem, error) {
	var doc any
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, err
	}
	raw, err := jsonpath.Get(path, doc)
	if err != nil {
		return nil, err
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("jsonpath %q did not resolve to an array", path)
	}
	items := make([]JSONItem, 0, len(list))
	for _, entry := range list {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		items = append(items, JSONItem{
			Title:       stringField(m, "title"),
			Description: stringField(m, "description"),
			URL:         stringField(m, "url"),
			Type:        stringField(m, "type"),
			Severity:    stringField(m, "severity"),
		})
	}
	return items, nil
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
