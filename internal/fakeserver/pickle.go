package fakeserver

import (
	"encoding/json"

	"github.com/little-brother/lbclient/models"
	"github.com/little-brother/lbclient/unpickle"
)

// nestedTags names the class of objects found under these field names.
var nestedTags = map[string]string{
	"user_status":         models.TagUserStatus,
	"user_status_details": models.TagUserStatusDetail,
	"user_admin_details":  models.TagUserAdminDetail,
	"rule_set":            models.TagRuleSet,
	"override":            models.TagRuleSet,
	"effective_rule_set":  models.TagRuleSet,
}

// pickle renders v as the server's tagged JSON object.
func pickle(tag string, v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	return tagTree(tag, fields), nil
}

func pickleList[T any](tag string, items []*T) ([]any, error) {
	out := make([]any, 0, len(items))
	for _, item := range items {
		obj, err := pickle(tag, item)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func tagTree(tag string, fields map[string]any) map[string]any {
	for key, child := range fields {
		childTag, ok := nestedTags[key]
		if !ok {
			continue
		}
		switch c := child.(type) {
		case map[string]any:
			fields[key] = tagTree(childTag, c)
		case []any:
			for i, item := range c {
				if obj, ok := item.(map[string]any); ok {
					c[i] = tagTree(childTag, obj)
				}
			}
		}
	}
	fields[unpickle.TagKey] = tag
	return fields
}
