package feature

import (
	"encoding/json"
	"fmt"
	"math"
)

// parseMeta decodes and validates one meta.json payload. Shape errors are
// reported per field so a feature author sees exactly what to fix.
func parseMeta(data []byte, folderName string) (*Descriptor, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidMetaError{
			FeatureID: folderName,
			Reason:    fmt.Sprintf("meta.json is not valid JSON: %v", err),
		}
	}

	if err := checkShapes(raw, folderName); err != nil {
		return nil, err
	}

	desc := &Descriptor{SortOrder: DefaultSortOrder}
	if err := json.Unmarshal(data, desc); err != nil {
		return nil, &InvalidMetaError{
			FeatureID: folderName,
			Reason:    fmt.Sprintf("meta.json does not match descriptor schema: %v", err),
		}
	}

	if err := desc.validate(folderName); err != nil {
		return nil, err
	}
	return desc, nil
}

// checkShapes validates the optional-field types rule 4/5 of the descriptor
// schema against the raw JSON, where absent and zero are distinguishable.
func checkShapes(raw map[string]any, folderName string) error {
	fail := func(reason string) error {
		return &InvalidMetaError{FeatureID: folderName, Reason: reason}
	}

	for _, key := range []string{"id", "label", "version", "main_class"} {
		v, ok := raw[key]
		if !ok {
			return fail(fmt.Sprintf("required field %q is missing", key))
		}
		s, isString := v.(string)
		if !isString || s == "" {
			return fail(fmt.Sprintf("required field %q must be a non-empty string", key))
		}
	}

	for _, key := range []string{"visible_for", "dependencies"} {
		if v, ok := raw[key]; ok {
			if !isStringArray(v) {
				return fail(fmt.Sprintf("%s must be an array of strings", key))
			}
		}
	}

	for _, key := range []string{"is_core", "requires_login"} {
		if v, ok := raw[key]; ok {
			if _, isBool := v.(bool); !isBool {
				return fail(fmt.Sprintf("%s must be a boolean", key))
			}
		}
	}

	if v, ok := raw["sort_order"]; ok {
		n, isInt := asInt(v)
		if !isInt || n < 0 {
			return fail("sort_order must be a non-negative integer")
		}
	}

	if v, ok := raw["audit"]; ok {
		block, isObject := v.(map[string]any)
		if !isObject {
			return fail("audit must be an object")
		}
		if mv, ok := block["must_audit"]; ok {
			if _, isBool := mv.(bool); !isBool {
				return fail("audit.must_audit must be a boolean")
			}
		}
		if ca, ok := block["critical_actions"]; ok {
			if !isStringArray(ca) {
				return fail("audit.critical_actions must be an array")
			}
		}
		if rd, ok := block["retention_days"]; ok {
			n, isInt := asInt(rd)
			if !isInt || n <= 0 {
				return fail("audit.retention_days must be a strictly positive integer")
			}
		}
	}

	if v, ok := raw["licensing"]; ok {
		if _, isObject := v.(map[string]any); !isObject {
			return fail("licensing must be an object")
		}
	}

	return nil
}

func isStringArray(v any) bool {
	arr, ok := v.([]any)
	if !ok {
		return false
	}
	for _, item := range arr {
		if _, ok := item.(string); !ok {
			return false
		}
	}
	return true
}

// asInt accepts JSON numbers that are whole values.
func asInt(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
