package artifact

import "encoding/json"

// deepCopy produces an independent copy of a payload value. JSON-shaped
// values (maps, slices, scalars) are copied structurally; anything else is
// round-tripped through encoding/json. Values that cannot be marshalled are
// returned as-is, which only happens for payloads the engine could never
// have persisted in the first place.
func deepCopy(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	case []map[string]interface{}:
		out := make([]map[string]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopy(item).(map[string]interface{})
		}
		return out
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, json.Number:
		return val
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return val
		}
		var out interface{}
		if err := json.Unmarshal(data, &out); err != nil {
			return val
		}
		return out
	}
}

// DeepCopy exposes payload copying for callers that need value isolation
// outside of Artifact.Clone, such as partition slicing.
func DeepCopy(v interface{}) interface{} {
	return deepCopy(v)
}
