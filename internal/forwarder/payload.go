package forwarder

import (
	"encoding/base64"
	"time"
)

// prepareJSONPayload recursively converts a payload map into a
// JSON-marshalable form: byte slices become base64 strings and
// time.Time values become RFC 3339 strings, mirroring the original
// gateway's _prepare_json_payload.
func prepareJSONPayload(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = prepareJSONPayload(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = prepareJSONPayload(item)
		}
		return out
	case []byte:
		if len(val) == 0 {
			return ""
		}
		return base64.StdEncoding.EncodeToString(val)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return val
	}
}
