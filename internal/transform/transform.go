// Package transform implements the Transformer (C6): a fixed-order
// pipeline applied to an envelope before it is forwarded to a target —
// sanitize, flatten, map, remove, add — driven by a target system's
// dto.TransformConfig. Dotted-path reads/writes for map/remove/add go
// through tidwall/gjson and tidwall/sjson, the same libraries the
// teacher's route matcher uses for path-based access.
package transform

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

// Apply runs the sanitize -> flatten -> map -> remove -> add pipeline and
// returns the resulting payload as a plain map ready for JSON encoding.
func Apply(env *envelope.Envelope, cfg dto.TransformConfig) (map[string]interface{}, error) {
	parsed := env.ParsedData
	if cfg.Sanitize && parsed != nil {
		stripped := stripBytes(*parsed)
		parsed = &stripped
	}

	payload := buildPayload(env, parsed, cfg.Sanitize)

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	doc := string(raw)

	if cfg.Flatten {
		doc = flatten(doc)
	}
	for _, m := range cfg.Map {
		doc, err = mapField(doc, m.Src, m.Dst)
		if err != nil {
			return nil, err
		}
	}
	for _, path := range cfg.Remove {
		doc, err = sjson.Delete(doc, path)
		if err != nil {
			return nil, err
		}
	}
	for k, v := range cfg.Add {
		doc, err = sjson.Set(doc, k, v)
		if err != nil {
			return nil, err
		}
	}

	var out map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// buildPayload projects an envelope into the plain map the rest of the
// pipeline operates over. When sanitize is requested, raw_data is omitted
// entirely rather than included and then stripped.
func buildPayload(env *envelope.Envelope, parsed *envelope.Value, sanitized bool) map[string]interface{} {
	payload := map[string]interface{}{
		"message_id":      env.MessageID,
		"timestamp":       env.Timestamp,
		"source_protocol": string(env.SourceProtocol),
		"data_source_id":  env.DataSourceID,
		"source_address":  env.SourceAddress,
		"source_port":     env.SourcePort,
	}
	if !sanitized {
		payload["raw_data"] = env.RawData
	}
	if parsed != nil {
		payload["parsed_data"] = parsed.ToInterface()
	}
	if env.ParseError != nil {
		payload["parse_error"] = *env.ParseError
	}
	return payload
}

// stripBytes returns a copy of v with every KindBytes value removed,
// recursively, from maps and lists. Byte-valued fields exist only to
// carry raw frame bytes through the parser; they must never reach a
// downstream target verbatim.
func stripBytes(v envelope.Value) envelope.Value {
	switch v.Kind() {
	case envelope.KindMap:
		m, _ := v.Map()
		out := make(map[string]envelope.Value, len(m))
		for k, e := range m {
			if e.Kind() == envelope.KindBytes {
				continue
			}
			out[k] = stripBytes(e)
		}
		return envelope.Map(out)
	case envelope.KindList:
		list, _ := v.List()
		out := make([]envelope.Value, 0, len(list))
		for _, e := range list {
			if e.Kind() == envelope.KindBytes {
				continue
			}
			out = append(out, stripBytes(e))
		}
		return envelope.List(out)
	default:
		return v
	}
}

// flatten lifts every key under parsed_data to the document root,
// removing the parsed_data wrapper. A parsed_data key colliding with an
// existing root key is skipped, preserving the root key.
func flatten(doc string) string {
	root := gjson.Parse(doc)
	parsed := gjson.Get(doc, "parsed_data")
	if !parsed.Exists() || !parsed.IsObject() {
		return doc
	}
	parsed.ForEach(func(key, value gjson.Result) bool {
		if root.Get(key.String()).Exists() {
			return true
		}
		doc, _ = sjson.SetRaw(doc, key.String(), value.Raw)
		return true
	})
	doc, _ = sjson.Delete(doc, "parsed_data")
	return doc
}

func mapField(doc, src, dst string) (string, error) {
	val := gjson.Get(doc, src)
	if !val.Exists() {
		return doc, nil
	}
	doc, err := sjson.SetRaw(doc, dst, val.Raw)
	if err != nil {
		return doc, err
	}
	return sjson.Delete(doc, src)
}
