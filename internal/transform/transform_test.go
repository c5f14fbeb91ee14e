package transform

import (
	"testing"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

func TestApply_SanitizeStripsRawDataAndBytes(t *testing.T) {
	v := envelope.Map(map[string]envelope.Value{
		"temperature": envelope.Float(21.5),
		"blob":        envelope.Bytes([]byte{1, 2, 3}),
	})
	env := &envelope.Envelope{RawData: []byte("raw"), MessageID: "m1"}
	*env = env.WithParsed(v)

	out, err := Apply(env, dto.TransformConfig{Sanitize: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["raw_data"]; ok {
		t.Fatal("raw_data should be stripped")
	}
	parsed, ok := out["parsed_data"].(map[string]interface{})
	if !ok {
		t.Fatalf("parsed_data has wrong type: %T", out["parsed_data"])
	}
	if _, ok := parsed["blob"]; ok {
		t.Fatal("byte-valued field should be stripped")
	}
	if parsed["temperature"] != 21.5 {
		t.Fatalf("temperature = %v, want 21.5", parsed["temperature"])
	}
}

func TestApply_Flatten(t *testing.T) {
	v := envelope.Map(map[string]envelope.Value{"temperature": envelope.Float(21.5)})
	env := &envelope.Envelope{MessageID: "m1"}
	*env = env.WithParsed(v)

	out, err := Apply(env, dto.TransformConfig{Flatten: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["parsed_data"]; ok {
		t.Fatal("parsed_data should be removed after flatten")
	}
	if out["temperature"] != 21.5 {
		t.Fatalf("temperature = %v, want 21.5 at root", out["temperature"])
	}
}

func TestApply_FlattenPreservesRootKeyOnCollision(t *testing.T) {
	// "source_address" and "timestamp" are both envelope root fields
	// populated by buildPayload; a frame schema field with the same name
	// must not clobber them when flattened.
	v := envelope.Map(map[string]envelope.Value{
		"source_address": envelope.String("spoofed"),
		"temperature":    envelope.Float(21.5),
	})
	env := &envelope.Envelope{MessageID: "m1", SourceAddress: "10.0.0.1"}
	*env = env.WithParsed(v)

	out, err := Apply(env, dto.TransformConfig{Flatten: true})
	if err != nil {
		t.Fatal(err)
	}
	if out["source_address"] != "10.0.0.1" {
		t.Fatalf("source_address = %v, want envelope's own 10.0.0.1 to survive collision", out["source_address"])
	}
	if out["temperature"] != 21.5 {
		t.Fatalf("temperature = %v, want 21.5 promoted to root", out["temperature"])
	}
	if _, ok := out["parsed_data"]; ok {
		t.Fatal("parsed_data should be removed after flatten even when some keys collide")
	}
}

func TestApply_MapRemoveAdd(t *testing.T) {
	v := envelope.Map(map[string]envelope.Value{"old_name": envelope.String("x")})
	env := &envelope.Envelope{MessageID: "m1"}
	*env = env.WithParsed(v)

	cfg := dto.TransformConfig{
		Flatten: true,
		Map:     []dto.FieldMapping{{Src: "old_name", Dst: "new_name"}},
		Remove:  []string{"source_port"},
		Add:     map[string]interface{}{"tenant": "acme"},
	}
	out, err := Apply(env, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if out["new_name"] != "x" {
		t.Fatalf("new_name = %v, want x", out["new_name"])
	}
	if _, ok := out["old_name"]; ok {
		t.Fatal("old_name should be gone after map")
	}
	if _, ok := out["source_port"]; ok {
		t.Fatal("source_port should be removed")
	}
	if out["tenant"] != "acme" {
		t.Fatalf("tenant = %v, want acme", out["tenant"])
	}
}

func TestApply_PipelineOrderSanitizeBeforeFlatten(t *testing.T) {
	v := envelope.Map(map[string]envelope.Value{
		"blob":  envelope.Bytes([]byte{9}),
		"value": envelope.Int(7),
	})
	env := &envelope.Envelope{MessageID: "m1"}
	*env = env.WithParsed(v)

	out, err := Apply(env, dto.TransformConfig{Sanitize: true, Flatten: true})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out["blob"]; ok {
		t.Fatal("blob should have been stripped before flatten promoted fields to root")
	}
	if _, ok := out["value"]; !ok {
		t.Fatal("value should be promoted to root by flatten")
	}
}
