package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
encryption:
  enabled: true
  master_key: ${TEST_MASTER_KEY}
adapters:
  - name: sensors-udp
    protocol: udp
    data_source_id: ds1
    is_active: true
    listen_address: 0.0.0.0
    listen_port: 9100
frame_schemas:
  - id: schema1
    frame_type: fixed
    fixed_length: 4
    fields:
      - name: value
        offset: 0
        length: 4
        data_type: float32
targets:
  - id: t1
    protocol: http
    endpoint: http://localhost:8080/ingest
    is_active: true
    forwarder:
      timeout: 5s
      retry_count: 3
routing_rules:
  - id: r1
    priority: 10
    is_active: true
    is_published: true
    targets: [t1]
`

func TestLoader_ParseExpandsEnvAndValidates(t *testing.T) {
	os.Setenv("TEST_MASTER_KEY", "supersecretkeysupersecretkey1234")
	defer os.Unsetenv("TEST_MASTER_KEY")

	l := NewLoader()
	cfg, err := l.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Encryption.MasterKey != "supersecretkeysupersecretkey1234" {
		t.Errorf("master key = %q, want expanded env value", cfg.Encryption.MasterKey)
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0].Name != "sensors-udp" {
		t.Fatalf("adapters = %+v", cfg.Adapters)
	}
	if cfg.Targets[0].Forwarder.Timeout != 5*time.Second {
		t.Errorf("target timeout = %v, want 5s", cfg.Targets[0].Forwarder.Timeout)
	}
	// Defaults carried from DefaultConfig should survive where the YAML
	// doesn't override them.
	if cfg.Server.MetricsPort != 9090 {
		t.Errorf("MetricsPort = %d, want default 9090", cfg.Server.MetricsPort)
	}
}

func TestLoader_Load_ReadsFromDisk(t *testing.T) {
	os.Setenv("TEST_MASTER_KEY", "supersecretkeysupersecretkey1234")
	defer os.Unsetenv("TEST_MASTER_KEY")

	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader()
	cfg, err := l.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Targets) != 1 {
		t.Fatalf("targets = %+v", cfg.Targets)
	}
}

func TestLoader_Validate_RejectsEncryptionEnabledWithoutKey(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte("encryption:\n  enabled: true\n"))
	if err == nil {
		t.Fatal("expected a validation error for encryption enabled without a master key")
	}
}

func TestLoader_Validate_RejectsUnknownAdapterProtocol(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte("adapters:\n  - name: a1\n    protocol: carrier_pigeon\n"))
	if err == nil {
		t.Fatal("expected a validation error for an unsupported adapter protocol")
	}
}

func TestLoader_Validate_RejectsRoutingRuleWithUnknownTarget(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte("routing_rules:\n  - id: r1\n    targets: [missing]\n"))
	if err == nil {
		t.Fatal("expected a validation error for a routing rule referencing an undefined target")
	}
}

func TestLoader_Validate_RejectsDuplicateAdapterName(t *testing.T) {
	l := NewLoader()
	_, err := l.Parse([]byte("adapters:\n  - name: a1\n    protocol: tcp\n  - name: a1\n    protocol: udp\n"))
	if err == nil {
		t.Fatal("expected a validation error for duplicate adapter names")
	}
}

func TestToFrameSchemaDTO_ConvertsFields(t *testing.T) {
	c := FrameSchemaConfig{
		ID:        "s1",
		FrameType: "fixed",
		Fields: []FieldDefConfig{
			{Name: "v", Offset: 0, Length: 2, DataType: "uint16", ByteOrder: "big"},
		},
	}
	d := ToFrameSchemaDTO(c)
	if d.ID != "s1" || len(d.Fields) != 1 || d.Fields[0].Name != "v" {
		t.Errorf("ToFrameSchemaDTO = %+v", d)
	}
}

func TestToTargetSystemDTO_ConvertsAuthAndTransform(t *testing.T) {
	c := TargetSystemConfig{
		ID:       "t1",
		Protocol: "http",
		Auth:     AuthConfigYAML{Type: "bearer", Token: "abc"},
		Transform: TransformConfigYAML{
			Flatten: true,
			Map:     []FieldMappingYAML{{Src: "a", Dst: "b"}},
		},
	}
	d := ToTargetSystemDTO(c)
	if d.Auth.Token != "abc" || !d.Transform.Flatten || len(d.Transform.Map) != 1 {
		t.Errorf("ToTargetSystemDTO = %+v", d)
	}
}
