package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/wudi/protogate/internal/dto"
)

// Loader reads, expands, and validates gateway configuration files.
type Loader struct {
	envPattern *regexp.Regexp
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
	}
}

// Load reads and parses a configuration file.
func (l *Loader) Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return l.Parse(data)
}

// Parse parses configuration from YAML bytes: expand ${VAR} references,
// unmarshal on top of DefaultConfig, then validate.
func (l *Loader) Parse(data []byte) (*Config, error) {
	expanded := l.expandEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse YAML: %w", err)
	}
	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

var validProtocols = map[string]bool{
	"udp": true, "tcp": true, "http": true, "websocket": true, "mqtt": true, "amqp": true,
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Encryption.Enabled && cfg.Encryption.MasterKey == "" {
		return fmt.Errorf("encryption.enabled is true but encryption.master_key is empty")
	}

	seenAdapters := make(map[string]bool, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapter: name is required")
		}
		if seenAdapters[a.Name] {
			return fmt.Errorf("adapter %q: duplicate name", a.Name)
		}
		seenAdapters[a.Name] = true
		if !validProtocols[strings.ToLower(a.Protocol)] {
			return fmt.Errorf("adapter %q: unsupported protocol %q", a.Name, a.Protocol)
		}
	}

	seenSchemas := make(map[string]bool, len(cfg.FrameSchemas))
	for _, s := range cfg.FrameSchemas {
		if s.ID == "" {
			return fmt.Errorf("frame schema: id is required")
		}
		if seenSchemas[s.ID] {
			return fmt.Errorf("frame schema %q: duplicate id", s.ID)
		}
		seenSchemas[s.ID] = true
	}
	for _, a := range cfg.Adapters {
		if a.FrameSchemaID != "" && !seenSchemas[a.FrameSchemaID] {
			return fmt.Errorf("adapter %q: frame_schema_id %q not defined", a.Name, a.FrameSchemaID)
		}
	}

	seenTargets := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if t.ID == "" {
			return fmt.Errorf("target: id is required")
		}
		if seenTargets[t.ID] {
			return fmt.Errorf("target %q: duplicate id", t.ID)
		}
		seenTargets[t.ID] = true
		if !validProtocols[strings.ToLower(t.Protocol)] {
			return fmt.Errorf("target %q: unsupported protocol %q", t.ID, t.Protocol)
		}
	}

	for _, r := range cfg.RoutingRules {
		if r.ID == "" {
			return fmt.Errorf("routing rule: id is required")
		}
		for _, targetID := range r.Targets {
			if !seenTargets[targetID] {
				return fmt.Errorf("routing rule %q: target %q not defined", r.ID, targetID)
			}
		}
	}
	return nil
}

// ToFrameSchemaDTO converts a YAML-facing FrameSchemaConfig into the
// dto.FrameSchema the frameschema package consumes.
func ToFrameSchemaDTO(c FrameSchemaConfig) dto.FrameSchema {
	fields := make([]dto.FieldDef, len(c.Fields))
	for i, f := range c.Fields {
		fields[i] = dto.FieldDef{
			Name:      f.Name,
			Offset:    f.Offset,
			Length:    f.Length,
			DataType:  dto.FieldDataType(f.DataType),
			ByteOrder: dto.ByteOrder(f.ByteOrder),
			Scale:     f.Scale,
			OffsetVal: f.OffsetVal,
		}
	}
	var checksum *dto.ChecksumConfig
	if c.Checksum != nil {
		checksum = &dto.ChecksumConfig{
			Type:   dto.ChecksumType(c.Checksum.Type),
			Offset: c.Checksum.Offset,
			Length: c.Checksum.Length,
		}
	}
	return dto.FrameSchema{
		ID:             c.ID,
		Name:           c.Name,
		FrameType:      dto.FrameType(c.FrameType),
		FixedLength:    c.FixedLength,
		LengthFieldOff: c.LengthFieldOff,
		LengthFieldLen: c.LengthFieldLen,
		Delimiter:      []byte(c.Delimiter),
		Fields:         fields,
		Checksum:       checksum,
	}
}

// ToRoutingRuleDTO converts a YAML-facing RoutingRuleConfig into the
// dto.RoutingRule the routing engine consumes.
func ToRoutingRuleDTO(c RoutingRuleConfig) dto.RoutingRule {
	conditions := make([]dto.RoutingCondition, len(c.Conditions))
	for i, cond := range c.Conditions {
		conditions[i] = dto.RoutingCondition{
			FieldPath: cond.FieldPath,
			Operator:  dto.ConditionOperator(cond.Operator),
			Value:     cond.Value,
		}
	}
	return dto.RoutingRule{
		ID:          c.ID,
		Name:        c.Name,
		Priority:    c.Priority,
		IsActive:    c.IsActive,
		IsPublished: c.IsPublished,
		Source: dto.SourceConfig{
			Protocols:     c.Source.Protocols,
			DataSourceIDs: c.Source.DataSourceIDs,
			SourcePattern: c.Source.SourcePattern,
		},
		Conditions:      conditions,
		LogicalOperator: dto.LogicalOperator(c.LogicalOperator),
		Targets:         c.Targets,
	}
}

// ToTargetSystemDTO converts a YAML-facing TargetSystemConfig into the
// dto.TargetSystem the forwarder manager consumes.
func ToTargetSystemDTO(c TargetSystemConfig) dto.TargetSystem {
	var bearerJWT *dto.BearerJWTConfig
	if c.Auth.BearerJWT != nil {
		bearerJWT = &dto.BearerJWTConfig{
			Secret:   c.Auth.BearerJWT.Secret,
			Issuer:   c.Auth.BearerJWT.Issuer,
			Subject:  c.Auth.BearerJWT.Subject,
			Audience: c.Auth.BearerJWT.Audience,
			TTL:      c.Auth.BearerJWT.TTL,
		}
	}
	mapping := make([]dto.FieldMapping, len(c.Transform.Map))
	for i, m := range c.Transform.Map {
		mapping[i] = dto.FieldMapping{Src: m.Src, Dst: m.Dst}
	}
	return dto.TargetSystem{
		ID:       c.ID,
		Name:     c.Name,
		Protocol: c.Protocol,
		Endpoint: c.Endpoint,
		Auth: dto.AuthConfig{
			Type:          dto.AuthType(c.Auth.Type),
			Username:      c.Auth.Username,
			Password:      c.Auth.Password,
			Token:         c.Auth.Token,
			APIKeyHeader:  c.Auth.APIKeyHeader,
			APIKeyValue:   c.Auth.APIKeyValue,
			BearerJWT:     bearerJWT,
			CustomHeaders: c.Auth.CustomHeaders,
		},
		Forwarder: dto.ForwarderConfig{
			Timeout:           c.Forwarder.Timeout,
			RetryCount:        c.Forwarder.RetryCount,
			RetryDelay:        c.Forwarder.RetryDelay,
			BackoffMultiplier: c.Forwarder.BackoffMultiplier,
			BatchSize:         c.Forwarder.BatchSize,
			EncryptionEnabled: c.Forwarder.EncryptionEnabled,
			Exchange:          c.Forwarder.Exchange,
			RoutingKey:        c.Forwarder.RoutingKey,
			TopicTemplate:     c.Forwarder.TopicTemplate,
			QoS:               c.Forwarder.QoS,
		},
		Transform: dto.TransformConfig{
			Sanitize: c.Transform.Sanitize,
			Flatten:  c.Transform.Flatten,
			Map:      mapping,
			Remove:   c.Transform.Remove,
			Add:      c.Transform.Add,
		},
		IsActive: c.IsActive,
	}
}
