// Package config defines the gateway's configuration tree and the
// loader/watcher pair that turn a YAML file (plus environment overrides)
// into a validated Config.
package config

import "time"

// Config is the complete gateway configuration: the server/ambient
// settings plus every reference entity the core consumes through
// internal/dto (data sources, frame schemas, routing rules, target
// systems, encryption keys).
type Config struct {
	Server       ServerConfig         `yaml:"server"`
	Logging      LoggingConfig        `yaml:"logging"`
	Monitoring   MonitoringConfig     `yaml:"monitoring"`
	Encryption   EncryptionConfig     `yaml:"encryption"`
	Adapters     []AdapterConfig      `yaml:"adapters"`
	FrameSchemas []FrameSchemaConfig  `yaml:"frame_schemas"`
	RoutingRules []RoutingRuleConfig  `yaml:"routing_rules"`
	Targets      []TargetSystemConfig `yaml:"targets"`
}

// ServerConfig controls the gateway's own metrics HTTP surface (/healthz
// and /metrics) as distinct from the per-adapter ingress listeners.
type ServerConfig struct {
	MetricsAddress  string                `yaml:"metrics_address"`
	MetricsPort     int                   `yaml:"metrics_port"`
	ShutdownTimeout time.Duration         `yaml:"shutdown_timeout"`
	SecurityHeaders SecurityHeadersConfig `yaml:"security_headers"`
}

// LoggingConfig mirrors internal/logging.Config's shape so the loader can
// unmarshal straight into it.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Output     string `yaml:"output"` // "stdout", "stderr", or a file path
	MaxSize    int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	LocalTime  bool   `yaml:"local_time"`
}

// MonitoringConfig configures the Monitoring Service's message log
// persistence (Sink). RecentWindow, RecentBuckets, HistoryDuration and
// MessageIndexTTL are loaded but not passed to monitoring.New, which uses
// its own fixed 60s/60-bucket window, 24h history and 5m index TTL.
type MonitoringConfig struct {
	RecentWindow    time.Duration `yaml:"recent_window"`    // width of the rolling error-rate window (default 60s)
	RecentBuckets   int           `yaml:"recent_buckets"`   // number of buckets in the rolling window (default 60)
	HistoryDuration time.Duration `yaml:"history_duration"` // how long per-minute history is retained (default 24h)
	MessageIndexTTL time.Duration `yaml:"message_index_ttl"`
	Sink            SinkConfig    `yaml:"sink"`
}

// SinkConfig selects and configures the message-log LogSink.
type SinkConfig struct {
	Type           string `yaml:"type"` // "none", "postgres"
	PostgresDSN    string `yaml:"postgres_dsn"`
	FireAndForget  bool   `yaml:"fire_and_forget"`
}

// EncryptionConfig supplies the crypto.Service's base key material.
type EncryptionConfig struct {
	Enabled   bool   `yaml:"enabled"`
	MasterKey string `yaml:"master_key"` // passphrase; its bytes are SHA-256 stretched if under 32 bytes, else truncated to 32 (not base64-decoded)
}

// AdapterConfig is one configured ingress listener.
type AdapterConfig struct {
	Name          string `yaml:"name"`
	Protocol      string `yaml:"protocol"` // udp, tcp, http, websocket, mqtt
	DataSourceID  string `yaml:"data_source_id"`
	IsActive      bool   `yaml:"is_active"`
	ListenAddress string `yaml:"listen_address"`
	ListenPort    int    `yaml:"listen_port"`

	// HTTP/WebSocket
	Endpoint string `yaml:"endpoint"`
	Method   string `yaml:"method"`

	// MQTT
	BrokerAddress string   `yaml:"broker_address"`
	Topics        []string `yaml:"topics"`
	QoS           int      `yaml:"qos"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"`

	// TCP/UDP framing
	FrameSchemaID string `yaml:"frame_schema_id"` // empty = no auto-parse
	MaxConnections int   `yaml:"max_connections"`
	ReadBufferSize int   `yaml:"read_buffer_size"`
}

// FrameSchemaConfig matches dto.FrameSchema field-for-field; kept as a
// distinct YAML-facing type so the loader can default/validate before
// handing it to the frameschema package.
type FrameSchemaConfig struct {
	ID             string             `yaml:"id"`
	Name           string             `yaml:"name"`
	FrameType      string             `yaml:"frame_type"` // fixed, variable, delimited
	FixedLength    int                `yaml:"fixed_length"`
	LengthFieldOff int                `yaml:"length_field_offset"`
	LengthFieldLen int                `yaml:"length_field_length"`
	Delimiter      string             `yaml:"delimiter"`
	Fields         []FieldDefConfig   `yaml:"fields"`
	Checksum       *ChecksumConfig    `yaml:"checksum"`
}

// FieldDefConfig matches dto.FieldDef.
type FieldDefConfig struct {
	Name      string  `yaml:"name"`
	Offset    int     `yaml:"offset"`
	Length    int     `yaml:"length"`
	DataType  string  `yaml:"data_type"`
	ByteOrder string  `yaml:"byte_order"`
	Scale     float64 `yaml:"scale"`
	OffsetVal float64 `yaml:"offset_value"`
}

// ChecksumConfig matches dto.ChecksumConfig.
type ChecksumConfig struct {
	Type   string `yaml:"type"` // crc16, crc32, md5, sha256, simple_sum, none
	Offset int    `yaml:"offset"`
	Length int    `yaml:"length"`
}

// RoutingRuleConfig matches dto.RoutingRule.
type RoutingRuleConfig struct {
	ID              string                 `yaml:"id"`
	Name            string                 `yaml:"name"`
	Priority        int                    `yaml:"priority"`
	IsActive        bool                   `yaml:"is_active"`
	IsPublished     bool                   `yaml:"is_published"`
	Source          SourceConfigYAML       `yaml:"source"`
	Conditions      []RoutingConditionYAML `yaml:"conditions"`
	LogicalOperator string                 `yaml:"logical_operator"`
	Targets         []string               `yaml:"targets"`
}

// SourceConfigYAML matches dto.SourceConfig.
type SourceConfigYAML struct {
	Protocols     []string `yaml:"protocols"`
	DataSourceIDs []string `yaml:"data_source_ids"`
	SourcePattern string   `yaml:"source_pattern"`
}

// RoutingConditionYAML matches dto.RoutingCondition.
type RoutingConditionYAML struct {
	FieldPath string      `yaml:"field_path"`
	Operator  string      `yaml:"operator"`
	Value     interface{} `yaml:"value"`
}

// TargetSystemConfig matches dto.TargetSystem.
type TargetSystemConfig struct {
	ID        string               `yaml:"id"`
	Name      string               `yaml:"name"`
	Protocol  string               `yaml:"protocol"`
	Endpoint  string               `yaml:"endpoint"`
	Auth      AuthConfigYAML       `yaml:"auth"`
	Forwarder ForwarderConfigYAML  `yaml:"forwarder"`
	Transform TransformConfigYAML  `yaml:"transform"`
	IsActive  bool                 `yaml:"is_active"`
}

// AuthConfigYAML matches dto.AuthConfig.
type AuthConfigYAML struct {
	Type          string            `yaml:"type"` // none, basic, bearer, api_key, custom
	Username      string            `yaml:"username"`
	Password      string            `yaml:"password"`
	Token         string            `yaml:"token"`
	APIKeyHeader  string            `yaml:"api_key_header"`
	APIKeyValue   string            `yaml:"api_key_value"`
	BearerJWT     *BearerJWTYAML    `yaml:"bearer_jwt"`
	CustomHeaders map[string]string `yaml:"custom_headers"`
}

// BearerJWTYAML matches dto.BearerJWTConfig.
type BearerJWTYAML struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Subject  string        `yaml:"subject"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// ForwarderConfigYAML matches dto.ForwarderConfig.
type ForwarderConfigYAML struct {
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BatchSize         int           `yaml:"batch_size"`
	EncryptionEnabled bool          `yaml:"encryption_enabled"`
	Exchange          string        `yaml:"exchange"`
	RoutingKey        string        `yaml:"routing_key"`
	TopicTemplate     string        `yaml:"topic_template"`
	QoS               int           `yaml:"qos"`
}

// TransformConfigYAML matches dto.TransformConfig: sanitize -> flatten ->
// map -> remove -> add.
type TransformConfigYAML struct {
	Sanitize bool                   `yaml:"sanitize"`
	Flatten  bool                   `yaml:"flatten"`
	Map      []FieldMappingYAML     `yaml:"map"`
	Remove   []string               `yaml:"remove"`
	Add      map[string]interface{} `yaml:"add"`
}

// FieldMappingYAML matches dto.FieldMapping.
type FieldMappingYAML struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// SecurityHeadersConfig defines automatic security response headers for
// the gateway's own admin/HTTP-adapter responses.
type SecurityHeadersConfig struct {
	Enabled                 bool              `yaml:"enabled"`
	StrictTransportSecurity string            `yaml:"strict_transport_security"`
	ContentSecurityPolicy   string            `yaml:"content_security_policy"`
	XContentTypeOptions     string            `yaml:"x_content_type_options"`
	XFrameOptions           string            `yaml:"x_frame_options"`
	ReferrerPolicy          string            `yaml:"referrer_policy"`
	CustomHeaders           map[string]string `yaml:"custom_headers"`
}

// DefaultConfig returns the baseline configuration the loader unmarshals
// the YAML document on top of.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			MetricsAddress:  "0.0.0.0",
			MetricsPort:     9090,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Monitoring: MonitoringConfig{
			RecentWindow:    60 * time.Second,
			RecentBuckets:   60,
			HistoryDuration: 24 * time.Hour,
			MessageIndexTTL: 5 * time.Minute,
		},
	}
}
