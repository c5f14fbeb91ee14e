// Package dto holds the externally-configured entities that drive the
// gateway: data sources, frame schemas, routing rules, target systems, and
// encryption keys. These mirror the administrative resources a deployment
// manages (typically via YAML config, hot-reloaded through fsnotify).
package dto

import "time"

// ByteOrder selects the endianness used to decode a fixed-width field.
type ByteOrder string

const (
	BigEndian    ByteOrder = "big"
	LittleEndian ByteOrder = "little"
)

// FieldDataType names the scalar type a FrameField decodes to.
type FieldDataType string

const (
	TypeInt8    FieldDataType = "int8"
	TypeUint8   FieldDataType = "uint8"
	TypeInt16   FieldDataType = "int16"
	TypeUint16  FieldDataType = "uint16"
	TypeInt32   FieldDataType = "int32"
	TypeUint32  FieldDataType = "uint32"
	TypeInt64   FieldDataType = "int64"
	TypeUint64  FieldDataType = "uint64"
	TypeFloat32 FieldDataType = "float32"
	TypeFloat64 FieldDataType = "float64"
	TypeString  FieldDataType = "string"
	TypeBytes   FieldDataType = "bytes"
)

// ChecksumType names a supported frame checksum algorithm.
type ChecksumType string

const (
	ChecksumNone      ChecksumType = ""
	ChecksumCRC16     ChecksumType = "crc16"
	ChecksumCRC32     ChecksumType = "crc32"
	ChecksumMD5       ChecksumType = "md5"
	ChecksumSHA256    ChecksumType = "sha256"
	ChecksumSimpleSum ChecksumType = "simple_sum"
)

// FrameType selects how a schema locates field boundaries within raw bytes.
type FrameType string

const (
	FrameFixed     FrameType = "fixed"
	FrameVariable  FrameType = "variable"
	FrameDelimited FrameType = "delimited"
)

// FieldDef describes one decoded field of a frame.
type FieldDef struct {
	Name      string        `yaml:"name"`
	Offset    int           `yaml:"offset"`
	Length    int           `yaml:"length"`
	DataType  FieldDataType `yaml:"data_type"`
	ByteOrder ByteOrder     `yaml:"byte_order"`
	Scale     float64       `yaml:"scale"`  // 0 treated as 1 (no scaling)
	OffsetVal float64       `yaml:"offset_value"`
}

// ChecksumConfig describes an optional trailing/leading checksum.
type ChecksumConfig struct {
	Type   ChecksumType `yaml:"type"`
	Offset int          `yaml:"offset"`
	Length int          `yaml:"length"`
}

// FrameSchema describes how to decode a raw ingress frame into fields.
type FrameSchema struct {
	ID             string         `yaml:"id"`
	Name           string         `yaml:"name"`
	FrameType      FrameType      `yaml:"frame_type"`
	FixedLength    int            `yaml:"fixed_length"`
	LengthFieldOff int            `yaml:"length_field_offset"`
	LengthFieldLen int            `yaml:"length_field_length"`
	Delimiter      []byte         `yaml:"delimiter"`
	Fields         []FieldDef     `yaml:"fields"`
	Checksum       *ChecksumConfig `yaml:"checksum"`
}

// ConditionOperator names a supported routing-condition comparison.
type ConditionOperator string

const (
	OpEQ         ConditionOperator = "eq"
	OpNEQ        ConditionOperator = "neq"
	OpGT         ConditionOperator = "gt"
	OpGTE        ConditionOperator = "gte"
	OpLT         ConditionOperator = "lt"
	OpLTE        ConditionOperator = "lte"
	OpIn         ConditionOperator = "in"
	OpNotIn      ConditionOperator = "not_in"
	OpContains   ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
)

// LogicalOperator combines a rule's conditions.
type LogicalOperator string

const (
	LogicalAND LogicalOperator = "and"
	LogicalOR  LogicalOperator = "or"
)

// RoutingCondition is a single field-path comparison evaluated against an
// envelope.
type RoutingCondition struct {
	FieldPath string            `yaml:"field_path"`
	Operator  ConditionOperator `yaml:"operator"`
	Value     interface{}       `yaml:"value"`
}

// SourceConfig narrows which envelopes a rule is even considered for.
type SourceConfig struct {
	Protocols      []string `yaml:"protocols"`       // empty = all protocols
	DataSourceIDs  []string `yaml:"data_source_ids"` // empty = all sources
	SourcePattern  string   `yaml:"source_pattern"`  // glob against data_source_id, empty = no filter
}

// RoutingRule selects target systems for envelopes matching its
// conditions. Rules are evaluated in descending Priority, ties broken by
// insertion order.
type RoutingRule struct {
	ID              string             `yaml:"id"`
	Name            string             `yaml:"name"`
	Priority        int                `yaml:"priority"`
	IsActive        bool               `yaml:"is_active"`
	IsPublished     bool               `yaml:"is_published"`
	Source          SourceConfig       `yaml:"source"`
	Conditions      []RoutingCondition `yaml:"conditions"`
	LogicalOperator LogicalOperator    `yaml:"logical_operator"`
	Targets         []string           `yaml:"targets"` // target system ids

	// MatchCount and LastMatchAt are runtime statistics, not
	// configuration: the routing engine increments/sets them on every
	// match and they are never read from or written to YAML.
	MatchCount  int64     `yaml:"-"`
	LastMatchAt time.Time `yaml:"-"`
}

// AuthType names a supported outbound authentication scheme.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
	AuthAPIKey AuthType = "api_key"
	AuthCustom AuthType = "custom"
)

// AuthConfig describes how a forwarder authenticates to its target.
type AuthConfig struct {
	Type         AuthType          `yaml:"type"`
	Username     string            `yaml:"username"`
	Password     string            `yaml:"password"`
	Token        string            `yaml:"token"`
	APIKeyHeader string            `yaml:"api_key_header"`
	APIKeyValue  string            `yaml:"api_key_value"`
	BearerJWT    *BearerJWTConfig  `yaml:"bearer_jwt"`
	CustomHeaders map[string]string `yaml:"custom_headers"`
}

// BearerJWTConfig signs a short-lived JWT per forward rather than sending
// a static bearer token.
type BearerJWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Subject  string        `yaml:"subject"`
	Audience string        `yaml:"audience"`
	TTL      time.Duration `yaml:"ttl"`
}

// ForwarderConfig holds per-target delivery policy.
type ForwarderConfig struct {
	Timeout           time.Duration `yaml:"timeout"`
	RetryCount        int           `yaml:"retry_count"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BatchSize         int           `yaml:"batch_size"`
	EncryptionEnabled bool          `yaml:"encryption_enabled"`

	// AMQP-specific, ignored by other protocols.
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`

	// MQTT-specific.
	TopicTemplate string `yaml:"topic_template"`
	QoS           int    `yaml:"qos"`
}

// TransformConfig describes the Transformer pipeline applied before
// forwarding (§4.5): sanitize -> flatten -> map -> remove -> add.
type TransformConfig struct {
	Sanitize bool              `yaml:"sanitize"`
	Flatten  bool              `yaml:"flatten"`
	Map      []FieldMapping    `yaml:"map"`
	Remove   []string          `yaml:"remove"`
	Add      map[string]interface{} `yaml:"add"`
}

// FieldMapping moves a value from Src to Dst, deleting Src.
type FieldMapping struct {
	Src string `yaml:"src"`
	Dst string `yaml:"dst"`
}

// TargetSystem is an egress destination a RoutingRule can forward to.
type TargetSystem struct {
	ID        string          `yaml:"id"`
	Name      string          `yaml:"name"`
	Protocol  string          `yaml:"protocol"` // http, tcp, udp, websocket, mqtt, amqp
	Endpoint  string          `yaml:"endpoint"`
	Auth      AuthConfig      `yaml:"auth"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Transform TransformConfig `yaml:"transform"`
	IsActive  bool            `yaml:"is_active"`
}

// EncryptionKey is administered key material for the crypto service. At
// most one key is ever active.
type EncryptionKey struct {
	ID        string    `yaml:"id"`
	Name      string    `yaml:"name"`
	KeyB64    string    `yaml:"key_base64"` // 32 raw bytes, base64-encoded
	IsActive  bool      `yaml:"is_active"`
	CreatedAt time.Time `yaml:"created_at"`
}

// DataSource identifies an upstream device/system an adapter ingests from.
type DataSource struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	Protocol       string `yaml:"protocol"`
	FrameSchemaID  string `yaml:"frame_schema_id"` // empty = no auto-parse
	IsActive       bool   `yaml:"is_active"`
}
