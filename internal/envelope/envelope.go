package envelope

import "time"

// Protocol is the sealed set of ingress/egress wire protocols the gateway
// understands. It replaces class-based adapter/forwarder registration with
// a closed enum plus dispatch tables keyed on it.
type Protocol string

const (
	ProtocolUDP       Protocol = "UDP"
	ProtocolTCP       Protocol = "TCP"
	ProtocolHTTP      Protocol = "HTTP"
	ProtocolWebSocket Protocol = "WEBSOCKET"
	ProtocolMQTT      Protocol = "MQTT"
	ProtocolAMQP      Protocol = "AMQP"
)

// Envelope is the canonical unit of data moving through the gateway: one
// raw ingress frame (or batch member), its parse outcome, and the protocol
// metadata needed to route, transform, and forward it.
type Envelope struct {
	MessageID      string
	Timestamp      time.Time
	SourceProtocol Protocol
	DataSourceID   string

	SourceAddress string
	SourcePort    int

	RawData []byte

	// ParsedData and ParseError are mutually exclusive: a successfully
	// parsed frame has ParsedData set and ParseError nil; a frame that
	// failed FrameSchema decoding has ParseError set and ParsedData nil.
	ParsedData *Value
	ParseError *string

	AdapterName  string
	ConnectionID string
	Headers      map[string]string
	Topic        string
	QoS          int
}

// WithParsed returns a copy of the envelope carrying a successful parse
// result, clearing any previous parse error.
func (e Envelope) WithParsed(v Value) Envelope {
	e.ParsedData = &v
	e.ParseError = nil
	return e
}

// WithParseError returns a copy of the envelope recording a parse failure,
// clearing any previous parsed data.
func (e Envelope) WithParseError(msg string) Envelope {
	e.ParsedData = nil
	e.ParseError = &msg
	return e
}

// Field resolves a dotted path against the envelope. The synthetic root
// fields ("source_protocol", "data_source_id", "source_address",
// "source_port", "adapter_name", "topic") are resolved first so routing
// conditions can reference envelope metadata the same way they reference
// parsed_data.* fields; everything else is resolved against ParsedData
// wrapped under a synthetic "parsed_data" root.
func (e *Envelope) Field(path string) (Value, bool) {
	switch path {
	case "source_protocol":
		return String(string(e.SourceProtocol)), true
	case "data_source_id":
		return String(e.DataSourceID), true
	case "source_address":
		return String(e.SourceAddress), true
	case "source_port":
		return Int(int64(e.SourcePort)), true
	case "adapter_name":
		return String(e.AdapterName), true
	case "topic":
		return String(e.Topic), true
	}
	root := NewMap()
	if e.ParsedData != nil {
		root.Set("parsed_data", *e.ParsedData)
	}
	return root.Get(path)
}
