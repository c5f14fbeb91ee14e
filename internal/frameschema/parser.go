// Package frameschema decodes raw ingress bytes into a Value tree
// according to a dto.FrameSchema: fixed, variable (length-prefixed), or
// delimited framing, with optional checksum verification.
package frameschema

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"

	"github.com/wudi/protogate/internal/dto"
	"github.com/wudi/protogate/internal/envelope"
)

// Parser decodes raw frames against a single FrameSchema.
type Parser struct {
	schema dto.FrameSchema
}

func New(schema dto.FrameSchema) *Parser {
	return &Parser{schema: schema}
}

// Parse decodes one frame's worth of bytes. For FrameVariable/FrameDelimited
// schemas, Parse assumes the caller has already isolated one frame's bytes
// (the adapter is responsible for splitting a byte stream into frames
// before invoking Parse — see Splitter).
func (p *Parser) Parse(raw []byte) (envelope.Value, error) {
	if p.schema.Checksum != nil && p.schema.Checksum.Type != dto.ChecksumNone {
		if err := p.verifyChecksum(raw); err != nil {
			return envelope.Null(), err
		}
	}

	fields := make(map[string]envelope.Value, len(p.schema.Fields))
	for _, f := range p.schema.Fields {
		if f.Offset < 0 || f.Offset+f.Length > len(raw) {
			return envelope.Null(), fmt.Errorf("frameschema: field %q out of bounds (offset=%d length=%d frame_len=%d)", f.Name, f.Offset, f.Length, len(raw))
		}
		v, err := decodeField(raw[f.Offset:f.Offset+f.Length], f)
		if err != nil {
			return envelope.Null(), fmt.Errorf("frameschema: field %q: %w", f.Name, err)
		}
		fields[f.Name] = v
	}
	return envelope.Map(fields), nil
}

func decodeField(b []byte, f dto.FieldDef) (envelope.Value, error) {
	order := binary.ByteOrder(binary.BigEndian)
	if f.ByteOrder == dto.LittleEndian {
		order = binary.LittleEndian
	}

	scale := f.Scale
	if scale == 0 {
		scale = 1
	}

	switch f.DataType {
	case dto.TypeInt8:
		if len(b) != 1 {
			return envelope.Null(), fmt.Errorf("int8 requires length 1, got %d", len(b))
		}
		return scaledInt(int64(int8(b[0])), scale, f.OffsetVal), nil
	case dto.TypeUint8:
		if len(b) != 1 {
			return envelope.Null(), fmt.Errorf("uint8 requires length 1, got %d", len(b))
		}
		return scaledInt(int64(b[0]), scale, f.OffsetVal), nil
	case dto.TypeInt16:
		if len(b) != 2 {
			return envelope.Null(), fmt.Errorf("int16 requires length 2, got %d", len(b))
		}
		return scaledInt(int64(int16(order.Uint16(b))), scale, f.OffsetVal), nil
	case dto.TypeUint16:
		if len(b) != 2 {
			return envelope.Null(), fmt.Errorf("uint16 requires length 2, got %d", len(b))
		}
		return scaledInt(int64(order.Uint16(b)), scale, f.OffsetVal), nil
	case dto.TypeInt32:
		if len(b) != 4 {
			return envelope.Null(), fmt.Errorf("int32 requires length 4, got %d", len(b))
		}
		return scaledInt(int64(int32(order.Uint32(b))), scale, f.OffsetVal), nil
	case dto.TypeUint32:
		if len(b) != 4 {
			return envelope.Null(), fmt.Errorf("uint32 requires length 4, got %d", len(b))
		}
		return scaledInt(int64(order.Uint32(b)), scale, f.OffsetVal), nil
	case dto.TypeInt64:
		if len(b) != 8 {
			return envelope.Null(), fmt.Errorf("int64 requires length 8, got %d", len(b))
		}
		return scaledInt(int64(order.Uint64(b)), scale, f.OffsetVal), nil
	case dto.TypeUint64:
		if len(b) != 8 {
			return envelope.Null(), fmt.Errorf("uint64 requires length 8, got %d", len(b))
		}
		return scaledFloat(float64(order.Uint64(b)), scale, f.OffsetVal), nil
	case dto.TypeFloat32:
		if len(b) != 4 {
			return envelope.Null(), fmt.Errorf("float32 requires length 4, got %d", len(b))
		}
		bits := order.Uint32(b)
		return scaledFloat(float64(math.Float32frombits(bits)), scale, f.OffsetVal), nil
	case dto.TypeFloat64:
		if len(b) != 8 {
			return envelope.Null(), fmt.Errorf("float64 requires length 8, got %d", len(b))
		}
		bits := order.Uint64(b)
		return scaledFloat(math.Float64frombits(bits), scale, f.OffsetVal), nil
	case dto.TypeString:
		return envelope.String(string(b)), nil
	case dto.TypeBytes:
		out := make([]byte, len(b))
		copy(out, b)
		return envelope.Bytes(out), nil
	default:
		return envelope.Null(), fmt.Errorf("unsupported data_type %q", f.DataType)
	}
}

func scaledInt(raw int64, scale, offset float64) envelope.Value {
	if scale == 1 && offset == 0 {
		return envelope.Int(raw)
	}
	return envelope.Float(float64(raw)*scale + offset)
}

func scaledFloat(raw, scale, offset float64) envelope.Value {
	return envelope.Float(raw*scale + offset)
}

func (p *Parser) verifyChecksum(raw []byte) error {
	c := p.schema.Checksum
	if c.Offset < 0 || c.Offset+c.Length > len(raw) {
		return fmt.Errorf("frameschema: checksum field out of bounds")
	}
	given := raw[c.Offset : c.Offset+c.Length]
	payload := raw[:c.Offset]

	var computed []byte
	switch c.Type {
	case dto.ChecksumCRC16:
		computed = crc16(payload)
	case dto.ChecksumCRC32:
		sum := crc32.ChecksumIEEE(payload)
		computed = []byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)}
	case dto.ChecksumMD5:
		sum := md5.Sum(payload)
		computed = sum[:]
	case dto.ChecksumSHA256:
		sum := sha256.Sum256(payload)
		computed = sum[:]
	case dto.ChecksumSimpleSum:
		var s byte
		for _, b := range payload {
			s += b
		}
		computed = []byte{s}
	default:
		return nil
	}
	if len(computed) >= len(given) {
		computed = computed[len(computed)-len(given):]
	}
	for i := range given {
		if given[i] != computed[i] {
			return fmt.Errorf("frameschema: checksum mismatch")
		}
	}
	return nil
}

// crc16 implements CRC-16/MODBUS, which has no stdlib implementation.
func crc16(data []byte) []byte {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return []byte{byte(crc), byte(crc >> 8)}
}
