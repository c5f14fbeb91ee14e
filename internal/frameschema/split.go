package frameschema

import (
	"bytes"
	"encoding/binary"

	"github.com/wudi/protogate/internal/dto"
)

// Splitter extracts whole frames from a growing byte buffer (as bytes
// arrive over a TCP stream) according to a schema's framing strategy.
type Splitter struct {
	schema dto.FrameSchema
	buf    []byte
}

func NewSplitter(schema dto.FrameSchema) *Splitter {
	return &Splitter{schema: schema}
}

// Feed appends newly-read bytes to the internal buffer.
func (s *Splitter) Feed(b []byte) {
	s.buf = append(s.buf, b...)
}

// Next extracts the next complete frame from the buffer, if one is
// present. It returns ok=false when more bytes are needed.
func (s *Splitter) Next() (frame []byte, ok bool) {
	switch s.schema.FrameType {
	case dto.FrameFixed:
		return s.nextFixed()
	case dto.FrameVariable:
		return s.nextVariable()
	case dto.FrameDelimited:
		return s.nextDelimited()
	default:
		// No framing configured: treat the whole buffer as one frame.
		if len(s.buf) == 0 {
			return nil, false
		}
		frame, s.buf = s.buf, nil
		return frame, true
	}
}

func (s *Splitter) nextFixed() ([]byte, bool) {
	n := s.schema.FixedLength
	if n <= 0 || len(s.buf) < n {
		return nil, false
	}
	frame := s.buf[:n]
	s.buf = s.buf[n:]
	return frame, true
}

func (s *Splitter) nextVariable() ([]byte, bool) {
	off, l := s.schema.LengthFieldOff, s.schema.LengthFieldLen
	if l <= 0 || l > 8 {
		return nil, false
	}
	if len(s.buf) < off+l {
		return nil, false
	}
	var bodyLen uint64
	switch l {
	case 1:
		bodyLen = uint64(s.buf[off])
	case 2:
		bodyLen = uint64(binary.BigEndian.Uint16(s.buf[off : off+2]))
	case 4:
		bodyLen = uint64(binary.BigEndian.Uint32(s.buf[off : off+4]))
	default:
		bodyLen = binary.BigEndian.Uint64(s.buf[off : off+l])
	}
	total := off + l + int(bodyLen)
	if len(s.buf) < total {
		return nil, false
	}
	frame := s.buf[:total]
	s.buf = s.buf[total:]
	return frame, true
}

func (s *Splitter) nextDelimited() ([]byte, bool) {
	if len(s.schema.Delimiter) == 0 {
		return nil, false
	}
	idx := bytes.Index(s.buf, s.schema.Delimiter)
	if idx < 0 {
		return nil, false
	}
	frame := s.buf[:idx]
	s.buf = s.buf[idx+len(s.schema.Delimiter):]
	return frame, true
}
