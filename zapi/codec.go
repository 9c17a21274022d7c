package zapi

import (
	"encoding/binary"
	"io"

	"github.com/nttcom/pola/pkg/packet/pcep"
	"github.com/pkg/errors"
)

// New returns an empty message of type t.
func New(t pcep.TLVType) (Message, error) {
	switch t {
	case MsgHello:
		return &Hello{}, nil
	case MsgLocatorAdd:
		return &Locator{}, nil
	case MsgLocatorDelete:
		return &Locator{Delete: true}, nil
	case MsgFunctionAdd:
		return &Function{}, nil
	case MsgFunctionDelete:
		return &Function{Delete: true}, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "0x%04x", uint16(t))
}

// Decode parses one complete message from data.
func Decode(data []byte) (Message, error) {
	if len(data) < int(pcep.TLVHeaderLength) {
		return nil, errors.Wrap(ErrShortMessage, "header")
	}
	t := pcep.TLVType(binary.BigEndian.Uint16(data[0:2]))
	n := int(binary.BigEndian.Uint16(data[2:4]))
	body := data[pcep.TLVHeaderLength:]
	if len(body) < n {
		return nil, errors.Wrapf(ErrShortMessage, "body of 0x%04x", uint16(t))
	}
	m, err := New(t)
	if err != nil {
		return nil, err
	}
	if err := m.DecodeFromBytes(body[:n]); err != nil {
		return nil, err
	}
	return m, nil
}

// ReadMessage reads one message from r.
func ReadMessage(r io.Reader) (Message, error) {
	hdr := make([]byte, pcep.TLVHeaderLength)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[2:4]))
	buf := make([]byte, len(hdr)+n)
	copy(buf, hdr)
	if _, err := io.ReadFull(r, buf[len(hdr):]); err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return Decode(buf)
}

// WriteMessage writes m to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(m.Serialize())
	return err
}

// TypeName names a message type for logs.
func TypeName(t pcep.TLVType) string {
	switch t {
	case MsgHello:
		return "hello"
	case MsgLocatorAdd:
		return "locator-add"
	case MsgLocatorDelete:
		return "locator-delete"
	case MsgFunctionAdd:
		return "function-add"
	case MsgFunctionDelete:
		return "function-delete"
	}
	return "unknown"
}
