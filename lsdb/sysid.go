package lsdb

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// SystemIDLen is the length of an IS-IS system identifier.
const SystemIDLen = 6

var ErrInvalidSystemID = errors.New("invalid system id")

// SystemID identifies an IS-IS router.
type SystemID [SystemIDLen]byte

// ParseSystemID parses the dotted form "xxxx.xxxx.xxxx".
func ParseSystemID(s string) (SystemID, error) {
	var id SystemID
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return id, errors.Wrapf(ErrInvalidSystemID, "%q", s)
	}
	for i, p := range parts {
		if len(p) != 4 {
			return id, errors.Wrapf(ErrInvalidSystemID, "%q", s)
		}
		if _, err := hex.Decode(id[i*2:i*2+2], []byte(p)); err != nil {
			return id, errors.Wrapf(ErrInvalidSystemID, "%q: %v", s, err)
		}
	}
	return id, nil
}

// MustParseSystemID is ParseSystemID for constants.
func MustParseSystemID(s string) SystemID {
	id, err := ParseSystemID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id SystemID) String() string {
	return fmt.Sprintf("%02x%02x.%02x%02x.%02x%02x", id[0], id[1], id[2], id[3], id[4], id[5])
}

// Compare orders system ids bytewise.
func (id SystemID) Compare(o SystemID) int {
	return bytes.Compare(id[:], o[:])
}

func (id SystemID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *SystemID) UnmarshalText(b []byte) error {
	v, err := ParseSystemID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}
