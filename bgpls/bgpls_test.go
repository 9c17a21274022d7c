package bgpls

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"srv6d/sid"
	"srv6d/zapi"
)

var (
	speaker = Speaker{ASN: DefaultASN, RouterID: netip.MustParseAddr("1.1.1.1")}
	remote  = netip.MustParseAddr("2.2.2.2")
	fn      = sid.Function{
		Locator: "L1",
		Prefix:  netip.MustParsePrefix("2001:db8:1::/48"),
		Owner:   sid.Owner{Proto: sid.ProtoISIS, Instance: 1},
	}
)

func checkUpdate(t *testing.T, data []byte) {
	t.Helper()
	require.Greater(t, len(data), 19)
	assert.Equal(t, bytes.Repeat([]byte{0xff}, 16), data[:16])
	assert.EqualValues(t, len(data), binary.BigEndian.Uint16(data[16:18]))
	// UPDATE
	assert.EqualValues(t, 2, data[18])
	assert.True(t, bytes.Contains(data, fn.Prefix.Addr().AsSlice()), "sid missing from update")
}

func TestEndXUpdate(t *testing.T) {
	msg, err := speaker.EndXUpdate(fn, remote, 128)
	require.NoError(t, err)
	data, err := msg.Serialize()
	require.NoError(t, err)
	checkUpdate(t, data)
}

func TestEndXUpdateNeedsIPv4(t *testing.T) {
	_, err := speaker.EndXUpdate(fn, netip.MustParseAddr("2001:db8::2"), 0)
	assert.True(t, errors.Is(err, ErrNotIPv4))

	bad := Speaker{ASN: DefaultASN}
	_, err = bad.EndXUpdate(fn, remote, 0)
	assert.True(t, errors.Is(err, ErrNotIPv4))
}

func TestExporter(t *testing.T) {
	var buf bytes.Buffer
	e := NewExporter(speaker, remote, &buf, zaptest.NewLogger(t))

	e.Handle(&zapi.Locator{Name: "L1", Prefix: netip.MustParsePrefix("2001:db8::/32"), FunctionBits: 16, Algorithm: 128})
	assert.Zero(t, buf.Len())

	e.Handle(zapi.FunctionFrom(fn, false))
	require.Equal(t, 1, e.Sent())
	checkUpdate(t, buf.Bytes())

	n := buf.Len()
	e.Handle(zapi.FunctionFrom(fn, true))
	e.Handle(&zapi.Hello{})
	assert.Equal(t, 1, e.Sent())
	assert.Equal(t, n, buf.Len())
}
