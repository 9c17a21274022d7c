package sid

import (
	"net/netip"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLocator(t *testing.T) {
	cases := []struct {
		name   string
		loc    string
		prefix string
		bits   uint8
		algo   uint8
		want   error
	}{
		{name: "ok", loc: "A", prefix: "2001:db8::/32", bits: 16},
		{name: "masked", loc: "B", prefix: "2001:db9::1/32", bits: 16},
		{name: "flex-algo", loc: "C", prefix: "fc00::/48", bits: 16, algo: 128},
		{name: "duplicate", loc: "A", prefix: "2001:dba::/32", bits: 16, want: ErrDuplicateName},
		{name: "empty-name", loc: "", prefix: "2001:dbb::/32", bits: 16, want: ErrInvalidLocator},
		{name: "long-name", loc: strings.Repeat("x", MaxNameLen+1), prefix: "2001:dbb::/32", bits: 16, want: ErrInvalidLocator},
		{name: "ipv4", loc: "D", prefix: "10.0.0.0/8", bits: 16, want: ErrInvalidLocator},
		{name: "ipv4-mapped", loc: "D", prefix: "::ffff:10.0.0.0/104", bits: 16, want: ErrInvalidLocator},
		{name: "bits-low", loc: "D", prefix: "2001:dbb::/32", bits: 7, want: ErrInvalidLocator},
		{name: "bits-high", loc: "D", prefix: "2001:dbb::/32", bits: 65, want: ErrInvalidLocator},
		{name: "too-long", loc: "D", prefix: "2001:dbb::/80", bits: 64, want: ErrInvalidLocator},
		{name: "standard-algo", loc: "D", prefix: "2001:dbb::/32", bits: 16, algo: 1, want: ErrInvalidLocator},
	}

	r := NewRegistry()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc, err := r.CreateLocator(tc.loc, mustPrefix(tc.prefix), tc.bits, tc.algo)
			if tc.want != nil {
				assert.True(t, errors.Is(err, tc.want), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, mustPrefix(tc.prefix).Masked(), loc.Prefix)
			assert.Zero(t, loc.Cursor)
		})
	}

	var names []string
	for _, loc := range r.Locators() {
		names = append(names, loc.Name)
	}
	assert.Equal(t, []string{"A", "B", "C"}, names)
}

func TestDeleteLocatorUnknown(t *testing.T) {
	r := NewRegistry()
	err := r.DeleteLocator("nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

type recorder struct {
	events []Event
}

func (r *recorder) OnRegistryEvent(ev Event) {
	r.events = append(r.events, ev)
}

func (r *recorder) kinds() []EventKind {
	var out []EventKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestObservers(t *testing.T) {
	r := NewRegistry()
	var first, second recorder
	r.Subscribe(&first)
	cancel := r.Subscribe(&second)

	_, err := r.CreateLocator("L", mustPrefix("2001:db8::/32"), 16, 0)
	require.NoError(t, err)
	// allocation does not notify
	_, err = r.Allocate("L", netip.Prefix{}, ownerX, 0)
	require.NoError(t, err)

	cancel()
	_, err = r.Release("L", mustPrefix("2001:db8:1::/48"))
	require.NoError(t, err)
	require.NoError(t, r.DeleteLocator("L"))

	assert.Equal(t, []EventKind{LocatorAdded, LocatorRemoved}, first.kinds())
	assert.Equal(t, []EventKind{LocatorAdded}, second.kinds())
	assert.Equal(t, "L", first.events[1].Locator.Name)

	// a failed create is silent
	_, err = r.CreateLocator("", mustPrefix("2001:db8::/32"), 16, 0)
	require.Error(t, err)
	assert.Len(t, first.events, 2)
}

func TestUpdateLocatorPrefix(t *testing.T) {
	r := NewRegistry()
	var rec recorder
	r.Subscribe(&rec)

	_, err := r.CreateLocator("L", mustPrefix("2001:db8::/32"), 16, 0)
	require.NoError(t, err)
	f1, err := r.Allocate("L", netip.Prefix{}, ownerX, 0)
	require.NoError(t, err)
	f2, err := r.Allocate("L", netip.Prefix{}, ownerY, 3)
	require.NoError(t, err)

	t.Run("same-prefix", func(t *testing.T) {
		loc, err := r.UpdateLocatorPrefix("L", mustPrefix("2001:db8::1/32"))
		require.NoError(t, err)
		assert.EqualValues(t, 2, loc.Cursor)
		fns, err := r.Functions("L")
		require.NoError(t, err)
		assert.Len(t, fns, 2)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := r.UpdateLocatorPrefix("L", mustPrefix("2001:db8::/120"))
		assert.True(t, errors.Is(err, ErrInvalidLocator))
		_, err = r.UpdateLocatorPrefix("M", mustPrefix("2001:db8::/32"))
		assert.True(t, errors.Is(err, ErrNotFound))
	})

	t.Run("moved", func(t *testing.T) {
		rec.events = nil
		loc, err := r.UpdateLocatorPrefix("L", mustPrefix("2001:db9::/32"))
		require.NoError(t, err)
		assert.Zero(t, loc.Cursor)
		assert.Equal(t, mustPrefix("2001:db9::/32"), loc.Prefix)

		want := []Event{
			{Kind: FunctionInvalidated, Locator: loc, Function: &f1},
			{Kind: FunctionInvalidated, Locator: loc, Function: &f2},
			{Kind: LocatorUpdated, Locator: loc},
		}
		if diff := cmp.Diff(want, rec.events, cmp.Comparer(func(a, b netip.Prefix) bool { return a == b })); diff != "" {
			t.Errorf("events (-want +got):\n%s", diff)
		}

		fns, err := r.Functions("L")
		require.NoError(t, err)
		assert.Empty(t, fns)

		fn, err := r.Allocate("L", netip.Prefix{}, ownerX, 0)
		require.NoError(t, err)
		assert.Equal(t, mustPrefix("2001:db9:1::/48"), fn.Prefix)
	})
}

func TestFindFunction(t *testing.T) {
	r := NewRegistry()
	_, err := r.CreateLocator("L", mustPrefix("2001:db8::/32"), 16, 0)
	require.NoError(t, err)
	fn, err := r.Allocate("L", netip.Prefix{}, ownerX, 0)
	require.NoError(t, err)

	got, err := r.FindFunction("L", fn.Prefix)
	require.NoError(t, err)
	assert.Equal(t, fn, got)

	_, err = r.FindFunction("L", mustPrefix("2001:db8:9::/48"))
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.FindFunction("M", fn.Prefix)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.Functions("M")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocatorContains(t *testing.T) {
	loc := Locator{Name: "L", Prefix: mustPrefix("2001:db8::/32"), FunctionBits: 16}
	assert.Equal(t, 48, loc.FunctionPrefixLen())
	assert.True(t, loc.Contains(mustPrefix("2001:db8:ffff::/48")))
	assert.False(t, loc.Contains(mustPrefix("2001:db8:ffff::/47")))
	assert.False(t, loc.Contains(netip.Prefix{}))
	assert.False(t, loc.Contains(mustPrefix("2001:db9::/48")))
	assert.False(t, loc.Contains(mustPrefix("2001:db8:1::1/48")), "unmasked")
	assert.True(t, loc.Contains(mustPrefix("2001:db8::/48")))
}

func TestIsZeroPrefix(t *testing.T) {
	assert.True(t, IsZeroPrefix(netip.Prefix{}))
	assert.True(t, IsZeroPrefix(mustPrefix("::/0")))
	assert.False(t, IsZeroPrefix(mustPrefix("::/128")))
	assert.False(t, IsZeroPrefix(mustPrefix("2001:db8::/48")))
}

func TestProtoFromWire(t *testing.T) {
	assert.Equal(t, ProtoISIS, ProtoFromWire(uint8(ProtoISIS)))
	assert.Equal(t, ProtoOther, ProtoFromWire(42))
	assert.Equal(t, "other", ProtoFromWire(42).String())
	assert.Equal(t, "isis[1]", ownerX.String())
}
