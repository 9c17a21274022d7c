package router

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"srv6d/affinity"
	"srv6d/flexalgo"
	"srv6d/lsdb"
	"srv6d/metrics"
	"srv6d/sid"
	"srv6d/spf"
	"srv6d/zapi"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	self = lsdb.MustParseSystemID("0000.0000.0001")
	peer = lsdb.MustParseSystemID("0000.0000.0002")
)

func algos(list ...uint8) [8]uint8 {
	var out [8]uint8
	for i := range out {
		out[i] = flexalgo.AlgorithmUnset
	}
	out[0] = flexalgo.AlgorithmSPF
	copy(out[1:], list)
	return out
}

func start(t *testing.T, opts Options) *Router {
	t.Helper()
	opts.SystemID = self
	opts.Logger = zaptest.NewLogger(t)
	r := New(opts)
	r.Start(context.Background())
	return r
}

func next(t *testing.T, r *Router) Regeneration {
	t.Helper()
	select {
	case regen, ok := <-r.Regenerations:
		require.True(t, ok, "regenerations closed")
		return regen
	case <-time.After(5 * time.Second):
		t.Fatal("no regeneration")
	}
	return Regeneration{}
}

func quiet(t *testing.T, r *Router) {
	t.Helper()
	select {
	case regen := <-r.Regenerations:
		t.Fatalf("unexpected regeneration %+v", regen)
	case <-time.After(50 * time.Millisecond):
	}
}

func priority(v uint8) *uint8 { return &v }

func do(t *testing.T, r *Router, fn func(*State) error) {
	t.Helper()
	require.NoError(t, r.Do(context.Background(), fn))
}

func TestRegenerations(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	r := start(t, Options{Metrics: m})
	defer func() { require.NoError(t, r.Stop()) }()

	do(t, r, func(s *State) error {
		_, err := s.AddArea("core", spf.IsLevel12, nil)
		return err
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos()}, next(t, r))

	do(t, r, func(s *State) error {
		return s.AddFlexAlgo("core", FlexAlgo{Algorithm: 128, Priority: priority(100)})
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos(128)}, next(t, r))

	// a remote definition nobody here can compute takes over
	r.Updates <- lsdb.Update{Area: "core", Op: lsdb.OpUpsert, Entry: &lsdb.Entry{
		SystemID: peer,
		Level:    spf.Level1,
		Cap: &lsdb.RouterCap{SRv6: true, FADs: []lsdb.FAD{
			{Algorithm: 128, Priority: 200, MetricType: 1},
		}},
	}}
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos()}, next(t, r))

	// same content again is not a change
	r.Updates <- lsdb.Update{Area: "core", Op: lsdb.OpUpsert, Entry: &lsdb.Entry{
		SystemID: peer,
		Level:    spf.Level1,
		Cap: &lsdb.RouterCap{SRv6: true, FADs: []lsdb.FAD{
			{Algorithm: 128, Priority: 200, MetricType: 1},
		}},
	}}
	quiet(t, r)

	r.Updates <- lsdb.Update{Area: "core", Op: lsdb.OpPurge, Entry: &lsdb.Entry{SystemID: peer, Level: spf.Level1}}
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos(128)}, next(t, r))

	var winner lsdb.SystemID
	do(t, r, func(s *State) error {
		a, err := s.Area("core")
		if err != nil {
			return err
		}
		p, ok := a.FlexAlgo.Lookup(128)
		if !ok {
			return errors.New("no record for 128")
		}
		winner = p.Winner
		return nil
	})
	assert.Equal(t, self, winner)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Participating.WithLabelValues("core")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Reconciles.WithLabelValues("core", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Reconciles.WithLabelValues("core", "false")))
}

func TestZeroPriority(t *testing.T) {
	r := start(t, Options{})
	defer func() { require.NoError(t, r.Stop()) }()

	do(t, r, func(s *State) error {
		if _, err := s.AddArea("core", spf.IsLevel2, nil); err != nil {
			return err
		}
		return s.AddFlexAlgo("core", FlexAlgo{Algorithm: 128, Priority: priority(0)})
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos(128)}, next(t, r))

	r.Updates <- lsdb.Update{Area: "core", Op: lsdb.OpUpsert, Entry: &lsdb.Entry{
		SystemID: lsdb.MustParseSystemID("0000.0000.0000"),
		Level:    spf.Level2,
		Cap: &lsdb.RouterCap{SRv6: true, FADs: []lsdb.FAD{
			{Algorithm: 128, Priority: 50},
		}},
	}}

	var p flexalgo.Participation
	require.Eventually(t, func() bool {
		err := r.Do(context.Background(), func(s *State) error {
			a, err := s.Area("core")
			if err != nil {
				return err
			}
			rec, ok := a.FlexAlgo.Lookup(128)
			if !ok {
				return errors.New("no record for 128")
			}
			p = *rec
			return nil
		})
		return err == nil && p.Priority == 50
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, lsdb.MustParseSystemID("0000.0000.0000"), p.Winner)
	assert.True(t, p.Participating)
}

func TestUnknownArea(t *testing.T) {
	r := start(t, Options{})
	defer func() { require.NoError(t, r.Stop()) }()

	r.Updates <- lsdb.Update{Area: "nope", Op: lsdb.OpPurge, Entry: &lsdb.Entry{SystemID: peer}}
	quiet(t, r)

	err := r.Do(context.Background(), func(s *State) error {
		return s.AddFlexAlgo("nope", FlexAlgo{Algorithm: 128})
	})
	assert.True(t, errors.Is(err, ErrAreaNotFound))
}

func TestAffinityInUse(t *testing.T) {
	r := start(t, Options{})
	defer func() { require.NoError(t, r.Stop()) }()

	do(t, r, func(s *State) error {
		if _, err := s.AddArea("core", spf.IsLevel2, nil); err != nil {
			return err
		}
		for name, pos := range map[string]int{"red": 1, "blue": 2, "green": 3} {
			if err := s.AddAffinityMap("core", name, pos); err != nil {
				return err
			}
		}
		if err := s.AddFlexAlgo("core", FlexAlgo{Algorithm: 129, Exclude: []string{"red"}}); err != nil {
			return err
		}
		return s.SetLinkAffinity("core", "eth0", []string{"blue"})
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos(129)}, next(t, r))

	do(t, r, func(s *State) error {
		assert.True(t, errors.Is(s.DeleteAffinityMap("core", "red"), ErrAffinityInUse))
		assert.True(t, errors.Is(s.DeleteAffinityMap("core", "blue"), ErrAffinityInUse))
		assert.NoError(t, s.DeleteAffinityMap("core", "green"))
		assert.True(t, errors.Is(s.DeleteAffinityMap("core", "green"), affinity.ErrNotFound))

		// unknown names reject the whole definition
		err := s.AddFlexAlgo("core", FlexAlgo{Algorithm: 130, IncludeAll: []string{"blue", "green"}})
		assert.True(t, errors.Is(err, affinity.ErrNameNotFound))
		_, err = s.areas["core"].FlexAlgo.Definition(130)
		assert.True(t, errors.Is(err, flexalgo.ErrNotFound))

		if err := s.SetLinkAffinity("core", "eth0", nil); err != nil {
			return err
		}
		if err := s.DeleteFlexAlgo("core", 129); err != nil {
			return err
		}
		assert.NoError(t, s.DeleteAffinityMap("core", "red"))
		assert.NoError(t, s.DeleteAffinityMap("core", "blue"))
		return nil
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos()}, next(t, r))
}

func TestLocatorMirror(t *testing.T) {
	r := start(t, Options{})
	defer func() { require.NoError(t, r.Stop()) }()

	do(t, r, func(s *State) error {
		_, err := s.AddArea("a", spf.IsLevel1, nil)
		if err != nil {
			return err
		}
		_, err = s.AddArea("b", spf.IsLevel2, nil)
		s.AddLocator("L1")
		return err
	})
	next(t, r)
	next(t, r)

	prefix := netip.MustParsePrefix("2001:db8::/32")
	r.HandleLocator(&zapi.Locator{Name: "L1", Prefix: prefix, FunctionBits: 16})
	assert.Equal(t, "a", next(t, r).Area)
	assert.Equal(t, "b", next(t, r).Area)

	// locators nobody mirrors do not regenerate
	r.HandleLocator(&zapi.Locator{Name: "L2", Prefix: netip.MustParsePrefix("fc00::/48"), FunctionBits: 16})
	r.HandleLocator(&zapi.Hello{})
	quiet(t, r)

	var loc sid.Locator
	do(t, r, func(s *State) error {
		loc, _ = s.Locators().Lookup("L1")
		return nil
	})
	assert.Equal(t, prefix, loc.Prefix)

	r.HandleLocator(&zapi.Locator{Delete: true, Name: "L1", Prefix: prefix})
	next(t, r)
	next(t, r)
	do(t, r, func(s *State) error {
		loc, _ = s.Locators().Lookup("L1")
		assert.True(t, errors.Is(s.DeleteLocator("L9"), ErrLocatorUnknown))
		return s.DeleteLocator("L1")
	})
	assert.False(t, loc.Prefix.IsValid())
	quiet(t, r)
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	r := start(t, Options{SnapshotDir: dir})
	do(t, r, func(s *State) error {
		_, err := s.AddArea("core", spf.IsLevel1, nil)
		return err
	})
	next(t, r)
	r.Updates <- lsdb.Update{Area: "core", Op: lsdb.OpUpsert, Entry: &lsdb.Entry{
		SystemID: peer,
		Level:    spf.Level1,
		Cap:      &lsdb.RouterCap{SRv6: true, FADs: []lsdb.FAD{{Algorithm: 140, Priority: 10}}},
	}}
	assert.Equal(t, algos(140), next(t, r).Algorithms)
	require.NoError(t, r.Stop())
	_, ok := <-r.Regenerations
	assert.False(t, ok)

	r = start(t, Options{SnapshotDir: dir})
	defer func() { require.NoError(t, r.Stop()) }()
	do(t, r, func(s *State) error {
		_, err := s.AddArea("core", spf.IsLevel1, nil)
		return err
	})
	assert.Equal(t, Regeneration{Area: "core", Algorithms: algos(140)}, next(t, r))
}

func TestDoAfterStop(t *testing.T) {
	r := start(t, Options{})
	require.NoError(t, r.Stop())
	err := r.Do(context.Background(), func(*State) error { return nil })
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestBeforeStart(t *testing.T) {
	r := New(Options{SystemID: self, Logger: zaptest.NewLogger(t)})
	assert.NotPanics(t, func() {
		r.HandleLocator(&zapi.Locator{Name: "L1", Prefix: netip.MustParsePrefix("2001:db8::/32"), FunctionBits: 16})
	})
	assert.NoError(t, r.Stop())
}
