package router

import (
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"srv6d/affinity"
	"srv6d/flexalgo"
	"srv6d/lsdb"
	"srv6d/metrics"
	"srv6d/sid"
	"srv6d/spf"
)

var (
	ErrAreaNotFound   = errors.New("area not found")
	ErrDuplicateArea  = errors.New("area already exists")
	ErrAffinityInUse  = errors.New("affinity map in use")
	ErrLocatorUnknown = errors.New("locator not mirrored")
)

// Area is one IS-IS area instance.
type Area struct {
	Name     string
	IsType   spf.IsType
	Affinity *affinity.Registry
	FlexAlgo *flexalgo.Arbitrator
	DB       *lsdb.DB
}

// FlexAlgo is a Flex-Algorithm definition with its constraints given as
// affinity names. A nil Priority means flexalgo.DefaultPriority.
type FlexAlgo struct {
	Algorithm  uint8
	Exclude    []string
	IncludeAny []string
	IncludeAll []string
	Priority   *uint8
	UseFAPM    bool
}

// State is the router state owned by the loop goroutine. It is only
// reachable through Router.Do.
type State struct {
	sysID    lsdb.SystemID
	policy   affinity.NamePolicy
	pool     *spf.Pool
	areas    map[string]*Area
	locators *sid.Mirror
	metrics  *metrics.Metrics
	log      *zap.Logger
	dir      string

	dirty map[string]bool
}

func newState(opts Options, logger *zap.Logger) *State {
	return &State{
		sysID:    opts.SystemID,
		policy:   opts.NamePolicy,
		metrics:  opts.Metrics,
		log:      logger,
		dir:      opts.SnapshotDir,
		pool:     spf.NewPool(),
		areas:    make(map[string]*Area),
		locators: sid.NewMirror(),
		dirty:    make(map[string]bool),
	}
}

func (s *State) SystemID() lsdb.SystemID {
	return s.sysID
}

// Pool is the SPF tree pool shared by every area.
func (s *State) Pool() *spf.Pool {
	return s.pool
}

// AddArea creates an area. A nil db starts from the area's snapshot, or
// empty when there is none.
func (s *State) AddArea(name string, isType spf.IsType, db *lsdb.DB) (*Area, error) {
	if _, ok := s.areas[name]; ok {
		return nil, errors.Wrapf(ErrDuplicateArea, "%q", name)
	}
	if db == nil {
		db = s.restore(name)
	}
	a := &Area{
		Name:     name,
		IsType:   isType,
		Affinity: affinity.NewRegistry(s.policy),
		FlexAlgo: flexalgo.New(s.sysID, isType, s.pool, db),
		DB:       db,
	}
	s.areas[name] = a
	s.reconciled(a, a.FlexAlgo.Reconcile())
	s.dirty[name] = true
	return a, nil
}

func (s *State) restore(area string) *lsdb.DB {
	if s.dir == "" {
		return lsdb.New()
	}
	db, err := lsdb.Load(snapshotFile(s.dir, area))
	if err != nil {
		if !os.IsNotExist(errors.Cause(err)) {
			s.log.Warn("lsdb snapshot ignored", zap.String("area", area), zap.Error(err))
		}
		return lsdb.New()
	}
	s.log.Info("lsdb snapshot loaded", zap.String("area", area), zap.Int("entries", len(db.Entries())))
	return db
}

// DeleteArea removes an area and releases its trees.
func (s *State) DeleteArea(name string) error {
	a, err := s.Area(name)
	if err != nil {
		return err
	}
	a.FlexAlgo.Close()
	delete(s.areas, name)
	delete(s.dirty, name)
	return nil
}

func (s *State) Area(name string) (*Area, error) {
	a, ok := s.areas[name]
	if !ok {
		return nil, errors.Wrapf(ErrAreaNotFound, "%q", name)
	}
	return a, nil
}

// Areas returns the areas ordered by name.
func (s *State) Areas() []*Area {
	out := make([]*Area, 0, len(s.areas))
	for _, a := range s.areas {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *State) AddAffinityMap(area, name string, position int) error {
	a, err := s.Area(area)
	if err != nil {
		return err
	}
	_, err = a.Affinity.Add(name, position)
	return err
}

// DeleteAffinityMap removes an affinity map unless a definition or a link
// of the area still uses its bit.
func (s *State) DeleteAffinityMap(area, name string) error {
	a, err := s.Area(area)
	if err != nil {
		return err
	}
	if a.Affinity.NameInUse(name, a.FlexAlgo, a.DB) {
		return errors.Wrapf(ErrAffinityInUse, "%q", name)
	}
	return a.Affinity.Delete(name)
}

// AddFlexAlgo resolves the affinity names of fa and installs the
// definition.
func (s *State) AddFlexAlgo(area string, fa FlexAlgo) error {
	a, err := s.Area(area)
	if err != nil {
		return err
	}
	d := flexalgo.NewDefinition(fa.Algorithm)
	if fa.Priority != nil {
		d.Priority = *fa.Priority
	}
	d.UseFAPM = fa.UseFAPM
	for _, c := range []struct {
		names []string
		set   *affinity.Set
	}{
		{fa.Exclude, &d.Exclude},
		{fa.IncludeAny, &d.IncludeAny},
		{fa.IncludeAll, &d.IncludeAll},
	} {
		if *c.set, err = a.Affinity.Parse(strings.Join(c.names, ",")); err != nil {
			return errors.Wrapf(err, "flex-algo %d", fa.Algorithm)
		}
	}
	changed, err := a.FlexAlgo.AddDefinition(d)
	if err != nil {
		return err
	}
	s.reconciled(a, changed)
	return nil
}

func (s *State) DeleteFlexAlgo(area string, algorithm uint8) error {
	a, err := s.Area(area)
	if err != nil {
		return err
	}
	changed, err := a.FlexAlgo.DeleteDefinition(algorithm)
	if err != nil {
		return err
	}
	s.reconciled(a, changed)
	return nil
}

// SetLinkAffinity sets the affinity names of a link. An empty list clears
// the link. Trees computed over the old constraints go stale.
func (s *State) SetLinkAffinity(area, link string, names []string) error {
	a, err := s.Area(area)
	if err != nil {
		return err
	}
	set, err := a.Affinity.Parse(strings.Join(names, ","))
	if err != nil {
		return errors.Wrapf(err, "link %s", link)
	}
	var changed bool
	if len(names) == 0 {
		changed = a.DB.DeleteLink(link)
	} else {
		changed = a.DB.SetLink(&lsdb.Link{Name: link, Affinity: set})
	}
	if changed {
		s.pool.MarkStale()
	}
	return nil
}

// Locators is the mirror of the locators the SID manager announced.
func (s *State) Locators() *sid.Mirror {
	return s.locators
}

// AddLocator starts advertising the named locator once it is announced.
func (s *State) AddLocator(name string) {
	if s.locators.Add(name) {
		s.markAll()
	}
}

func (s *State) DeleteLocator(name string) error {
	if _, ok := s.locators.Lookup(name); !ok {
		return errors.Wrapf(ErrLocatorUnknown, "%q", name)
	}
	if s.locators.Delete(name) {
		s.markAll()
	}
	return nil
}

func (s *State) announce(loc sid.Locator) {
	if s.locators.Announce(loc) {
		s.markAll()
	}
}

func (s *State) withdraw(name string) {
	if s.locators.Withdraw(name) {
		s.markAll()
	}
}

// apply hands a database update to its area and reconciles on change.
func (s *State) apply(u lsdb.Update) (bool, error) {
	a, err := s.Area(u.Area)
	if err != nil {
		return false, err
	}
	if !a.DB.Apply(u) {
		return false, nil
	}
	if u.Op == lsdb.OpLinkSet || u.Op == lsdb.OpLinkDelete {
		s.pool.MarkStale()
		return false, nil
	}
	changed := a.FlexAlgo.Reconcile()
	s.reconciled(a, changed)
	return changed, nil
}

func (s *State) reconciled(a *Area, changed bool) {
	n := 0
	for _, p := range a.FlexAlgo.Participations() {
		if p.Participating {
			n++
		}
	}
	s.metrics.Reconcile(a.Name, changed, n)
	if changed {
		s.dirty[a.Name] = true
	}
}

func (s *State) markAll() {
	for name := range s.areas {
		s.dirty[name] = true
	}
}

// flush returns a regeneration for every area changed since the last
// flush, ordered by area name.
func (s *State) flush() []Regeneration {
	var out []Regeneration
	for name := range s.dirty {
		a, ok := s.areas[name]
		if !ok {
			continue
		}
		out = append(out, Regeneration{Area: name, Algorithms: a.FlexAlgo.AlgorithmList()})
	}
	s.dirty = make(map[string]bool)
	sort.Slice(out, func(i, j int) bool { return out[i].Area < out[j].Area })
	return out
}

func (s *State) close() {
	for _, a := range s.areas {
		a.FlexAlgo.Close()
	}
}
