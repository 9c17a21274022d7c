package flexalgo

import (
	"sort"

	"srv6d/affinity"
	"srv6d/lsdb"
	"srv6d/spf"
)

// Database is the link-state view the arbitrator reads remote definitions
// from.
type Database interface {
	ForEachRemote(fn func(*lsdb.Entry))
}

// State is the lifecycle of an algorithm number in an area.
type State uint8

const (
	Absent State = iota
	// Provisional means a record exists but the area does not compute
	// paths for the algorithm.
	Provisional
	Active
)

func (s State) String() string {
	switch s {
	case Provisional:
		return "provisional"
	case Active:
		return "active"
	}
	return "absent"
}

// Participation is the elected definition of one algorithm.
type Participation struct {
	Algorithm     uint8         `json:"algorithm"`
	Exclude       affinity.Set  `json:"exclude"`
	IncludeAny    affinity.Set  `json:"includeAny"`
	IncludeAll    affinity.Set  `json:"includeAll"`
	Priority      uint8         `json:"priority"`
	UseFAPM       bool          `json:"useFapm"`
	Winner        lsdb.SystemID `json:"winner"`
	Participating bool          `json:"participating"`

	trees []*spf.Tree
	seen  uint64
}

// Trees returns the SPF trees owned by the record, one per level.
func (p *Participation) Trees() []*spf.Tree {
	return p.trees
}

type candidate struct {
	algorithm  uint8
	exclude    affinity.Set
	includeAny affinity.Set
	includeAll affinity.Set
	priority   uint8
	useFAPM    bool
	id         lsdb.SystemID
	supported  bool
}

// beats is the election rule: higher priority wins, then the greater
// system id.
func (c *candidate) beats(p *Participation) bool {
	if c.priority != p.Priority {
		return c.priority > p.Priority
	}
	return c.id.Compare(p.Winner) > 0
}

func (p *Participation) adopt(c *candidate) {
	p.Exclude = c.exclude
	p.IncludeAny = c.includeAny
	p.IncludeAll = c.includeAll
	p.Priority = c.priority
	p.UseFAPM = c.useFAPM
	p.Winner = c.id
	p.Participating = c.supported
}

// outcome is the part of a record a reconcile compares to detect change.
type outcome struct {
	exclude, includeAny, includeAll affinity.Set
	priority                        uint8
	useFAPM                         bool
	winner                          lsdb.SystemID
	participating                   bool
}

func (p *Participation) outcome() outcome {
	return outcome{
		exclude:       p.Exclude,
		includeAny:    p.IncludeAny,
		includeAll:    p.IncludeAll,
		priority:      p.Priority,
		useFAPM:       p.UseFAPM,
		winner:        p.Winner,
		participating: p.Participating,
	}
}

// Arbitrator owns an area's definition store and participation table. It
// is not safe for concurrent use.
type Arbitrator struct {
	sysID  lsdb.SystemID
	isType spf.IsType
	pool   *spf.Pool
	db     Database
	store  *Store

	records []*Participation
	gen     uint64
}

// New returns an arbitrator for a router with system id sysID running the
// levels in isType. Trees come from pool. db may be nil until the area has
// a link-state database.
func New(sysID lsdb.SystemID, isType spf.IsType, pool *spf.Pool, db Database) *Arbitrator {
	return &Arbitrator{
		sysID:  sysID,
		isType: isType,
		pool:   pool,
		db:     db,
		store:  NewStore(),
	}
}

// Store exposes the local definitions.
func (a *Arbitrator) Store() *Store {
	return a.store
}

// SetDatabase replaces the link-state view. The caller reconciles.
func (a *Arbitrator) SetDatabase(db Database) {
	a.db = db
}

// AddDefinition stores d and reconciles. It reports whether the
// participation table changed.
func (a *Arbitrator) AddDefinition(d Definition) (bool, error) {
	if err := a.store.add(d); err != nil {
		return false, err
	}
	return a.Reconcile(), nil
}

// DeleteDefinition removes the definition of algorithm and reconciles.
func (a *Arbitrator) DeleteDefinition(algorithm uint8) (bool, error) {
	if err := a.store.delete(algorithm); err != nil {
		return false, err
	}
	return a.Reconcile(), nil
}

// Definition looks up a local definition.
func (a *Arbitrator) Definition(algorithm uint8) (Definition, error) {
	return a.store.Lookup(algorithm)
}

// Reconcile rebuilds the participation table from the local definitions
// and the remote ones in the database. Every algorithm asserted by anyone
// keeps or gains a record holding the winning definition; records nobody
// asserts any more are dropped and their trees released. It reports
// whether a record was created, changed or dropped.
func (a *Arbitrator) Reconcile() bool {
	a.gen++
	changed := false

	before := make(map[uint8]outcome, len(a.records))
	index := make(map[uint8]*Participation, len(a.records))
	for _, p := range a.records {
		before[p.Algorithm] = p.outcome()
		index[p.Algorithm] = p
	}

	consider := func(c *candidate) {
		p, ok := index[c.algorithm]
		if !ok {
			p = a.newRecord(c.algorithm)
			index[c.algorithm] = p
			a.records = append(a.records, p)
			changed = true
		}
		if p.seen != a.gen || c.beats(p) {
			p.adopt(c)
		}
		p.seen = a.gen
	}

	for _, d := range a.store.Definitions() {
		consider(&candidate{
			algorithm:  d.Algorithm,
			exclude:    d.Exclude,
			includeAny: d.IncludeAny,
			includeAll: d.IncludeAll,
			priority:   d.Priority,
			useFAPM:    d.UseFAPM,
			id:         a.sysID,
			supported:  true,
		})
	}
	if a.db != nil {
		a.db.ForEachRemote(func(e *lsdb.Entry) {
			for _, fad := range e.Cap.FADs {
				if fad.Algorithm < MinAlgorithm {
					continue
				}
				consider(&candidate{
					algorithm:  fad.Algorithm,
					exclude:    fad.Exclude,
					includeAny: fad.IncludeAny,
					includeAll: fad.IncludeAll,
					priority:   fad.Priority,
					useFAPM:    fad.MFlag,
					id:         e.SystemID,
					supported:  fad.Supported(),
				})
			}
		})
	}

	kept := a.records[:0]
	for _, p := range a.records {
		if p.seen != a.gen {
			a.release(p)
			changed = true
			continue
		}
		if prev, ok := before[p.Algorithm]; ok && prev != p.outcome() {
			changed = true
		}
		kept = append(kept, p)
	}
	for i := len(kept); i < len(a.records); i++ {
		a.records[i] = nil
	}
	a.records = kept
	sort.Slice(a.records, func(i, j int) bool { return a.records[i].Algorithm < a.records[j].Algorithm })
	return changed
}

func (a *Arbitrator) newRecord(algorithm uint8) *Participation {
	p := &Participation{Algorithm: algorithm}
	for _, l := range a.isType.Levels() {
		p.trees = append(p.trees, a.pool.New(algorithm, l))
	}
	return p
}

func (a *Arbitrator) release(p *Participation) {
	for _, t := range p.trees {
		a.pool.Release(t)
	}
	p.trees = nil
}

// Participations returns the records ordered by algorithm.
func (a *Arbitrator) Participations() []*Participation {
	return append([]*Participation(nil), a.records...)
}

// Lookup returns the record of algorithm.
func (a *Arbitrator) Lookup(algorithm uint8) (*Participation, bool) {
	i := sort.Search(len(a.records), func(i int) bool { return a.records[i].Algorithm >= algorithm })
	if i < len(a.records) && a.records[i].Algorithm == algorithm {
		return a.records[i], true
	}
	return nil, false
}

// State reports where algorithm is in its lifecycle.
func (a *Arbitrator) State(algorithm uint8) State {
	p, ok := a.Lookup(algorithm)
	switch {
	case !ok:
		return Absent
	case p.Participating:
		return Active
	}
	return Provisional
}

// FillAlgorithmList writes the algorithm list to advertise into out: the
// SPF algorithm, then every participating algorithm in ascending order,
// then AlgorithmUnset up to len(out).
func (a *Arbitrator) FillAlgorithmList(out []uint8) {
	if len(out) == 0 {
		return
	}
	out[0] = AlgorithmSPF
	n := 1
	for _, p := range a.records {
		if n == len(out) {
			break
		}
		if !p.Participating {
			continue
		}
		out[n] = p.Algorithm
		n++
	}
	for ; n < len(out); n++ {
		out[n] = AlgorithmUnset
	}
}

// AlgorithmList is FillAlgorithmList into a list of MaxAlgorithms slots.
func (a *Arbitrator) AlgorithmList() [MaxAlgorithms]uint8 {
	var out [MaxAlgorithms]uint8
	a.FillAlgorithmList(out[:])
	return out
}

// AffinitySets lists the constraint sets of the local definitions.
func (a *Arbitrator) AffinitySets() []affinity.Set {
	return a.store.AffinitySets()
}

// Close drops every record and releases its trees.
func (a *Arbitrator) Close() {
	for _, p := range a.records {
		a.release(p)
	}
	a.records = nil
}
