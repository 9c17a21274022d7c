package sid

import (
	"net/netip"
	"sort"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

const (
	tableLocator  = "locator"
	tableFunction = "function"

	indexID      = "id"
	indexLocator = "locator"
	indexRequest = "request"
)

var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tableLocator: {
			Name: tableLocator,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:    indexID,
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "Name"},
				},
			},
		},
		tableFunction: {
			Name: tableFunction,
			Indexes: map[string]*memdb.IndexSchema{
				indexID: {
					Name:   indexID,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Locator"},
							&memdb.StringFieldIndex{Field: "Key"},
						},
					},
				},
				indexLocator: {
					Name:    indexLocator,
					Indexer: &memdb.StringFieldIndex{Field: "Locator"},
				},
				indexRequest: {
					Name: indexRequest,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "Locator"},
							&memdb.UintFieldIndex{Field: "RequestKey"},
						},
					},
				},
			},
		},
	},
}

type locatorRecord struct {
	Name string
	loc  Locator
}

type functionRecord struct {
	Locator    string
	Key        string
	RequestKey uint32
	seq        uint64
	fn         Function
}

func prefixKey(p netip.Prefix) string {
	return p.String()
}

// Registry is the authoritative table of locators and functions. It is not
// safe for concurrent use; callers serialize access through their event
// loop.
type Registry struct {
	db        *memdb.MemDB
	seq       uint64
	observers map[int]Observer
	nextObs   int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		// the schema is static
		panic(err)
	}
	return &Registry{db: db, observers: make(map[int]Observer)}
}

// Subscribe registers o for locator notifications. The returned function
// removes the subscription.
func (r *Registry) Subscribe(o Observer) func() {
	id := r.nextObs
	r.nextObs++
	r.observers[id] = o
	return func() { delete(r.observers, id) }
}

func (r *Registry) notify(ev Event) {
	ids := make([]int, 0, len(r.observers))
	for id := range r.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		r.observers[id].OnRegistryEvent(ev)
	}
}

// ValidateLocator checks the parameters CreateLocator accepts.
func ValidateLocator(name string, prefix netip.Prefix, functionBits uint8, algorithm uint8) error {
	switch {
	case name == "" || len(name) > MaxNameLen:
		return errors.Wrapf(ErrInvalidLocator, "name length %d", len(name))
	case !prefix.IsValid() || !prefix.Addr().Is6() || prefix.Addr().Is4In6():
		return errors.Wrapf(ErrInvalidLocator, "%s: prefix %s is not IPv6", name, prefix)
	case functionBits < MinFunctionBits || functionBits > MaxFunctionBits:
		return errors.Wrapf(ErrInvalidLocator, "%s: function bits %d not in [%d,%d]",
			name, functionBits, MinFunctionBits, MaxFunctionBits)
	case prefix.Bits()+int(functionBits) > 128:
		return errors.Wrapf(ErrInvalidLocator, "%s: /%d plus %d function bits exceeds 128",
			name, prefix.Bits(), functionBits)
	case algorithm != 0 && algorithm < 128:
		return errors.Wrapf(ErrInvalidLocator, "%s: algorithm %d is not a flexible algorithm",
			name, algorithm)
	}
	return nil
}

// CreateLocator adds a locator. The prefix is stored masked.
func (r *Registry) CreateLocator(name string, prefix netip.Prefix, functionBits uint8, algorithm uint8) (Locator, error) {
	if err := ValidateLocator(name, prefix, functionBits, algorithm); err != nil {
		return Locator{}, err
	}
	txn := r.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(tableLocator, indexID, name)
	if err != nil {
		return Locator{}, err
	}
	if existing != nil {
		return Locator{}, errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	loc := Locator{
		Name:         name,
		Prefix:       prefix.Masked(),
		FunctionBits: functionBits,
		Algorithm:    algorithm,
	}
	if err := txn.Insert(tableLocator, &locatorRecord{Name: name, loc: loc}); err != nil {
		return Locator{}, err
	}
	txn.Commit()

	r.notify(Event{Kind: LocatorAdded, Locator: loc})
	return loc, nil
}

// DeleteLocator removes a locator that owns no function.
func (r *Registry) DeleteLocator(name string) error {
	txn := r.db.Txn(true)
	defer txn.Abort()

	rec, err := r.locator(txn, name)
	if err != nil {
		return err
	}
	owned, err := txn.First(tableFunction, indexLocator, name)
	if err != nil {
		return err
	}
	if owned != nil {
		return errors.Wrapf(ErrLocatorInUse, "%q", name)
	}
	if err := txn.Delete(tableLocator, rec); err != nil {
		return err
	}
	txn.Commit()

	r.notify(Event{Kind: LocatorRemoved, Locator: rec.loc})
	return nil
}

// UpdateLocatorPrefix moves a locator to a new prefix, as happens when its
// prefix is learned after creation. Functions that still fit the new prefix
// are kept; every other function is removed and reported to observers as
// FunctionInvalidated. The allocation cursor restarts at zero.
func (r *Registry) UpdateLocatorPrefix(name string, prefix netip.Prefix) (Locator, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	rec, err := r.locator(txn, name)
	if err != nil {
		return Locator{}, err
	}
	loc := rec.loc
	if err := ValidateLocator(name, prefix, loc.FunctionBits, loc.Algorithm); err != nil {
		return Locator{}, err
	}
	if prefix.Masked() == loc.Prefix {
		return loc, nil
	}
	loc.Prefix = prefix.Masked()
	loc.Cursor = 0

	fns, err := r.functionRecords(txn, name)
	if err != nil {
		return Locator{}, err
	}
	var invalid []Function
	for _, fr := range fns {
		if loc.Contains(fr.fn.Prefix) {
			continue
		}
		if err := txn.Delete(tableFunction, fr); err != nil {
			return Locator{}, err
		}
		invalid = append(invalid, fr.fn)
	}
	if err := txn.Insert(tableLocator, &locatorRecord{Name: name, loc: loc}); err != nil {
		return Locator{}, err
	}
	txn.Commit()

	for i := range invalid {
		r.notify(Event{Kind: FunctionInvalidated, Locator: loc, Function: &invalid[i]})
	}
	r.notify(Event{Kind: LocatorUpdated, Locator: loc})
	return loc, nil
}

// FindLocator looks a locator up by name.
func (r *Registry) FindLocator(name string) (Locator, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()
	rec, err := r.locator(txn, name)
	if err != nil {
		return Locator{}, err
	}
	return rec.loc, nil
}

// Locators returns every locator ordered by name.
func (r *Registry) Locators() []Locator {
	txn := r.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableLocator, indexID)
	if err != nil {
		return nil
	}
	var out []Locator
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*locatorRecord).loc)
	}
	return out
}

// FindFunction returns the function allocated at prefix under locator.
func (r *Registry) FindFunction(locator string, prefix netip.Prefix) (Function, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	if _, err := r.locator(txn, locator); err != nil {
		return Function{}, err
	}
	fr, err := r.functionRecord(txn, locator, prefix)
	if err != nil {
		return Function{}, err
	}
	return fr.fn, nil
}

// FindFunctionByRequestKey returns the oldest function under locator that
// was requested with key.
func (r *Registry) FindFunctionByRequestKey(locator string, key uint32) (Function, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	if _, err := r.locator(txn, locator); err != nil {
		return Function{}, err
	}
	frs, err := r.requestRecords(txn, locator, key)
	if err != nil {
		return Function{}, err
	}
	if len(frs) == 0 {
		return Function{}, errors.Wrapf(ErrNotFound, "request key %d in %q", key, locator)
	}
	return frs[0].fn, nil
}

// Functions returns the functions of locator in allocation order.
func (r *Registry) Functions(locator string) ([]Function, error) {
	txn := r.db.Txn(false)
	defer txn.Abort()

	if _, err := r.locator(txn, locator); err != nil {
		return nil, err
	}
	frs, err := r.functionRecords(txn, locator)
	if err != nil {
		return nil, err
	}
	out := make([]Function, 0, len(frs))
	for _, fr := range frs {
		out = append(out, fr.fn)
	}
	return out, nil
}

func (r *Registry) locator(txn *memdb.Txn, name string) (*locatorRecord, error) {
	obj, err := txn.First(tableLocator, indexID, name)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.Wrapf(ErrNotFound, "locator %q", name)
	}
	return obj.(*locatorRecord), nil
}

func (r *Registry) functionRecord(txn *memdb.Txn, locator string, prefix netip.Prefix) (*functionRecord, error) {
	obj, err := txn.First(tableFunction, indexID, locator, prefixKey(prefix))
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.Wrapf(ErrNotFound, "function %s in %q", prefix, locator)
	}
	return obj.(*functionRecord), nil
}

func (r *Registry) functionRecords(txn *memdb.Txn, locator string) ([]*functionRecord, error) {
	it, err := txn.Get(tableFunction, indexLocator, locator)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

func (r *Registry) requestRecords(txn *memdb.Txn, locator string, key uint32) ([]*functionRecord, error) {
	it, err := txn.Get(tableFunction, indexRequest, locator, key)
	if err != nil {
		return nil, err
	}
	return collect(it), nil
}

func collect(it memdb.ResultIterator) []*functionRecord {
	var out []*functionRecord
	for obj := it.Next(); obj != nil; obj = it.Next() {
		out = append(out, obj.(*functionRecord))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
