package affinity

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// MaxNameLen bounds the length of an affinity map name.
const MaxNameLen = 255

var (
	ErrNotFound        = errors.New("affinity map not found")
	ErrNameNotFound    = errors.New("affinity name not found")
	ErrDuplicateName   = errors.New("affinity map already exists")
	ErrPositionInUse   = errors.New("affinity bit position already mapped")
	ErrInvalidName     = errors.New("invalid affinity map name")
	ErrInvalidPosition = errors.New("affinity bit position out of range")
)

// Map binds an affinity name to a bit position.
type Map struct {
	Name     string `json:"name"`
	Position int    `json:"position"`
}

// Referrer is anything holding affinity sets that pin map positions, such
// as Flex-Algorithm definitions and links.
type Referrer interface {
	AffinitySets() []Set
}

// Registry is the per-area name to bit position table. It is not safe for
// concurrent use.
type Registry struct {
	policy NamePolicy
	byName map[string]Map
	byPos  map[int]string
}

// NewRegistry returns an empty registry validating names with policy.
// A nil policy means NamePolicyStrict.
func NewRegistry(policy NamePolicy) *Registry {
	if policy == nil {
		policy = NamePolicyStrict
	}
	return &Registry{
		policy: policy,
		byName: make(map[string]Map),
		byPos:  make(map[int]string),
	}
}

// Add registers name at position.
func (r *Registry) Add(name string, position int) (Map, error) {
	if len(name) == 0 || len(name) > MaxNameLen || !r.policy.Valid(name) {
		return Map{}, errors.Wrapf(ErrInvalidName, "%q", name)
	}
	if position < 0 || position >= Bits {
		return Map{}, errors.Wrapf(ErrInvalidPosition, "%d", position)
	}
	if _, ok := r.byName[name]; ok {
		return Map{}, errors.Wrapf(ErrDuplicateName, "%q", name)
	}
	if other, ok := r.byPos[position]; ok {
		return Map{}, errors.Wrapf(ErrPositionInUse, "bit %d held by %q", position, other)
	}
	m := Map{Name: name, Position: position}
	r.byName[name] = m
	r.byPos[position] = name
	return m, nil
}

// Delete removes name. Callers must check NameInUse first; the registry
// does not know who references a position.
func (r *Registry) Delete(name string) error {
	m, ok := r.byName[name]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%q", name)
	}
	delete(r.byName, name)
	delete(r.byPos, m.Position)
	return nil
}

// Lookup returns the map registered under name.
func (r *Registry) Lookup(name string) (Map, error) {
	m, ok := r.byName[name]
	if !ok {
		return Map{}, errors.Wrapf(ErrNotFound, "%q", name)
	}
	return m, nil
}

// Maps returns all maps ordered by bit position.
func (r *Registry) Maps() []Map {
	out := make([]Map, 0, len(r.byName))
	for _, m := range r.byName {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// Parse resolves a comma-separated list of names into a Set. The first
// unknown name aborts the parse and the zero Set is returned. An empty
// list yields the zero Set.
func (r *Registry) Parse(names string) (Set, error) {
	var acc Set
	if strings.TrimSpace(names) == "" {
		return acc, nil
	}
	for _, name := range strings.Split(names, ",") {
		name = strings.TrimSpace(name)
		m, ok := r.byName[name]
		if !ok {
			return Set{}, errors.Wrapf(ErrNameNotFound, "%q", name)
		}
		acc = acc.With(m.Position)
	}
	return acc, nil
}

// Format renders s as a comma-separated name list in bit order. Bits with
// no registered name are skipped.
func (r *Registry) Format(s Set) string {
	var names []string
	for _, pos := range s.Positions() {
		if name, ok := r.byPos[pos]; ok {
			names = append(names, name)
		}
	}
	return strings.Join(names, ",")
}

// NameInUse reports whether the bit mapped by name appears in any set held
// by refs. Unknown names are never in use.
func (r *Registry) NameInUse(name string, refs ...Referrer) bool {
	m, ok := r.byName[name]
	if !ok {
		return false
	}
	probe := Of(m.Position)
	for _, ref := range refs {
		for _, s := range ref.AffinitySets() {
			if Intersects(probe, s) {
				return true
			}
		}
	}
	return false
}
