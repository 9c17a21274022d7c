package sid

import "sort"

// Mirror is a client-side copy of locators owned by a remote registry.
// Entries are configured by name; their prefix is filled in when the
// registry announces the locator and zeroed when it withdraws it.
type Mirror struct {
	announced map[string]Locator
	mirrored  map[string]Locator
}

func NewMirror() *Mirror {
	return &Mirror{
		announced: make(map[string]Locator),
		mirrored:  make(map[string]Locator),
	}
}

// Add mirrors name. It reports whether the entry picked up an announced
// prefix, which changes what the owner advertises.
func (m *Mirror) Add(name string) bool {
	loc := Locator{Name: name}
	ann, ok := m.announced[name]
	if ok {
		loc = ann
	}
	m.mirrored[name] = loc
	return ok
}

// Delete stops mirroring name. It reports whether the entry had a prefix.
func (m *Mirror) Delete(name string) bool {
	loc, ok := m.mirrored[name]
	if !ok {
		return false
	}
	delete(m.mirrored, name)
	return loc.Prefix.IsValid()
}

// Lookup returns the mirrored locator. A locator not yet announced has an
// invalid prefix.
func (m *Mirror) Lookup(name string) (Locator, bool) {
	loc, ok := m.mirrored[name]
	return loc, ok
}

// Locators returns the mirrored locators ordered by name.
func (m *Mirror) Locators() []Locator {
	out := make([]Locator, 0, len(m.mirrored))
	for _, loc := range m.mirrored {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Announce records a locator added or updated by the registry. It reports
// whether a mirrored entry changed.
func (m *Mirror) Announce(loc Locator) bool {
	m.announced[loc.Name] = loc
	cur, ok := m.mirrored[loc.Name]
	if !ok {
		return false
	}
	m.mirrored[loc.Name] = loc
	return cur.Prefix != loc.Prefix || cur.FunctionBits != loc.FunctionBits
}

// Withdraw records a locator removed by the registry. A mirrored entry
// keeps its name but loses its prefix.
func (m *Mirror) Withdraw(name string) bool {
	delete(m.announced, name)
	cur, ok := m.mirrored[name]
	if !ok {
		return false
	}
	m.mirrored[name] = Locator{Name: name}
	return cur.Prefix.IsValid()
}

// OnRegistryEvent lets a Mirror follow an in-process Registry directly.
func (m *Mirror) OnRegistryEvent(ev Event) {
	switch ev.Kind {
	case LocatorAdded, LocatorUpdated:
		m.Announce(ev.Locator)
	case LocatorRemoved:
		m.Withdraw(ev.Locator.Name)
	}
}
