package sid

// EventKind enumerates registry notifications.
type EventKind int

const (
	LocatorAdded EventKind = iota
	LocatorUpdated
	LocatorRemoved
	// FunctionInvalidated reports a function dropped because its locator
	// moved to a prefix that no longer contains it.
	FunctionInvalidated
)

func (k EventKind) String() string {
	switch k {
	case LocatorAdded:
		return "locator-added"
	case LocatorUpdated:
		return "locator-updated"
	case LocatorRemoved:
		return "locator-removed"
	case FunctionInvalidated:
		return "function-invalidated"
	}
	return "unknown"
}

// Event is delivered to observers after the registry change is committed.
type Event struct {
	Kind     EventKind
	Locator  Locator
	Function *Function
}

// Observer receives registry events. Observers run synchronously on the
// goroutine that mutated the registry and must not call back into it.
type Observer interface {
	OnRegistryEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRegistryEvent(ev Event) { f(ev) }
