package keys

// Value types can opt into change notification by implementing one or
// both of the notifier interfaces below. While a defining key holds such
// a value it stays subscribed to it, and re-raises every sub-notification
// as its own Changed event (a same-identity mutation: old and new value
// are the same object).

// PropertyChangedFunc is called with the name of the property that
// changed on a notifying value.
type PropertyChangedFunc func(property string)

// PropertyChangeNotifier is implemented by value types that announce
// mutations of their named properties. Subscribe returns an unsubscribe
// function.
type PropertyChangeNotifier interface {
	SubscribePropertyChanged(fn PropertyChangedFunc) (unsubscribe func())
}

// CollectionAction describes the kind of collection mutation.
type CollectionAction int

const (
	// CollectionAdd indicates elements were added.
	CollectionAdd CollectionAction = iota
	// CollectionRemove indicates elements were removed.
	CollectionRemove
	// CollectionReplace indicates elements were replaced in place.
	CollectionReplace
	// CollectionReset indicates the collection was cleared or rebuilt.
	CollectionReset
)

// String returns the action name.
func (a CollectionAction) String() string {
	switch a {
	case CollectionAdd:
		return "add"
	case CollectionRemove:
		return "remove"
	case CollectionReplace:
		return "replace"
	case CollectionReset:
		return "reset"
	default:
		return "unknown"
	}
}

// CollectionChange is the diff payload of a collection mutation.
type CollectionChange struct {
	Action  CollectionAction
	Added   []any
	Removed []any
}

// CollectionChangedFunc is called with the diff of a collection
// mutation on a notifying value.
type CollectionChangedFunc func(change CollectionChange)

// CollectionChangeNotifier is implemented by collection-like value
// types that announce their mutations. Subscribe returns an unsubscribe
// function.
type CollectionChangeNotifier interface {
	SubscribeCollectionChanged(fn CollectionChangedFunc) (unsubscribe func())
}
