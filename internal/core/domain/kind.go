package domain

import "fmt"

// Kind tags the entity variant.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindObservable
	KindObserver
	KindStreamFactory
	KindOther
	KindSubscription
	KindReliableSubscription
	KindStream
)

var kindNames = [...]string{
	KindUnknown:              "unknown",
	KindObservable:           "observable",
	KindObserver:             "observer",
	KindStreamFactory:        "stream_factory",
	KindOther:                "other",
	KindSubscription:         "subscription",
	KindReliableSubscription: "reliable_subscription",
	KindStream:               "stream",
}

// Checkpoint categories. CategoryTemplates holds OtherDefinition entities
// in the reserved template namespace.
const (
	CategoryTemplates             = "templates"
	CategoryObservables           = "observables"
	CategoryObservers             = "observers"
	CategoryStreamFactories       = "streamfactories"
	CategoryOthers                = "others"
	CategoryStreams               = "streams"
	CategorySubscriptions         = "subscriptions"
	CategoryReliableSubscriptions = "reliablesubscriptions"
)

// TemplateNamespace prefixes the identifiers of templates.
const TemplateNamespace = "rx://templates/"

// RecoveryOrder lists kinds in the order they must be restored: templates
// and other definitions first, then the definitions instances refer to,
// then instances.
var RecoveryOrder = []Kind{
	KindOther,
	KindObservable,
	KindObserver,
	KindStreamFactory,
	KindStream,
	KindSubscription,
	KindReliableSubscription,
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s && Kind(k) != KindUnknown {
			return Kind(k), nil
		}
	}
	return KindUnknown, ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown kind %q", s))
}

// Valid reports whether k is a known, concrete kind.
func (k Kind) Valid() bool {
	return k > KindUnknown && k <= KindStream
}

// IsDefinition reports whether k is one of the definition kinds.
func (k Kind) IsDefinition() bool {
	switch k {
	case KindObservable, KindObserver, KindStreamFactory, KindOther:
		return true
	}
	return false
}

// IsInstance reports whether k is one of the instance kinds.
func (k Kind) IsInstance() bool {
	switch k {
	case KindSubscription, KindReliableSubscription, KindStream:
		return true
	}
	return false
}

// Category returns the checkpoint category for an entity of kind k with
// identifier id.
func Category(k Kind, id string) string {
	switch k {
	case KindObservable:
		return CategoryObservables
	case KindObserver:
		return CategoryObservers
	case KindStreamFactory:
		return CategoryStreamFactories
	case KindOther:
		if IsTemplateID(id) {
			return CategoryTemplates
		}
		return CategoryOthers
	case KindSubscription:
		return CategorySubscriptions
	case KindReliableSubscription:
		return CategoryReliableSubscriptions
	case KindStream:
		return CategoryStreams
	}
	return ""
}

// CategoryKind maps a checkpoint category back to its kind.
func CategoryKind(category string) (Kind, bool) {
	switch category {
	case CategoryTemplates, CategoryOthers:
		return KindOther, true
	case CategoryObservables:
		return KindObservable, true
	case CategoryObservers:
		return KindObserver, true
	case CategoryStreamFactories:
		return KindStreamFactory, true
	case CategorySubscriptions:
		return KindSubscription, true
	case CategoryReliableSubscriptions:
		return KindReliableSubscription, true
	case CategoryStreams:
		return KindStream, true
	}
	return KindUnknown, false
}

// Categories returns all categories in recovery order.
func Categories() []string {
	return []string{
		CategoryTemplates,
		CategoryOthers,
		CategoryObservables,
		CategoryObservers,
		CategoryStreamFactories,
		CategoryStreams,
		CategorySubscriptions,
		CategoryReliableSubscriptions,
	}
}

// IsTemplateID reports whether id lies in the template namespace.
func IsTemplateID(id string) bool {
	return len(id) > len(TemplateNamespace) && id[:len(TemplateNamespace)] == TemplateNamespace
}
