package protection

// Event names the fixed set of lifecycle and action events the SDK
// emits. The values are part of the host contract and match the event
// names dispatched on web embeddings.
type Event string

const (
	EventReady            Event = "narvar:shipping-protection:state:ready"
	EventQuoteAvailable   Event = "narvar:shipping-protection:state:quote-available"
	EventError            Event = "narvar:shipping-protection:state:error"
	EventAddProtection    Event = "narvar:shipping-protection:action:add-protection"
	EventRemoveProtection Event = "narvar:shipping-protection:action:remove-protection"
)

// Events lists every event name, in emission-relevance order.
func Events() []Event {
	return []Event{
		EventReady,
		EventQuoteAvailable,
		EventError,
		EventAddProtection,
		EventRemoveProtection,
	}
}

// KnownEvent reports whether name is one of the fixed event names.
func KnownEvent(name Event) bool {
	switch name {
	case EventReady, EventQuoteAvailable, EventError, EventAddProtection, EventRemoveProtection:
		return true
	}
	return false
}

// Payload is the loosely-typed detail attached to an emitted event.
// Well-known keys: "quote" (*Quote) on quote-available, "error"
// (*Error) on error events.
type Payload map[string]any
