package wire

// Event names carried on the socket. This set is the canonical vocabulary;
// both sides must agree on it exactly.
const (
	// Client -> server
	EventAuthenticate = "authenticate"
	EventSubscribe    = "subscribe"
	EventUnsubscribe  = "unsubscribe"

	// Server -> client
	EventAuthenticated = "authenticated"
	EventDataUpdated   = "data:updated"
	EventSystemMessage = "system:message"
	EventSystemAlert   = "system:alert"
	EventError         = "error"

	// Local-only events emitted by the client, never sent on the socket.
	EventDataRefresh     = "data:refresh"
	EventConnectionState = "connection:state"
)

// Entity types the application subscribes to.
const (
	EntityLead       = "lead"
	EntityLoad       = "load"
	EntityInvoice    = "invoice"
	EntityCommission = "commission"
	EntityReport     = "report"
)

// Mutation actions carried in data:updated payloads.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// UpdateEvent returns the composite event name a data:updated payload is
// re-dispatched under, so listeners can subscribe at entity granularity
// ("load:updated") instead of the generic data:updated.
func UpdateEvent(entityType, action string) string {
	return entityType + ":" + action
}
