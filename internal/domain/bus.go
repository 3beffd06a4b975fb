package domain

// EventBus broadcasts the latest inbound event and the connection state to
// every interested view. It keeps no history: a late subscriber only sees
// events published after it subscribed.
type EventBus interface {
	Publish(event InboundEvent)
	Subscribe(handler func(InboundEvent)) (unsubscribe func())
	Last() InboundEvent

	SetState(state ConnectionState)
	State() ConnectionState
	OnState(handler func(ConnectionState)) (unsubscribe func())
}
