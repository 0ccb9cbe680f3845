package connection

import (
	"github.com/conduitcloud/conduit-go/connection/broker"
	"github.com/conduitcloud/conduit-go/wire"
)

// Channel is the minimal thing a subscription needs: a name. The channel
// package provides the usual implementation.
type Channel interface {
	Name() string
}

type Connection interface {
	// Identity returns the socket id the node assigned us, or the empty
	// string while the handshake is incomplete
	Identity() string

	Send(message wire.Message)

	Subscribe(ch Channel)
	Unsubscribe(ch Channel)

	On(event string, handler broker.EventHandler)
	Bind(ch Channel, event string, handler broker.EventHandler)
	UnbindEvent(ch Channel, event string, handler broker.EventHandler)

	PendingAuthorizations() int

	Ready() bool
	Done() <-chan struct{}
	Err() error
	Close(reason error)
}
