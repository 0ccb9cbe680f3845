/*
Package clientconnection is the client side of a conduit connection. It dials
the service node once and multiplexes any number of named channels over that
single socket.

The transport is allowed to be absent. Frames sent before the dial finishes,
or after the socket dies, queue in order and go out only if the transport
ever becomes ready. Nothing here reconnects: a dead transport leaves the
connection alive and buffering until the owner calls Close.
*/
package clientconnection

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	orderedmap "github.com/wk8/go-ordered-map"
	"gopkg.in/tomb.v2"

	"github.com/conduitcloud/conduit-go/connection"
	"github.com/conduitcloud/conduit-go/connection/authorizer"
	"github.com/conduitcloud/conduit-go/connection/authorizer/httpauth"
	"github.com/conduitcloud/conduit-go/connection/broker"
	"github.com/conduitcloud/conduit-go/connection/messenger"
	"github.com/conduitcloud/conduit-go/logger"
	"github.com/conduitcloud/conduit-go/wire"
)

// ProbeRate is how often the connection pings the node. Variable to let
// tests tighten the cadence.
var ProbeRate = 60 * time.Second

type ClientConnection struct {
	tmb    tomb.Tomb
	logger *logger.Logger

	// This is our underlying connection where we send and receive frames
	client messenger.Messenger

	// A connection broker, routes inbound events to whoever is listening
	broker *broker.Broker

	// Grants or refuses entry to restricted channels
	authorizer authorizer.Authorizer

	// Guards identity, outbound, backlog, and pending
	lock sync.Mutex

	// Socket id the node assigned us, empty until the whoami reply lands
	identity string

	// Outbound frames waiting on a ready transport, oldest first
	outbound []*wire.Message

	// Channel names waiting on the identity handshake, oldest first
	backlog []string

	// In-flight channel authorizations by request id
	pending *orderedmap.OrderedMap
}

func New(
	logger *logger.Logger,
	connUrl string,
	authUrl string,
	params url.Values,
	headers http.Header,
	client messenger.Messenger,
	auth authorizer.Authorizer,
) (connection.Connection, error) {
	if auth == nil {
		auth = httpauth.New(logger.GetComponentLogger("Authorizer"), authUrl)
	}

	conn := ClientConnection{
		logger:     logger,
		client:     client,
		broker:     broker.New(),
		authorizer: auth,
		pending:    orderedmap.New(),
	}

	// The identity listener has to be in place before the request goes out,
	// or a fast reply could land with nobody listening
	conn.broker.On(wire.Whoami, conn.handleIdentity)
	conn.Send(wire.Message{Event: wire.Whoami})

	conn.tmb.Go(conn.probe)

	if err := conn.connect(connUrl, headers, params); err != nil {
		// The transport stays down and there is no reconnect, but the
		// connection itself lives on, queueing sends until Close
		conn.logger.Errorf("failed to establish connection with %s: %s", connUrl, err)
	}

	go conn.receive()

	conn.tmb.Go(func() error {
		conn.logger.Infof("Connection has started")
		defer conn.logger.Infof("Connection has stopped")

		select {
		case <-conn.tmb.Dying():
		case <-conn.client.Done():
			// The transport died underneath us. The connection stays up,
			// queueing sends and holding listeners, until the owner
			// decides to Close
			conn.logger.Error(&connection.TransportClosedError{Err: conn.client.Err()})

			<-conn.tmb.Dying()
		}

		conn.client.Close(conn.tmb.Err())
		return nil
	})

	return &conn, nil
}

// Opens the transport and flushes whatever queued while it was down. Holding
// the lock across dial and flush keeps the queue order intact: nothing can
// slip a send in between the transport opening and the backlog going out.
func (c *ClientConnection) connect(connUrl string, headers http.Header, params url.Values) error {
	c.logger.Infof("Establishing connection with %s", connUrl)

	// Make a context and tie it in with our tomb so Close can interrupt
	// the dial
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-c.tmb.Dying():
			cancel()
		}
	}()

	c.lock.Lock()
	defer c.lock.Unlock()

	if err := c.client.Connect(ctx, connUrl, headers, params); err != nil {
		return err
	}

	c.flush()

	return nil
}

func (c *ClientConnection) receive() {
	for {
		select {
		case <-c.tmb.Dead():
			return
		case message := <-c.client.Inbound():
			c.processInbound(*message)
		}
	}
}

// processInbound routes a decoded frame to exactly one listener table. A
// frame naming a channel is only offered to that channel's listeners, every
// other frame is only offered to the connection's own table. Unclaimed
// frames are dropped.
func (c *ClientConnection) processInbound(message wire.Message) {
	if message.Channel != "" {
		if !c.broker.DirectMessage(message.Channel, message.Event, message.Data) {
			c.logger.Debugf("no listener for %s on channel %s", message.Event, message.Channel)
		}
		return
	}

	if !c.broker.DirectEvent(message.Event, message.Data) {
		c.logger.Debugf("no listener for %s", message.Event)
	}
}

// probe keeps a heartbeat going for the lifetime of the connection. Pings
// queue like any other frame, so a dead transport just grows the queue.
func (c *ClientConnection) probe() error {
	ticker := time.NewTicker(ProbeRate)
	defer ticker.Stop()

	for {
		select {
		case <-c.tmb.Dying():
			return nil
		case <-ticker.C:
			c.Send(wire.Message{Event: wire.Ping})
		}
	}
}

// Send hands a frame to the node, or queues it when the transport is not
// ready. The queue has no bound and survives transport death.
func (c *ClientConnection) Send(message wire.Message) {
	c.lock.Lock()
	defer c.lock.Unlock()

	c.sendOrQueue(&message)
}

// Callers must hold the lock
func (c *ClientConnection) sendOrQueue(message *wire.Message) {
	if !c.client.Ready() {
		c.outbound = append(c.outbound, message)
		return
	}

	if err := c.client.Send(*message); err != nil {
		c.logger.Errorf("failed to send %s message: %s", message.Event, err)
	}
}

// flush drains the queue oldest first, re-checking the transport before
// every send so a mid-flush disconnect strands the rest in order. Callers
// must hold the lock.
func (c *ClientConnection) flush() {
	for len(c.outbound) > 0 && c.client.Ready() {
		message := c.outbound[0]
		c.outbound = c.outbound[1:]

		if err := c.client.Send(*message); err != nil {
			c.logger.Errorf("failed to send %s message: %s", message.Event, err)
		}
	}
}

// On registers a connection-wide listener for an event, replacing any
// previous listener for that event
func (c *ClientConnection) On(event string, handler broker.EventHandler) {
	c.broker.On(event, handler)
}

// Bind registers a listener for an event on one channel
func (c *ClientConnection) Bind(ch connection.Channel, event string, handler broker.EventHandler) {
	c.broker.Bind(ch.Name(), event, handler)
}

// UnbindEvent removes the connection-wide listener for an event. The channel
// argument does not narrow the removal: listeners registered through Bind
// only ever go away when their channel is unsubscribed. A nil handler
// removes whatever is registered, a non-nil handler only removes itself.
func (c *ClientConnection) UnbindEvent(ch connection.Channel, event string, handler broker.EventHandler) {
	c.broker.Off(event, handler)
}

// Identity returns the socket id the node assigned us, or the empty string
// while the whoami exchange is still outstanding
func (c *ClientConnection) Identity() string {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.identity
}

// PendingAuthorizations reports how many channel authorizations are in
// flight right now
func (c *ClientConnection) PendingAuthorizations() int {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.pending.Len()
}

func (c *ClientConnection) Ready() bool {
	return c.client.Ready()
}

func (c *ClientConnection) Done() <-chan struct{} {
	return c.tmb.Dead()
}

func (c *ClientConnection) Err() error {
	return c.tmb.Err()
}

// Close removes the connection's own event listeners, kills the tomb,
// disconnects the underlying transport, and waits for the connection's
// goroutines to finish. Channel listeners, the subscription backlog, and the
// outbound queue are left as they are. Authorizations already in flight keep
// running unwatched, and any grant that lands now queues a subscribe frame
// that will never flush.
func (c *ClientConnection) Close(reason error) {
	if !c.tmb.Alive() {
		c.logger.Infof("Close was called while in a dying state")
		return
	}

	c.logger.Infof("Connection closing because: %s", reason)

	if n := c.PendingAuthorizations(); n > 0 {
		c.logger.Infof("%d channel authorization(s) still in flight", n)
	}

	c.broker.ClearInternal()
	c.tmb.Kill(reason)
	c.tmb.Wait()

	c.logger.Infof("Connection done")
}
