package clientconnection

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/conduitcloud/conduit-go/channel"
	"github.com/conduitcloud/conduit-go/connection"
	"github.com/conduitcloud/conduit-go/wire"
)

// Subscribe asks the node to put this connection on a channel. Before the
// whoami reply lands there is no socket id to authorize with, so the name
// parks in a backlog that drains, in order, once the identity arrives.
func (c *ClientConnection) Subscribe(ch connection.Channel) {
	c.lock.Lock()
	if c.identity == "" {
		c.backlog = append(c.backlog, ch.Name())
		c.lock.Unlock()
		return
	}
	c.lock.Unlock()

	c.performSubscribe(ch.Name())
}

// Unsubscribe tells the node to drop the channel and forgets every listener
// bound to it. Neither step depends on a subscription actually existing: the
// frame goes out regardless. Names still parked in the backlog are left
// alone and will subscribe when the identity arrives.
func (c *ClientConnection) Unsubscribe(ch connection.Channel) {
	data, err := wire.ChannelData(ch.Name(), nil)
	if err != nil {
		c.logger.Errorf("dropping unsubscribe for %s: %s", ch.Name(), err)
		return
	}

	c.Send(wire.Message{Event: wire.Unsubscribe, Data: data})
	c.broker.UnbindAll(ch.Name())
}

// handleIdentity records the socket id from the node's whoami reply and
// drains the subscription backlog in the order the Subscribe calls came in
func (c *ClientConnection) handleIdentity(data json.RawMessage) {
	var identity wire.IdentityMessage
	if err := json.Unmarshal(data, &identity); err != nil {
		c.logger.Errorf("malformed identity reply: %s", err)
		return
	}

	c.logger.Infof("Connection identified as %s", identity.SocketId)

	c.lock.Lock()
	c.identity = identity.SocketId
	backlog := c.backlog
	c.backlog = nil
	c.lock.Unlock()

	for _, name := range backlog {
		c.performSubscribe(name)
	}
}

// performSubscribe sends the subscribe frame for a channel, clearing
// authorization first when the name calls for it. Authorization runs in its
// own goroutine outside the tomb: Close neither cancels nor waits for it.
func (c *ClientConnection) performSubscribe(name string) {
	if !channel.RequiresAuthorization(name) {
		c.sendSubscribe(name, nil)
		return
	}

	c.lock.Lock()
	socketId := c.identity
	requestId := uuid.New().String()
	c.pending.Set(requestId, name)
	c.lock.Unlock()

	go func() {
		grant, err := c.authorizer.Authorize(context.Background(), socketId, name)

		c.lock.Lock()
		c.pending.Delete(requestId)
		c.lock.Unlock()

		if err != nil {
			// No retry and no signal to the caller. Listeners bound to
			// the channel stay in place, they just never hear anything
			c.logger.Errorf("abandoning subscription to %s: %s", name, err)
			return
		}

		c.sendSubscribe(name, grant)
	}()
}

// sendSubscribe queues the subscribe frame, folding any authorization grant
// into its payload
func (c *ClientConnection) sendSubscribe(name string, grant map[string]interface{}) {
	data, err := wire.ChannelData(name, grant)
	if err != nil {
		c.logger.Errorf("dropping subscription to %s: %s", name, err)
		return
	}

	c.Send(wire.Message{Event: wire.Subscribe, Data: data})
}
