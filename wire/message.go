/*
This package defines the frame schema spoken with a Conduit service node. Every
frame, in both directions, is a single JSON text message of the shape
{event, channel?, data?}; the event name decides how the payload is read.
*/
package wire

import (
	"encoding/json"
)

type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"` // present only on channel-scoped traffic
	Data    json.RawMessage `json:"data,omitempty"`
}

// Event names the connection itself produces or consumes. Everything else is
// application traffic and flows through untouched.
const (
	// identity handshake: request carries no data, the reply carries {socket_id}
	Whoami = "whoami"

	// liveness probe, sent on a fixed cadence
	Ping = "ping"

	// channel membership controller events
	Subscribe   = "subscribe"
	Unsubscribe = "unsubscribe"
)

// IdentityMessage is the whoami reply payload
type IdentityMessage struct {
	SocketId string `json:"socket_id"`
}

// ChannelData builds the payload of a subscribe or unsubscribe frame: the
// channel name plus any authorization fields granted for it. Fields overlay
// the channel key, matching how the node merges them.
func ChannelData(channelName string, fields map[string]interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"channel": channelName,
	}
	for key, value := range fields {
		payload[key] = value
	}
	return json.Marshal(payload)
}
