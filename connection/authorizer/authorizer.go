package authorizer

import (
	"context"
)

// Authorizer decides whether this connection may join a protected channel.
// The returned fields are merged into the subscribe payload sent to the node.
type Authorizer interface {
	Authorize(ctx context.Context, socketId string, channelName string) (map[string]interface{}, error)
}
