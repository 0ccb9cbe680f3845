package messenger

import (
	"context"
	"net/http"
	"net/url"

	"github.com/conduitcloud/conduit-go/wire"
)

type Messenger interface {
	Close(reason error)
	Done() <-chan struct{}
	Err() error
	Ready() bool
	Inbound() <-chan *wire.Message
	Connect(ctx context.Context, host string, headers http.Header, params url.Values) error
	Send(message wire.Message) error
}
