package transporter

import (
	"context"
	"net/http"
	"net/url"
)

type Transporter interface {
	Done() <-chan struct{}
	Err() error
	Inbound() <-chan *[]byte
	Dial(connUrl *url.URL, headers http.Header, ctx context.Context) (err error)
	Send(message []byte) error

	// Ready reports whether the socket is currently able to carry traffic. It
	// is derived from live socket state on every call, never cached.
	Ready() bool

	Close(reason error)
}
