/*
The websocket package establishes and ferries raw bytes across the underlying
socket. In terms of the overall connection layer architecture, this package is
at the lowest layer, handing the raw frames to the protocol handler above it to
parse and dispatch.
*/

package websocket

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	gorilla "github.com/gorilla/websocket"
	"gopkg.in/tomb.v2"

	"github.com/conduitcloud/conduit-go/connection/transporter"
	"github.com/conduitcloud/conduit-go/logger"
)

const (
	HttpsOnlyWebsocketScheme = "wss"
	HttpWebsocketScheme      = "ws"
)

var WebsocketUrlScheme = HttpsOnlyWebsocketScheme

type Websocket struct {
	tmb    tomb.Tomb
	logger *logger.Logger
	client *gorilla.Conn

	// gorilla supports at most one concurrent writer per connection
	writeMu sync.Mutex

	// Received messages
	inbound chan *[]byte
}

func New(logger *logger.Logger) transporter.Transporter {
	return &Websocket{
		logger:  logger,
		inbound: make(chan *[]byte, 200),
	}
}

func (w *Websocket) Close(reason error) {
	if w.tmb.Alive() {
		w.logger.Infof("Closing websocket: %s", reason)

		if w.client != nil {
			w.client.Close()
		}

		w.tmb.Kill(reason)
		w.tmb.Wait()
	} else {
		w.logger.Infof("Close was called while in a dying state")
	}
}

func (w *Websocket) Done() <-chan struct{} {
	return w.tmb.Dead()
}

func (w *Websocket) Err() error {
	return w.tmb.Err()
}

func (w *Websocket) Inbound() <-chan *[]byte {
	return w.inbound
}

func (w *Websocket) Ready() bool {
	return w.client != nil && w.tmb.Alive()
}

func (w *Websocket) Send(message []byte) error {
	if w.client == nil {
		return fmt.Errorf("cannot send message because websocket is closed")
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	return w.client.WriteMessage(gorilla.TextMessage, message)
}

func (w *Websocket) Dial(connUrl *url.URL, headers http.Header, ctx context.Context) (err error) {
	// Callers hand us http(s) urls, swap in the socket scheme
	connUrl.Scheme = WebsocketUrlScheme

	if w.client, _, err = gorilla.DefaultDialer.DialContext(ctx, connUrl.String(), headers); err != nil {
		return fmt.Errorf("error dialing websocket: %w", err)
	}

	// Fresh tomb in case an earlier socket died under us
	w.tmb = tomb.Tomb{}

	w.tmb.Go(w.receive)

	return nil
}

func (w *Websocket) receive() error {
	defer w.logger.Infof("Websocket read loop stopped")
	w.logger.Infof("Websocket read loop started")

	for {
		// The tmb check must come first so a deliberate Close reads as a
		// clean exit and not as the read error the closed socket produces
		if _, rawMessage, err := w.client.ReadMessage(); !w.tmb.Alive() {
			return nil
		} else if err != nil {
			if gorilla.IsCloseError(err, gorilla.CloseNormalClosure) {
				w.logger.Info("Websocket closed normally")
			} else {
				w.logger.Error(err)
			}
			return err
		} else {
			w.inbound <- &rawMessage
		}
	}
}
