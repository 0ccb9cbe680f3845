/*
The eventframe package is the protocol handler for talking to a Conduit node.
The node frames everything as a single JSON text message of the shape
{event, channel?, data?}, so it's this package's responsibility to marshal
outgoing messages into that shape and to parse the frames coming off the raw
socket. A frame that cannot be parsed is logged and dropped; the frames around
it are unaffected.
*/
package eventframe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"gopkg.in/tomb.v2"

	"github.com/conduitcloud/conduit-go/connection/transporter"
	"github.com/conduitcloud/conduit-go/logger"
	"github.com/conduitcloud/conduit-go/wire"
)

type EventFrame struct {
	tmb      tomb.Tomb
	logger   *logger.Logger
	doneChan chan struct{}

	client  transporter.Transporter
	inbound chan *wire.Message
}

func New(
	logger *logger.Logger,
	client transporter.Transporter,
) *EventFrame {
	return &EventFrame{
		logger:   logger,
		client:   client,
		doneChan: make(chan struct{}),
		inbound:  make(chan *wire.Message, 200),
	}
}

func (e *EventFrame) Close(reason error) {
	if !e.tmb.Alive() {
		return
	}

	e.tmb.Kill(reason)
	e.tmb.Wait()
}

func (e *EventFrame) Err() error {
	return e.tmb.Err()
}

func (e *EventFrame) Done() <-chan struct{} {
	return e.doneChan
}

func (e *EventFrame) Ready() bool {
	return e.client.Ready()
}

func (e *EventFrame) Inbound() <-chan *wire.Message {
	return e.inbound
}

func (e *EventFrame) Connect(ctx context.Context, host string, headers http.Header, params url.Values) error {
	// Reset variables in case this is post death
	if !e.tmb.Alive() {
		e.tmb = tomb.Tomb{}
		e.doneChan = make(chan struct{})
	}

	u, err := buildUrl(host, params)
	if err != nil {
		return err
	}

	e.logger.Infof("Making websocket connection")
	if err := e.client.Dial(u, headers, ctx); err != nil {
		return fmt.Errorf("failed to connect to node %s: %w", u.String(), err)
	}

	// Once the socket is up we can start listening and sending on it
	e.tmb.Go(func() error {
		defer e.logger.Info("Event frame processing done")
		defer close(e.doneChan)

		// Unwrap and forward inbound messages
		for {
			select {
			case <-e.tmb.Dying(): // death from Close() call
				e.client.Close(e.tmb.Err())
				return nil
			case <-e.client.Done():
				return fmt.Errorf("closed websocket")
			case messageBytes := <-e.client.Inbound():
				if err := e.unwrap(*messageBytes); err != nil {
					e.logger.Errorf("dropping frame: %s", err)
				}
			}
		}
	})
	return nil
}

func (e *EventFrame) unwrap(raw []byte) error {
	var message wire.Message
	if err := json.Unmarshal(raw, &message); err != nil {
		return fmt.Errorf("error unmarshalling frame: %s", string(raw))
	}

	// An unnamed event can never match a listener so there is nothing to
	// forward
	if message.Event == "" {
		return fmt.Errorf("received frame without an event name: %s", string(raw))
	}

	// Push message to queue for processing
	e.inbound <- &message

	return nil
}

func (e *EventFrame) Send(message wire.Message) error {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal outgoing frame: %w", err)
	}

	// Write our message to our connection
	return e.client.Send(messageBytes)
}

func buildUrl(host string, params url.Values) (*url.URL, error) {
	// Hosts are commonly configured bare, without a scheme
	if !strings.Contains(host, "://") {
		host = fmt.Sprintf("https://%s", host)
	}

	websocketUrl, err := url.ParseRequestURI(host)
	if err != nil {
		return nil, fmt.Errorf("failed to parse node url %s: %w", host, err)
	}

	// Set our params as encoded args
	websocketUrl.RawQuery = params.Encode()

	return websocketUrl, nil
}
