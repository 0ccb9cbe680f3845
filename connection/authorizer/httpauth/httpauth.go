/*
The httpauth package implements the default channel authorizer: a POST to the
configured auth endpoint carrying the connection identity and the channel name.
Whatever fields a 2xx response body carries become the authorization grant for
that subscription.
*/
package httpauth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/conduitcloud/conduit-go/connection/authorizer"
	"github.com/conduitcloud/conduit-go/connection/httpclient"
	"github.com/conduitcloud/conduit-go/logger"
)

type HttpAuthorizer struct {
	logger *logger.Logger

	authEndpoint string
}

type authRequest struct {
	SocketId    string `json:"socket_id"`
	ChannelName string `json:"channel_name"`
}

func New(logger *logger.Logger, authEndpoint string) *HttpAuthorizer {
	return &HttpAuthorizer{
		logger:       logger,
		authEndpoint: authEndpoint,
	}
}

func (h *HttpAuthorizer) Authorize(ctx context.Context, socketId string, channelName string) (map[string]interface{}, error) {
	body, err := json.Marshal(authRequest{
		SocketId:    socketId,
		ChannelName: channelName,
	})
	if err != nil {
		return nil, err
	}

	client, err := httpclient.New(h.logger, h.authEndpoint, httpclient.HTTPOptions{
		Body: bytes.NewBuffer(body),
		Headers: http.Header{
			"Content-Type": {"application/json"},
		},
	})
	if err != nil {
		return nil, err
	}

	// One attempt, no retries. A refusal abandons the subscription.
	response, err := client.Post(ctx)
	if err != nil {
		return nil, &authorizer.AuthorizationFailedError{ChannelName: channelName, Err: err}
	}
	defer response.Body.Close()

	var grant map[string]interface{}
	if err := json.NewDecoder(response.Body).Decode(&grant); err != nil {
		// An approving endpoint may answer with an empty body
		if errors.Is(err, io.EOF) {
			return map[string]interface{}{}, nil
		}
		return nil, &authorizer.AuthorizationFailedError{ChannelName: channelName, Err: err}
	}

	return grant, nil
}
