package httpclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/conduitcloud/conduit-go/logger"
)

const (
	httpTimeout = time.Second * 30
)

type HTTPOptions struct {
	Endpoint string
	Body     io.Reader
	Headers  http.Header
	Params   url.Values
}

type HttpClient struct {
	logger *logger.Logger

	backoffParams *backoff.ExponentialBackOff

	targetUrl string
	body      []byte
	headers   http.Header
	params    url.Values
}

func New(
	logger *logger.Logger,
	serviceUrl string,
	options HTTPOptions,
) (*HttpClient, error) {

	if options.Endpoint != "" {
		combo, err := url.ParseRequestURI(serviceUrl)
		if err != nil {
			return nil, err
		}
		combo.Path = path.Join(combo.Path, options.Endpoint)
		serviceUrl = combo.String()
	}

	if options.Headers == nil {
		options.Headers = http.Header{}
	}

	if options.Params == nil {
		options.Params = url.Values{}
	}

	// A reader drains on first use, snapshot it so retries resend the full body
	var body []byte
	if options.Body != nil {
		var err error
		if body, err = io.ReadAll(options.Body); err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	return &HttpClient{
		logger:    logger,
		targetUrl: serviceUrl,
		body:      body,
		headers:   options.Headers,
		params:    options.Params,
	}, nil
}

// NewWithBackoff builds a client whose requests are retried on an exponential
// schedule until one succeeds or the schedule is exhausted
func NewWithBackoff(
	logger *logger.Logger,
	serviceUrl string,
	options HTTPOptions,
) (*HttpClient, error) {
	client, err := New(logger, serviceUrl, options)
	if err != nil {
		return nil, err
	}

	// Ref: https://github.com/cenkalti/backoff/blob/a78d3804c2c84f0a3178648138442c9b07665bda/exponential.go#L76
	// DefaultInitialInterval     = 500 * time.Millisecond
	// DefaultRandomizationFactor = 0.5
	// DefaultMultiplier          = 1.5
	// DefaultMaxInterval         = 60 * time.Second
	// DefaultMaxElapsedTime      = 15 * time.Minute
	client.backoffParams = backoff.NewExponentialBackOff()

	return client, nil
}

func (h *HttpClient) Post(ctx context.Context) (*http.Response, error) {
	return h.execute(http.MethodPost, ctx)
}

func (h *HttpClient) Get(ctx context.Context) (*http.Response, error) {
	return h.execute(http.MethodGet, ctx)
}

func (h *HttpClient) execute(method string, ctx context.Context) (*http.Response, error) {
	// No schedule means a single attempt
	if h.backoffParams == nil {
		return h.request(method, ctx)
	}

	// The ticker paces us, each tick is permission for one more attempt
	ticker := backoff.NewTicker(h.backoffParams)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled before successful http response")
		case _, ok := <-ticker.C:
			if !ok {
				return nil, fmt.Errorf("failed to get successful http response after %s", h.backoffParams.MaxElapsedTime.Round(time.Second))
			}

			if response, err := h.request(method, ctx); err != nil {
				nextRequestTime := h.backoffParams.NextBackOff().Round(time.Second)
				h.logger.Errorf("retrying in %s: %s", nextRequestTime, err)
			} else {
				return response, err
			}
		}
	}
}

func (h *HttpClient) request(method string, ctx context.Context) (*http.Response, error) {
	client := http.Client{
		Timeout: httpTimeout,
	}

	// Each attempt gets its own reader over the snapshot
	var body io.Reader
	if h.body != nil {
		body = bytes.NewReader(h.body)
	}

	request, err := http.NewRequestWithContext(ctx, method, h.targetUrl, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", method, err)
	}
	request.Header = http.Header(h.headers)
	request.URL.RawQuery = h.params.Encode()

	response, err := client.Do(request)
	if err != nil {
		return response, fmt.Errorf("%s request failed: %w", method, err)
	}

	// Anything outside 2xx counts as a failed attempt
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return response, fmt.Errorf("%s request failed with status %s", method, response.Status)
	}

	return response, err
}
