package messenger

import (
	"context"
	"net/http"
	"net/url"

	"github.com/stretchr/testify/mock"

	"github.com/conduitcloud/conduit-go/wire"
)

type MockMessenger struct {
	Messenger
	mock.Mock
}

func (m *MockMessenger) Close(reason error) {
	m.Called()
}

func (m *MockMessenger) Done() <-chan struct{} {
	args := m.Called()
	return args.Get(0).(chan struct{})
}

func (m *MockMessenger) Err() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessenger) Ready() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockMessenger) Inbound() <-chan *wire.Message {
	args := m.Called()
	return args.Get(0).(chan *wire.Message)
}

func (m *MockMessenger) Connect(ctx context.Context, host string, headers http.Header, params url.Values) error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockMessenger) Send(message wire.Message) error {
	args := m.Called(message)
	return args.Error(0)
}
