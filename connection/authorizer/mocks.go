package authorizer

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, socketId string, channelName string) (map[string]interface{}, error) {
	args := m.Called(socketId, channelName)
	if grant := args.Get(0); grant != nil {
		return grant.(map[string]interface{}), args.Error(1)
	}
	return nil, args.Error(1)
}
