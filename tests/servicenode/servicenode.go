/*
Package servicenode poses as the server side of a conduit connection for
tests. It upgrades incoming websockets, answers the identity handshake with a
configured socket id, and records every frame the client sends so specs can
assert on order and content.
*/
package servicenode

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/conduitcloud/conduit-go/logger"
	"github.com/conduitcloud/conduit-go/wire"
)

type MockServiceNode struct {
	logger   *logger.Logger
	listener net.Listener

	Addr string

	// SocketId is handed to whichever client completes the whoami exchange
	SocketId string

	lock     sync.Mutex
	conn     *websocket.Conn
	received []wire.Message
}

func NewMockServiceNode(logger *logger.Logger, socketId string) *MockServiceNode {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		logger.Errorf("failed to setup listener")
	}

	node := &MockServiceNode{
		logger:   logger,
		listener: listener,
		Addr:     fmt.Sprintf("http://localhost:%d", listener.Addr().(*net.TCPAddr).Port),
		SocketId: socketId,
	}

	go func() {
		http.Serve(node.listener, node)
	}()

	return node
}

func (m *MockServiceNode) Shutdown() {
	m.lock.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.lock.Unlock()

	m.listener.Close()
}

func (m *MockServiceNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}

	// Upgrade our raw HTTP connection to a websocket based one
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.logger.Errorf("Error during connection upgrade: %s", err)
		return
	}
	defer conn.Close()

	m.lock.Lock()
	m.conn = conn
	m.lock.Unlock()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			m.logger.Errorf("Error during message reading: %s", err)
			break
		}

		var message wire.Message
		if err := json.Unmarshal(raw, &message); err != nil {
			m.logger.Errorf("Error unmarshalling frame: %s", err)
			continue
		}

		m.lock.Lock()
		m.received = append(m.received, message)
		m.lock.Unlock()

		if message.Event == wire.Whoami {
			if err := m.identify(); err != nil {
				m.logger.Errorf("Error answering whoami: %s", err)
			}
		}
	}
}

// identify answers the whoami request with this node's socket id
func (m *MockServiceNode) identify() error {
	data, err := json.Marshal(wire.IdentityMessage{SocketId: m.SocketId})
	if err != nil {
		return err
	}
	return m.Emit(wire.Message{Event: wire.Whoami, Data: data})
}

// Emit pushes a frame down to the connected client
func (m *MockServiceNode) Emit(message wire.Message) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.conn == nil {
		return fmt.Errorf("no client is connected")
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return m.conn.WriteMessage(websocket.TextMessage, raw)
}

// Received returns every frame the client has sent so far, oldest first
func (m *MockServiceNode) Received() []wire.Message {
	m.lock.Lock()
	defer m.lock.Unlock()

	return append([]wire.Message{}, m.received...)
}

// ReceivedEvents returns just the event names, oldest first
func (m *MockServiceNode) ReceivedEvents() []string {
	events := []string{}
	for _, message := range m.Received() {
		events = append(events, message.Event)
	}
	return events
}
