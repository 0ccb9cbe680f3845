package clientconnection

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/conduitcloud/conduit-go/channel"
	"github.com/conduitcloud/conduit-go/connection"
	"github.com/conduitcloud/conduit-go/connection/authorizer"
	"github.com/conduitcloud/conduit-go/connection/messenger"
	"github.com/conduitcloud/conduit-go/logger"
	"github.com/conduitcloud/conduit-go/wire"
)

var _ = Describe("Subscriptions", Ordered, func() {
	var mockClient *messenger.MockMessenger
	var mockAuth *authorizer.MockAuthorizer
	var doneChan chan struct{}
	var inboundChan chan *wire.Message
	var conn connection.Connection

	var sentLock sync.Mutex
	var sent []wire.Message

	// This needs to be correctly formatted but we don't care what's on the other side
	fakeHost := "http://localhost:0"

	logger := logger.MockLogger(GinkgoWriter)

	sentFrames := func() []wire.Message {
		sentLock.Lock()
		defer sentLock.Unlock()
		return append([]wire.Message{}, sent...)
	}

	sentEvents := func() []string {
		events := []string{}
		for _, frame := range sentFrames() {
			events = append(events, frame.Event)
		}
		return events
	}

	subscribesTo := func(name string) []map[string]interface{} {
		matches := []map[string]interface{}{}
		for _, frame := range sentFrames() {
			if frame.Event != wire.Subscribe {
				continue
			}

			var payload map[string]interface{}
			if err := json.Unmarshal(frame.Data, &payload); err != nil {
				continue
			}
			if payload["channel"] == name {
				matches = append(matches, payload)
			}
		}
		return matches
	}

	setup := func() {
		sentLock.Lock()
		sent = nil
		sentLock.Unlock()

		mockClient = &messenger.MockMessenger{}
		mockClient.On("Connect").Return(nil)
		mockClient.On("Ready").Return(true)
		mockClient.On("Close").Return()
		mockClient.On("Err").Return(fmt.Errorf("websocket closed"))
		mockClient.On("Send", mock.Anything).Run(func(args mock.Arguments) {
			sentLock.Lock()
			sent = append(sent, args.Get(0).(wire.Message))
			sentLock.Unlock()
		}).Return(nil)

		doneChan = make(chan struct{})
		mockClient.On("Done").Return(doneChan)

		inboundChan = make(chan *wire.Message, 8)
		mockClient.On("Inbound").Return(inboundChan)

		mockAuth = &authorizer.MockAuthorizer{}

		conn, _ = New(logger, fakeHost, "", url.Values{}, http.Header{}, mockClient, mockAuth)
	}

	identify := func(socketId string) {
		data, _ := json.Marshal(wire.IdentityMessage{SocketId: socketId})
		inboundChan <- &wire.Message{Event: wire.Whoami, Data: data}
	}

	AfterEach(func() {
		if conn != nil {
			conn.Close(fmt.Errorf("test complete"))
		}
	})

	Context("Before the identity arrives", func() {
		When("Channels are subscribed", func() {

			BeforeEach(func() {
				setup()

				orders, _ := channel.New("orders")
				ledger, _ := channel.New("private-ledger")
				conn.Subscribe(orders)
				conn.Subscribe(ledger)
			})

			It("parks them in the backlog", func() {
				Consistently(sentEvents).ShouldNot(ContainElement(wire.Subscribe))
				mockAuth.AssertNumberOfCalls(GinkgoT(), "Authorize", 0)
			})
		})

		When("The identity lands", func() {

			BeforeEach(func() {
				setup()

				alpha, _ := channel.New("alerts.alpha")
				beta, _ := channel.New("alerts.beta")
				conn.Subscribe(alpha)
				conn.Subscribe(beta)

				identify("5.77")
			})

			It("drains the backlog in subscription order", func() {
				Eventually(func() int {
					return len(subscribesTo("alerts.alpha")) + len(subscribesTo("alerts.beta"))
				}).Should(Equal(2))

				order := []string{}
				for _, frame := range sentFrames() {
					if frame.Event != wire.Subscribe {
						continue
					}
					var payload map[string]interface{}
					Expect(json.Unmarshal(frame.Data, &payload)).To(Succeed())
					order = append(order, payload["channel"].(string))
				}
				Expect(order).To(Equal([]string{"alerts.alpha", "alerts.beta"}))
			})
		})
	})

	Context("Open channels", func() {
		When("The channel needs no authorization", func() {

			BeforeEach(func() {
				setup()
				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				orders, _ := channel.New("orders")
				conn.Subscribe(orders)
			})

			It("subscribes with just the channel name", func() {
				Eventually(func() []map[string]interface{} { return subscribesTo("orders") }).Should(HaveLen(1))
				Expect(subscribesTo("orders")[0]).To(HaveLen(1))

				mockAuth.AssertNumberOfCalls(GinkgoT(), "Authorize", 0)
			})
		})
	})

	Context("Restricted channels", func() {
		When("Authorization is granted", func() {

			BeforeEach(func() {
				setup()
				mockAuth.On("Authorize", "12.34", "private-ledger").Return(map[string]interface{}{"auth": "node-key:a1b2c3"}, nil)

				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				ledger, _ := channel.New("private-ledger")
				conn.Subscribe(ledger)
			})

			It("asks the authorizer exactly once", func() {
				Eventually(func() []map[string]interface{} { return subscribesTo("private-ledger") }).Should(HaveLen(1))

				mockAuth.AssertCalled(GinkgoT(), "Authorize", "12.34", "private-ledger")
				mockAuth.AssertNumberOfCalls(GinkgoT(), "Authorize", 1)
			})

			It("folds the grant into the subscribe payload", func() {
				Eventually(func() []map[string]interface{} { return subscribesTo("private-ledger") }).Should(HaveLen(1))

				payload := subscribesTo("private-ledger")[0]
				Expect(payload).To(HaveKeyWithValue("channel", "private-ledger"))
				Expect(payload).To(HaveKeyWithValue("auth", "node-key:a1b2c3"))
			})
		})

		When("Authorization is refused", func() {

			BeforeEach(func() {
				setup()
				mockAuth.On("Authorize", "12.34", "presence-floor").Return(nil, fmt.Errorf("got a 403"))

				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				floor, _ := channel.New("presence-floor")
				conn.Subscribe(floor)
			})

			It("abandons the subscription without telling anyone", func() {
				Consistently(sentEvents, "200ms").ShouldNot(ContainElement(wire.Subscribe))
				Consistently(conn.Done()).ShouldNot(BeClosed())

				// one attempt, no retry
				mockAuth.AssertNumberOfCalls(GinkgoT(), "Authorize", 1)
			})
		})

		When("The authorizer is slow", func() {
			var gate chan struct{}

			BeforeEach(func() {
				setup()

				gate = make(chan struct{})
				mockAuth.On("Authorize", "12.34", "private-slow").Run(func(args mock.Arguments) {
					<-gate
				}).Return(map[string]interface{}{"auth": "node-key:late"}, nil)

				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				slow, _ := channel.New("private-slow")
				conn.Subscribe(slow)
			})

			AfterEach(func() {
				select {
				case <-gate:
				default:
					close(gate)
				}
			})

			It("shows in the pending gauge until it resolves", func() {
				Eventually(conn.PendingAuthorizations).Should(Equal(1))
				Consistently(conn.PendingAuthorizations, "100ms").Should(Equal(1))

				close(gate)
				Eventually(conn.PendingAuthorizations).Should(Equal(0))
				Eventually(func() []map[string]interface{} { return subscribesTo("private-slow") }).Should(HaveLen(1))
			})
		})

		When("The connection closes while one is in flight", func() {
			var gate chan struct{}

			BeforeEach(func() {
				setup()

				gate = make(chan struct{})
				mockAuth.On("Authorize", "12.34", "private-slow").Run(func(args mock.Arguments) {
					<-gate
				}).Return(map[string]interface{}{"auth": "node-key:late"}, nil)

				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				slow, _ := channel.New("private-slow")
				conn.Subscribe(slow)
			})

			AfterEach(func() {
				select {
				case <-gate:
				default:
					close(gate)
				}
			})

			It("does not wait for it", func() {
				Eventually(conn.PendingAuthorizations).Should(Equal(1))

				closed := make(chan struct{})
				go func() {
					conn.Close(fmt.Errorf("leaving"))
					close(closed)
				}()

				Eventually(closed, "2s").Should(BeClosed())
				Expect(conn.PendingAuthorizations()).To(Equal(1))

				close(gate)
				Eventually(conn.PendingAuthorizations).Should(Equal(0))
			})
		})
	})

	Context("Unsubscribing", func() {
		When("A channel is dropped", func() {
			var delivered chan string

			BeforeEach(func() {
				setup()
				identify("12.34")
				Eventually(conn.Identity).Should(Equal("12.34"))

				delivered = make(chan string, 4)
				room, _ := channel.New("room1")
				conn.Bind(room, "orders.created", func(data json.RawMessage) {
					delivered <- string(data)
				})

				inboundChan <- &wire.Message{Event: "orders.created", Channel: "room1", Data: json.RawMessage(`"before"`)}
				Eventually(delivered).Should(Receive())

				conn.Unsubscribe(room)
			})

			It("tells the node", func() {
				Eventually(sentEvents).Should(ContainElement(wire.Unsubscribe))

				for _, frame := range sentFrames() {
					if frame.Event == wire.Unsubscribe {
						Expect(frame.Data).To(MatchJSON(`{"channel":"room1"}`))
					}
				}
			})

			It("forgets every listener on the channel", func() {
				Eventually(sentEvents).Should(ContainElement(wire.Unsubscribe))

				inboundChan <- &wire.Message{Event: "orders.created", Channel: "room1", Data: json.RawMessage(`"after"`)}
				Consistently(delivered).ShouldNot(Receive())
			})
		})

		When("The channel was never subscribed", func() {

			BeforeEach(func() {
				setup()

				ghost, _ := channel.New("ghost")
				conn.Unsubscribe(ghost)
			})

			It("sends the frame anyway", func() {
				Eventually(sentEvents).Should(ContainElement(wire.Unsubscribe))
			})
		})

		When("The name is still parked in the backlog", func() {

			BeforeEach(func() {
				setup()

				parked, _ := channel.New("parked")
				conn.Subscribe(parked)
				conn.Unsubscribe(parked)

				identify("5.77")
			})

			It("still subscribes once the identity arrives", func() {
				Eventually(func() []map[string]interface{} { return subscribesTo("parked") }).Should(HaveLen(1))
				Expect(sentEvents()).To(ContainElement(wire.Unsubscribe))
			})
		})
	})

	Context("Unbinding", func() {
		When("An event is unbound through the channel variant", func() {
			var fromChannel chan string
			var fromInternal chan string

			BeforeEach(func() {
				setup()

				fromChannel = make(chan string, 4)
				fromInternal = make(chan string, 4)

				room, _ := channel.New("room1")
				conn.Bind(room, "alert", func(data json.RawMessage) {
					fromChannel <- string(data)
				})
				conn.On("alert", func(data json.RawMessage) {
					fromInternal <- string(data)
				})

				conn.UnbindEvent(room, "alert", nil)
			})

			It("removes the connection-wide listener, not the channel's", func() {
				inboundChan <- &wire.Message{Event: "alert", Channel: "room1", Data: json.RawMessage(`"scoped"`)}
				Eventually(fromChannel).Should(Receive(Equal(`"scoped"`)))

				inboundChan <- &wire.Message{Event: "alert", Data: json.RawMessage(`"bare"`)}
				Consistently(fromInternal).ShouldNot(Receive())
			})
		})

		When("A different handler is named", func() {
			var fromInternal chan string

			BeforeEach(func() {
				setup()

				fromInternal = make(chan string, 4)
				room, _ := channel.New("room1")
				conn.On("alert", func(data json.RawMessage) {
					fromInternal <- string(data)
				})

				conn.UnbindEvent(room, "alert", func(data json.RawMessage) {})
			})

			It("leaves the registered listener in place", func() {
				inboundChan <- &wire.Message{Event: "alert", Data: json.RawMessage(`"bare"`)}
				Eventually(fromInternal).Should(Receive(Equal(`"bare"`)))
			})
		})
	})
})
