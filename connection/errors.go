package connection

import "fmt"

// The TransportClosedError marks the underlying socket going away out from
// under the connection. There is no reconnection: the connection itself stays
// up and sends buffer until Close.
type TransportClosedError struct {
	Err error
}

func (e *TransportClosedError) Error() string {
	if e.Err == nil {
		return "the transport closed underneath the connection"
	}
	return fmt.Sprintf("the transport closed underneath the connection: %s", e.Err)
}

func (e *TransportClosedError) Unwrap() error { return e.Err }
