package uaclient

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

var (
	// ErrInvalidTransition indicates an invalid connection state transition.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrNotConnected indicates that the connection was never opened or is already disconnected.
	ErrNotConnected = errors.New("connection is not connected")
	// ErrConnectInProgress indicates that another Open call is already running on the connection.
	ErrConnectInProgress = errors.New("connect already in progress")
	// ErrSessionClosed indicates that the session is already closed.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSubscriptionTerminated indicates that the subscription is already terminated.
	ErrSubscriptionTerminated = errors.New("subscription is terminated")
	// ErrItemRemoved indicates that the monitored item was removed.
	ErrItemRemoved = errors.New("monitored item is removed")
	// ErrConfigNil indicates that an option was applied to a nil Config.
	ErrConfigNil = errors.New("config is nil")
	// ErrServiceNil indicates that a nil remote.Service was given.
	ErrServiceNil = errors.New("remote service is nil")
)

// Reason classifies a failure of a client operation.
type Reason uint8

const (
	// ReasonUnknown matches any reason when used in an errors.Is target.
	ReasonUnknown Reason = iota
	// ReasonExhaustedRetries indicates that every connect attempt failed.
	ReasonExhaustedRetries
	// ReasonRefused indicates that the server refused the connection and retrying is pointless.
	ReasonRefused
	// ReasonTimeout indicates that the operation did not complete in time.
	ReasonTimeout
	// ReasonCanceled indicates that the caller canceled the operation.
	ReasonCanceled
	// ReasonConnectionLost indicates that the connection or session is gone.
	ReasonConnectionLost
	// ReasonServerRejected indicates that the server answered the request with a bad status.
	ReasonServerRejected
	// ReasonIncomplete indicates that a browse returned a continuation point.
	ReasonIncomplete
	// ReasonNodeNotFound indicates that the node does not exist in the address space.
	ReasonNodeNotFound
	// ReasonAttributeNotReadable indicates that the attribute is invalid for the node or not readable.
	ReasonAttributeNotReadable
	// ReasonAttributeNotMonitorable indicates that the attribute can't be monitored.
	ReasonAttributeNotMonitorable
	// ReasonInvalidTiming indicates inconsistent subscription timing parameters.
	ReasonInvalidTiming
	// ReasonInvalidParameters indicates invalid monitoring parameters.
	ReasonInvalidParameters
	// ReasonTerminated indicates that the subscription is terminated.
	ReasonTerminated
	// ReasonSubscriptionTerminated indicates that the owning subscription of a monitored item is terminated.
	ReasonSubscriptionTerminated
)

var reasonNames = [...]string{
	ReasonUnknown:                 "unknown",
	ReasonExhaustedRetries:        "exhausted-retries",
	ReasonRefused:                 "refused",
	ReasonTimeout:                 "timeout",
	ReasonCanceled:                "canceled",
	ReasonConnectionLost:          "connection-lost",
	ReasonServerRejected:          "server-rejected",
	ReasonIncomplete:              "incomplete",
	ReasonNodeNotFound:            "node-not-found",
	ReasonAttributeNotReadable:    "attribute-not-readable",
	ReasonAttributeNotMonitorable: "attribute-not-monitorable",
	ReasonInvalidTiming:           "invalid-timing",
	ReasonInvalidParameters:       "invalid-parameters",
	ReasonTerminated:              "terminated",
	ReasonSubscriptionTerminated:  "subscription-terminated",
}

// String returns the kebab-case name of the reason.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}

	return fmt.Sprintf("reason(%d)", uint8(r))
}

// reasoner is implemented by every typed error of this package.
type reasoner interface {
	error
	reason() Reason
}

// ReasonOf returns the reason of the first typed client error in err's chain, or ReasonUnknown.
func ReasonOf(err error) Reason {
	var r reasoner
	if errors.As(err, &r) {
		return r.reason()
	}

	return ReasonUnknown
}

func formatError(kind string, reason Reason, detail string, err error) string {
	msg := kind + " error: " + reason.String()
	if detail != "" {
		msg += " (" + detail + ")"
	}
	if err != nil {
		msg += ": " + err.Error()
	}

	return msg
}

// ConnectionError is returned by Connector.Connect and Connection.Open.
type ConnectionError struct {
	Reason   Reason
	Endpoint string
	// Attempts is the number of connect attempts that were made.
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return formatError("connection", e.Reason, e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error  { return e.Err }
func (e *ConnectionError) reason() Reason { return e.Reason }

// Is reports whether target is a *ConnectionError with the same reason. A target with
// ReasonUnknown matches any ConnectionError.
func (e *ConnectionError) Is(target error) bool {
	t, ok := target.(*ConnectionError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// SessionError is returned by SessionManager.CreateSession.
type SessionError struct {
	Reason Reason
	Err    error
}

func (e *SessionError) Error() string  { return formatError("session", e.Reason, "", e.Err) }
func (e *SessionError) Unwrap() error  { return e.Err }
func (e *SessionError) reason() Reason { return e.Reason }

func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// BrowseError is returned by Browser.Browse.
type BrowseError struct {
	Reason Reason
	Node   ua.NodeID
	// Partial holds the references received before the server signaled a continuation point.
	// It is only set for ReasonIncomplete.
	Partial *ua.BrowseResult
	Err     error
}

func (e *BrowseError) Error() string {
	return formatError("browse", e.Reason, e.Node.String(), e.Err)
}

func (e *BrowseError) Unwrap() error  { return e.Err }
func (e *BrowseError) reason() Reason { return e.Reason }

func (e *BrowseError) Is(target error) bool {
	t, ok := target.(*BrowseError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// ReadError is returned by Reader.Read.
type ReadError struct {
	Reason Reason
	Target ua.ReadValueID
	Err    error
}

func (e *ReadError) Error() string {
	return formatError("read", e.Reason, e.Target.String(), e.Err)
}

func (e *ReadError) Unwrap() error  { return e.Err }
func (e *ReadError) reason() Reason { return e.Reason }

func (e *ReadError) Is(target error) bool {
	t, ok := target.(*ReadError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// SubscriptionError is returned by subscription operations.
type SubscriptionError struct {
	Reason         Reason
	SubscriptionID remote.SubscriptionID
	Err            error
}

func (e *SubscriptionError) Error() string {
	detail := ""
	if e.SubscriptionID != 0 {
		detail = fmt.Sprintf("id=%d", e.SubscriptionID)
	}

	return formatError("subscription", e.Reason, detail, e.Err)
}

func (e *SubscriptionError) Unwrap() error  { return e.Err }
func (e *SubscriptionError) reason() Reason { return e.Reason }

func (e *SubscriptionError) Is(target error) bool {
	t, ok := target.(*SubscriptionError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// MonitorError is returned by Registry.Monitor.
type MonitorError struct {
	Reason Reason
	Target ua.ReadValueID
	Err    error
}

func (e *MonitorError) Error() string {
	return formatError("monitor", e.Reason, e.Target.String(), e.Err)
}

func (e *MonitorError) Unwrap() error  { return e.Err }
func (e *MonitorError) reason() Reason { return e.Reason }

func (e *MonitorError) Is(target error) bool {
	t, ok := target.(*MonitorError)
	return ok && (t.Reason == ReasonUnknown || t.Reason == e.Reason)
}

// statusOf extracts the OPC UA status code from a remote error.
func statusOf(err error) (ua.StatusCode, bool) {
	var code ua.StatusCode
	if errors.As(err, &code) {
		return code, true
	}

	return 0, false
}

func isConnectionLost(err error) bool {
	if errors.Is(err, remote.ErrChannelClosed) {
		return true
	}

	code, ok := statusOf(err)
	if !ok {
		return false
	}

	switch code.Code() {
	case ua.StatusBadSessionIDInvalid,
		ua.StatusBadSessionClosed,
		ua.StatusBadConnectionClosed,
		ua.StatusBadSecureChannelClosed,
		ua.StatusBadServerNotConnected,
		ua.StatusBadCommunicationError:
		return true
	}

	return false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	code, ok := statusOf(err)

	return ok && code.Code() == ua.StatusBadTimeout
}

// requestReason maps a failed session-level request into the shared part of the taxonomy.
func requestReason(err error) Reason {
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case isTimeout(err):
		return ReasonTimeout
	case isConnectionLost(err):
		return ReasonConnectionLost
	default:
		return ReasonServerRejected
	}
}
