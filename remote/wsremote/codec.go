package wsremote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// frame kinds
const (
	kindRequest uint8 = iota + 1
	kindResponse
	kindPublish
	kindPublishEnd
)

// operations
const (
	opConnect             = "connect"
	opDisconnect          = "disconnect"
	opCreateSession       = "create_session"
	opCloseSession        = "close_session"
	opBrowse              = "browse"
	opRead                = "read"
	opCreateSubscription  = "create_subscription"
	opDeleteSubscription  = "delete_subscription"
	opCreateMonitoredItem = "create_monitored_item"
	opDeleteMonitoredItem = "delete_monitored_item"
)

// error classes carried in response frames
const (
	errStatus           = "status"
	errChannelClosed    = "channel_closed"
	errEndpointMismatch = "endpoint_mismatch"
	errRefused          = "refused"
	errDeadline         = "deadline"
	errCanceled         = "canceled"
	errOther            = "other"
)

// frame is the unit exchanged over the WebSocket, one per binary message.
type frame struct {
	Kind    uint8           `cbor:"1,keyasint"`
	ID      uint32          `cbor:"2,keyasint,omitempty"`
	Op      string          `cbor:"3,keyasint,omitempty"`
	Body    cbor.RawMessage `cbor:"4,keyasint,omitempty"`
	ErrKind string          `cbor:"5,keyasint,omitempty"`
	Status  uint32          `cbor:"6,keyasint,omitempty"`
	ErrMsg  string          `cbor:"7,keyasint,omitempty"`
	SubID   uint32          `cbor:"8,keyasint,omitempty"`
}

type connectRequest struct {
	Endpoint      string              `cbor:"1,keyasint"`
	Security      ua.SecuritySettings `cbor:"2,keyasint"`
	AllowMismatch bool                `cbor:"3,keyasint,omitempty"`
}

type channelRequest struct {
	Channel remote.ChannelID `cbor:"1,keyasint"`
}

type createSessionRequest struct {
	Channel remote.ChannelID `cbor:"1,keyasint"`
	Name    string           `cbor:"2,keyasint"`
	Timeout time.Duration    `cbor:"3,keyasint"`
}

type sessionRequest struct {
	Session remote.SessionID `cbor:"1,keyasint"`
}

type nodeRequest struct {
	Session   remote.SessionID `cbor:"1,keyasint"`
	Node      ua.NodeID        `cbor:"2,keyasint"`
	Attribute ua.AttributeID   `cbor:"3,keyasint,omitempty"`
}

type createSubscriptionRequest struct {
	Session remote.SessionID          `cbor:"1,keyasint"`
	Params  ua.SubscriptionParameters `cbor:"2,keyasint"`
}

type subscriptionResponse struct {
	ID      remote.SubscriptionID     `cbor:"1,keyasint"`
	Revised ua.SubscriptionParameters `cbor:"2,keyasint"`
}

type itemRequest struct {
	Subscription remote.SubscriptionID       `cbor:"1,keyasint"`
	Item         remote.MonitoredItemID      `cbor:"2,keyasint,omitempty"`
	Request      remote.MonitoredItemRequest `cbor:"3,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
		TimeTag:       cbor.EncTagRequired,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

func encodeFrame(f *frame) ([]byte, error) {
	return encMode.Marshal(f)
}

func decodeFrame(data []byte) (*frame, error) {
	f := &frame{}
	if err := decMode.Unmarshal(data, f); err != nil {
		return nil, err
	}

	return f, nil
}

func encodeBody(v any) (cbor.RawMessage, error) {
	if v == nil {
		return nil, nil
	}

	return encMode.Marshal(v)
}

func decodeBody(raw cbor.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}

	return decMode.Unmarshal(raw, v)
}

// setError stores err in the response frame f.
func setError(f *frame, err error) {
	f.ErrMsg = err.Error()

	var status ua.StatusCode
	switch {
	case errors.As(err, &status):
		f.ErrKind = errStatus
		f.Status = uint32(status)
	case errors.Is(err, remote.ErrChannelClosed):
		f.ErrKind = errChannelClosed
	case errors.Is(err, remote.ErrEndpointMismatch):
		f.ErrKind = errEndpointMismatch
	case errors.Is(err, remote.ErrRefused):
		f.ErrKind = errRefused
	case errors.Is(err, context.DeadlineExceeded):
		f.ErrKind = errDeadline
	case errors.Is(err, context.Canceled):
		f.ErrKind = errCanceled
	default:
		f.ErrKind = errOther
	}
}

// frameError rebuilds the error carried by a response frame, keeping the class so errors.Is works.
func frameError(f *frame) error {
	var base error
	switch f.ErrKind {
	case "":
		return nil
	case errStatus:
		status := ua.StatusCode(f.Status)
		if f.ErrMsg == status.Error() {
			return status
		}
		base = status
	case errChannelClosed:
		base = remote.ErrChannelClosed
	case errEndpointMismatch:
		base = remote.ErrEndpointMismatch
	case errRefused:
		base = remote.ErrRefused
	case errDeadline:
		base = context.DeadlineExceeded
	case errCanceled:
		base = context.Canceled
	default:
		return errors.New(f.ErrMsg)
	}

	return &remoteError{base: base, msg: f.ErrMsg}
}

// remoteError is an error reported by the server side, matching its original class.
type remoteError struct {
	base error
	msg  string
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.base }

// normalizeValue restores Go types lost by the generic CBOR decoding of Variant values.
func normalizeValue(dv ua.DataValue) ua.DataValue {
	dv.Value = dv.Value.Normalize()
	if dv.Value.Type == ua.TypeDateTime {
		if s, ok := dv.Value.Value.(string); ok {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				dv.Value.Value = ts
			}
		}
	}

	return dv
}
