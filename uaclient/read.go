package uaclient

import (
	"context"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/ua"
)

// Reader issues one-shot attribute reads. Values are never cached.
type Reader struct {
	logger logger.Logger
}

// NewReader creates a Reader. A nil cfg uses the default configuration.
func NewReader(cfg *Config) *Reader {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &Reader{logger: cfg.Logger().With("component", "reader")}
}

// ReadValue reads the Value attribute of node.
func (r *Reader) ReadValue(ctx context.Context, sess *Session, node ua.NodeID) (ua.DataValue, error) {
	return r.Read(ctx, sess, node, ua.AttributeValue)
}

// Read reads one attribute of node. A bad status on the returned value is reported as a *ReadError.
func (r *Reader) Read(ctx context.Context, sess *Session, node ua.NodeID, attr ua.AttributeID) (ua.DataValue, error) {
	target := ua.ReadValueID{NodeID: node, AttributeID: attr}

	if err := sess.usable(); err != nil {
		return ua.DataValue{}, &ReadError{Reason: ReasonConnectionLost, Target: target, Err: err}
	}

	reqCtx, cancel := sess.requestContext(ctx)
	defer cancel()

	dv, err := sess.svc.Read(reqCtx, sess.id, node, attr)
	if err != nil {
		return ua.DataValue{}, &ReadError{Reason: readReason(err), Target: target, Err: err}
	}

	if dv.Status.IsBad() {
		return ua.DataValue{}, &ReadError{Reason: readReason(dv.Status), Target: target, Err: dv.Status}
	}

	r.logger.Debug("read", "target", target.String(), "value", dv.Value.String())

	return dv, nil
}

func readReason(err error) Reason {
	if code, ok := statusOf(err); ok {
		switch code.Code() {
		case ua.StatusBadNodeIDUnknown:
			return ReasonNodeNotFound
		case ua.StatusBadAttributeIDInvalid, ua.StatusBadNotReadable:
			return ReasonAttributeNotReadable
		}
	}

	return requestReason(err)
}
