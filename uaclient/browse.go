package uaclient

import (
	"context"

	"github.com/arloliu/go-uaclient/logger"
	"github.com/arloliu/go-uaclient/ua"
)

// Browser issues one-shot browse requests.
type Browser struct {
	logger logger.Logger
}

// NewBrowser creates a Browser. A nil cfg uses the default configuration.
func NewBrowser(cfg *Config) *Browser {
	if cfg == nil {
		cfg, _ = NewConfig()
	}

	return &Browser{logger: cfg.Logger().With("component", "browser")}
}

// Browse returns the forward hierarchical references of start in the order the server returned them.
//
// A continuation point is not followed: it yields a *BrowseError with ReasonIncomplete that carries
// the references received so far in Partial.
func (b *Browser) Browse(ctx context.Context, sess *Session, start ua.NodeID) (*ua.BrowseResult, error) {
	if err := sess.usable(); err != nil {
		return nil, &BrowseError{Reason: ReasonConnectionLost, Node: start, Err: err}
	}

	reqCtx, cancel := sess.requestContext(ctx)
	defer cancel()

	res, err := sess.svc.Browse(reqCtx, sess.id, start)
	if err != nil {
		reason := requestReason(err)
		if code, ok := statusOf(err); ok && code.Code() == ua.StatusBadNodeIDUnknown {
			reason = ReasonNodeNotFound
		}

		return nil, &BrowseError{Reason: reason, Node: start, Err: err}
	}

	if res.Status.IsBad() {
		reason := requestReason(res.Status)
		if res.Status.Code() == ua.StatusBadNodeIDUnknown {
			reason = ReasonNodeNotFound
		}

		return nil, &BrowseError{Reason: reason, Node: start, Err: res.Status}
	}

	if res.HasMore() {
		b.logger.Debug("browse returned a continuation point", "node", start.String(), "references", len(res.References))
		return nil, &BrowseError{Reason: ReasonIncomplete, Node: start, Partial: &res, Err: ua.StatusBadNoContinuationPoints}
	}

	b.logger.Debug("browse", "node", start.String(), "references", len(res.References))

	return &res, nil
}
