package gopcuaremote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/gopcua/opcua"
	gua "github.com/gopcua/opcua/ua"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

func toNodeID(id ua.NodeID) (*gua.NodeID, error) {
	n, err := gua.ParseNodeID(id.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ua.StatusBadNodeIDUnknown, err)
	}

	return n, nil
}

func fromNodeID(n *gua.NodeID) ua.NodeID {
	if n == nil {
		return ua.NodeID{}
	}
	id, err := ua.ParseNodeID(n.String())
	if err != nil {
		return ua.NodeID{}
	}

	return id
}

func fromExpandedNodeID(n *gua.ExpandedNodeID) ua.NodeID {
	if n == nil {
		return ua.NodeID{}
	}

	return fromNodeID(n.NodeID)
}

func fromReference(ref *gua.ReferenceDescription) ua.ReferenceDescription {
	rd := ua.ReferenceDescription{
		ReferenceTypeID: fromNodeID(ref.ReferenceTypeID),
		IsForward:       ref.IsForward,
		NodeID:          fromExpandedNodeID(ref.NodeID),
		NodeClass:       ua.NodeClass(ref.NodeClass),
		TypeDefinition:  fromExpandedNodeID(ref.TypeDefinition),
	}
	if ref.BrowseName != nil {
		rd.BrowseName = ua.QualifiedName{NamespaceIndex: ref.BrowseName.NamespaceIndex, Name: ref.BrowseName.Name}
	}
	if ref.DisplayName != nil {
		rd.DisplayName = ua.LocalizedText{Locale: ref.DisplayName.Locale, Text: ref.DisplayName.Text}
	}

	return rd
}

func fromBrowseResult(res *gua.BrowseResult) ua.BrowseResult {
	out := ua.BrowseResult{
		Status:            ua.StatusCode(res.StatusCode),
		ContinuationPoint: res.ContinuationPoint,
		References:        make([]ua.ReferenceDescription, 0, len(res.References)),
	}
	for _, ref := range res.References {
		out.References = append(out.References, fromReference(ref))
	}

	return out
}

// fromVariant maps the gopcua value onto ua.Variant. Types without a ua counterpart are rendered as strings.
func fromVariant(v *gua.Variant) ua.Variant {
	if v == nil || v.Value() == nil {
		return ua.Variant{Type: ua.TypeNull}
	}

	switch x := v.Value().(type) {
	case gua.StatusCode:
		return ua.Variant{Type: ua.TypeStatusCode, Value: ua.StatusCode(x)}
	case *gua.LocalizedText:
		return ua.Variant{Type: ua.TypeString, Value: x.Text}
	case *gua.QualifiedName:
		return ua.Variant{Type: ua.TypeString, Value: x.Name}
	case *gua.NodeID:
		return ua.Variant{Type: ua.TypeString, Value: x.String()}
	}

	variant, err := ua.NewVariant(v.Value())
	if err != nil {
		return ua.Variant{Type: ua.TypeString, Value: fmt.Sprint(v.Value())}
	}

	return variant
}

func fromDataValue(dv *gua.DataValue) ua.DataValue {
	if dv == nil {
		return ua.DataValue{Status: ua.StatusBad}
	}

	return ua.DataValue{
		Value:           fromVariant(dv.Value),
		Status:          ua.StatusCode(dv.Status),
		SourceTimestamp: dv.SourceTimestamp,
		ServerTimestamp: dv.ServerTimestamp,
	}
}

func toSubscriptionParameters(p ua.SubscriptionParameters) *opcua.SubscriptionParameters {
	return &opcua.SubscriptionParameters{
		Interval:                   p.PublishingInterval,
		LifetimeCount:              p.LifetimeCount,
		MaxKeepAliveCount:          p.MaxKeepAliveCount,
		MaxNotificationsPerPublish: p.MaxNotificationsPerPublish,
		Priority:                   p.Priority,
	}
}

func toMonitoredItemRequest(id *gua.NodeID, req remote.MonitoredItemRequest) *gua.MonitoredItemCreateRequest {
	mr := opcua.NewMonitoredItemCreateRequestWithDefaults(id, gua.AttributeID(req.Target.AttributeID), req.ClientHandle)
	mr.RequestedParameters.SamplingInterval = float64(req.Params.SamplingInterval) / float64(time.Millisecond)
	mr.RequestedParameters.QueueSize = req.Params.QueueSize
	mr.RequestedParameters.DiscardOldest = req.Params.DiscardOldest

	return mr
}

// selectEndpoint picks the unsecured endpoint, the only security mode the client requests.
func selectEndpoint(endpoints []*gua.EndpointDescription) *gua.EndpointDescription {
	for _, ep := range endpoints {
		if ep.SecurityPolicyURI == gua.SecurityPolicyURINone && ep.SecurityMode == gua.MessageSecurityModeNone {
			return ep
		}
	}

	return nil
}

// classify maps gopcua and network errors onto ua status codes and remote sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var status gua.StatusCode
	if errors.As(err, &status) {
		return fmt.Errorf("%w: %v", ua.StatusCode(status), err)
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ua.StatusBadTimeout, err)
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", remote.ErrRefused, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Op == "dial" {
			return fmt.Errorf("%w: %v", remote.ErrRefused, err)
		}
		return fmt.Errorf("%w: %v", remote.ErrChannelClosed, err)
	}

	return err
}
