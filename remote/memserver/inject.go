package memserver

import (
	"context"

	"github.com/arloliu/go-uaclient/remote"
	"github.com/arloliu/go-uaclient/ua"
)

// FailConnects makes the next len(errs) connect attempts fail with the given errors, in order.
func (s *Server) FailConnects(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connectFaults = append(s.connectFaults, errs...)
}

// SetValue writes a new value to a variable and reports it to every monitored item sampling it.
func (s *Server) SetValue(id ua.NodeID, v any) error {
	variant, err := ua.NewVariant(v)
	if err != nil {
		return err
	}

	s.mu.Lock()
	n, err := s.space.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if n.class != ua.NodeClassVariable {
		s.mu.Unlock()
		return ua.StatusBadAttributeIDInvalid
	}
	now := s.opts.clock.Now()
	n.value = ua.DataValue{Value: variant, Status: ua.StatusOK, SourceTimestamp: now, ServerTimestamp: now}
	dv := n.value
	s.mu.Unlock()

	s.subscriptions.Range(func(_ remote.SubscriptionID, sub *subscription) bool {
		sub.sample(id, dv)
		return true
	})

	return nil
}

// Value returns the current value of a variable.
func (s *Server) Value(id ua.NodeID) (ua.DataValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.space.lookup(id)
	if err != nil {
		return ua.DataValue{}, err
	}

	return n.value, nil
}

// ExpireSubscription makes the next publishing cycle of a subscription report a
// BadTimeout status change, after which the server forgets the subscription.
func (s *Server) ExpireSubscription(id remote.SubscriptionID) bool {
	sub, ok := s.subscriptions.Load(id)
	if !ok {
		return false
	}

	sub.mu.Lock()
	sub.expired = true
	sub.mu.Unlock()

	return true
}

// StallSubscription stops (or resumes) every publish message of a subscription, simulating a
// server that stopped answering publish requests.
func (s *Server) StallSubscription(id remote.SubscriptionID, stalled bool) bool {
	sub, ok := s.subscriptions.Load(id)
	if !ok {
		return false
	}

	sub.mu.Lock()
	sub.stalled = stalled
	sub.mu.Unlock()

	return true
}

// DropConnections closes every channel, as if the network went away.
func (s *Server) DropConnections() {
	s.channels.Range(func(id remote.ChannelID, _ *channel) bool {
		_ = s.Disconnect(context.Background(), id)
		return true
	})
}

// ConnectAttempts returns the number of Connect calls received so far.
func (s *Server) ConnectAttempts() int {
	return int(s.connectAttempts.Load())
}

// ChannelCount returns the number of open channels.
func (s *Server) ChannelCount() int {
	return s.channels.Size()
}

// SessionCount returns the number of active sessions.
func (s *Server) SessionCount() int {
	return s.sessions.Size()
}

// SubscriptionIDs returns the ids of live subscriptions.
func (s *Server) SubscriptionIDs() []remote.SubscriptionID {
	ids := make([]remote.SubscriptionID, 0, s.subscriptions.Size())
	s.subscriptions.Range(func(id remote.SubscriptionID, _ *subscription) bool {
		ids = append(ids, id)
		return true
	})

	return ids
}

// MonitoredItemCount returns the number of monitored items across all subscriptions.
func (s *Server) MonitoredItemCount() int {
	count := 0
	s.subscriptions.Range(func(_ remote.SubscriptionID, sub *subscription) bool {
		sub.mu.Lock()
		count += len(sub.items)
		sub.mu.Unlock()
		return true
	})

	return count
}
