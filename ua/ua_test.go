package ua

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	require := require.New(t)

	require.True(StatusOK.IsGood())
	require.False(StatusOK.IsBad())
	require.True(StatusUncertain.IsUncertain())
	require.True(StatusBadNodeIDUnknown.IsBad())
	require.Equal("BadNodeIdUnknown", StatusBadNodeIDUnknown.String())

	var err error = StatusBadSessionClosed
	require.True(errors.Is(err, StatusBadSessionClosed))
	require.Contains(err.Error(), "BadSessionClosed")
}

func TestAttributeID(t *testing.T) {
	require := require.New(t)

	require.Equal("Value", AttributeValue.String())
	require.True(AttributeValue.IsValid())
	require.False(AttributeID(0).IsValid())
	require.False(AttributeID(99).IsValid())
}

func TestVariant(t *testing.T) {
	require := require.New(t)

	v, err := NewVariant(21.5)
	require.NoError(err)
	require.Equal(TypeDouble, v.Type)
	f, ok := v.Float64()
	require.True(ok)
	require.InDelta(21.5, f, 1e-9)

	v = MustVariant(int32(7))
	require.Equal(TypeInt32, v.Type)
	require.Equal("7", v.String())

	_, err = NewVariant(struct{}{})
	require.Error(err)

	require.Equal("null", MustVariant(nil).String())
}

func TestVariant_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Variant
		want any
	}{
		{"float", Variant{Type: TypeFloat, Value: float64(1.5)}, float32(1.5)},
		{"int32", Variant{Type: TypeInt32, Value: int64(-3)}, int32(-3)},
		{"uint16", Variant{Type: TypeUInt16, Value: uint64(9)}, uint16(9)},
		{"int64", Variant{Type: TypeInt64, Value: uint64(42)}, int64(42)},
		{"uint64", Variant{Type: TypeUInt64, Value: uint64(1 << 60)}, uint64(1 << 60)},
		{"double", Variant{Type: TypeDouble, Value: float64(2.25)}, float64(2.25)},
		{"status", Variant{Type: TypeStatusCode, Value: uint64(StatusBadTimeout)}, StatusBadTimeout},
		{"string", Variant{Type: TypeString, Value: "x"}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.in.Normalize().Value)
		})
	}
}

func TestSubscriptionParameters_Validate(t *testing.T) {
	require := require.New(t)

	p := DefaultSubscriptionParameters()
	require.NoError(p.Validate())
	require.Equal(2*time.Second, p.KeepAliveInterval())
	require.Equal(10*time.Second, p.LifetimeInterval())

	p.LifetimeCount = p.MaxKeepAliveCount
	require.ErrorIs(p.Validate(), ErrInvalidLifetimeCount)

	p = DefaultSubscriptionParameters()
	p.LifetimeCount = 1
	require.ErrorIs(p.Validate(), ErrInvalidLifetimeCount)

	p = DefaultSubscriptionParameters()
	p.PublishingInterval = 0
	require.ErrorIs(p.Validate(), ErrInvalidPublishingInterval)

	p = DefaultSubscriptionParameters()
	p.MaxKeepAliveCount = 0
	require.ErrorIs(p.Validate(), ErrInvalidKeepAliveCount)
}

func TestMonitoringParameters_Validate(t *testing.T) {
	require := require.New(t)

	p := DefaultMonitoringParameters()
	require.NoError(p.Validate())

	p.QueueSize = 0
	require.ErrorIs(p.Validate(), ErrInvalidQueueSize)

	p = DefaultMonitoringParameters()
	p.SamplingInterval = -time.Millisecond
	require.ErrorIs(p.Validate(), ErrInvalidSamplingInterval)

	p.SamplingInterval = 0
	require.NoError(p.Validate())
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in     string
		scheme string
		host   string
		ok     bool
	}{
		{"opc.tcp://opcuademo.sterfive.com:26543", SchemeOPCTCP, "opcuademo.sterfive.com:26543", true},
		{"ws://127.0.0.1:4840/ua", SchemeWS, "127.0.0.1:4840", true},
		{"wss://example.com/ua", SchemeWSS, "example.com", true},
		{"mem://demo", SchemeMem, "demo", true},
		{"", "", "", false},
		{"http://example.com", "", "", false},
		{"opc.tcp:///path", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require := require.New(t)

			ep, err := ParseEndpoint(tt.in)
			if !tt.ok {
				require.ErrorIs(err, ErrInvalidEndpoint)
				return
			}
			require.NoError(err)
			require.Equal(tt.scheme, ep.Scheme())
			require.Equal(tt.host, ep.Host())
			require.Equal(tt.in, ep.String())
			require.False(ep.IsZero())
		})
	}
}

func TestBrowseResult(t *testing.T) {
	require := require.New(t)

	r := BrowseResult{References: []ReferenceDescription{
		{BrowseName: QualifiedName{Name: "Objects"}},
		{BrowseName: QualifiedName{NamespaceIndex: 1, Name: "Demo"}},
	}}
	require.Equal([]string{"Objects", "1:Demo"}, r.BrowseNames())
	require.False(r.HasMore())

	r.ContinuationPoint = []byte{1}
	require.True(r.HasMore())
}
