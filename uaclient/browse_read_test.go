package uaclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-uaclient/remote/memserver"
	"github.com/arloliu/go-uaclient/ua"
)

func TestBrowser_Browse(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)

	res, err := env.browser.Browse(context.Background(), sess, ua.RootFolderID)
	require.NoError(err)
	require.Equal([]string{"Objects", "Types", "Views"}, res.BrowseNames())
	require.Equal(ua.ObjectsFolderID, res.References[0].NodeID)
	require.True(res.References[0].IsForward)

	// browsing is never cached
	again, err := env.browser.Browse(context.Background(), sess, ua.RootFolderID)
	require.NoError(err)
	require.Equal(res.References, again.References)

	_, err = env.browser.Browse(context.Background(), sess, ua.NewStringNodeID(3, "missing"))
	require.ErrorIs(err, &BrowseError{Reason: ReasonNodeNotFound})
	require.ErrorIs(err, ua.StatusBadNodeIDUnknown)
}

func TestBrowser_ContinuationPoint(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t, memserver.WithBrowseLimit(2))
	sess := env.openSession(t)

	res, err := env.browser.Browse(context.Background(), sess, ua.RootFolderID)
	require.Nil(res)
	require.ErrorIs(err, &BrowseError{Reason: ReasonIncomplete})

	var browseErr *BrowseError
	require.ErrorAs(err, &browseErr)
	require.NotNil(browseErr.Partial)
	require.Equal([]string{"Objects", "Types"}, browseErr.Partial.BrowseNames())
	require.True(browseErr.Partial.HasMore())
}

func TestReader_Read(t *testing.T) {
	require := require.New(t)

	env := newTestEnv(t)
	sess := env.openSession(t)

	dv, err := env.reader.ReadValue(context.Background(), sess, memserver.TemperatureID)
	require.NoError(err)
	require.True(dv.Status.IsGood())
	v, ok := dv.Value.Float64()
	require.True(ok)
	require.InDelta(21.5, v, 1e-9)

	// every call issues a fresh request
	require.NoError(env.srv.SetValue(memserver.TemperatureID, 23.25))
	dv, err = env.reader.Read(context.Background(), sess, memserver.TemperatureID, ua.AttributeValue)
	require.NoError(err)
	v, _ = dv.Value.Float64()
	require.InDelta(23.25, v, 1e-9)

	dv, err = env.reader.Read(context.Background(), sess, memserver.TemperatureID, ua.AttributeBrowseName)
	require.NoError(err)
	require.Equal("1:Temperature", dv.Value.Value)
}

func TestReader_Errors(t *testing.T) {
	env := newTestEnv(t)
	sess := env.openSession(t)

	tests := []struct {
		name   string
		node   ua.NodeID
		attr   ua.AttributeID
		reason Reason
	}{
		{"unknown node", ua.NewStringNodeID(1, "Pressure"), ua.AttributeValue, ReasonNodeNotFound},
		{"not readable", ua.NewStringNodeID(1, "Secret"), ua.AttributeValue, ReasonAttributeNotReadable},
		{"value of a folder", ua.ObjectsFolderID, ua.AttributeValue, ReasonAttributeNotReadable},
		{"unsupported attribute", memserver.TemperatureID, ua.AttributeHistorizing, ReasonAttributeNotReadable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require := require.New(t)

			_, err := env.reader.Read(context.Background(), sess, tt.node, tt.attr)
			require.ErrorIs(err, &ReadError{Reason: tt.reason})
			require.Equal(tt.reason, ReasonOf(err))

			var readErr *ReadError
			require.ErrorAs(err, &readErr)
			require.Equal(tt.node, readErr.Target.NodeID)
		})
	}
}
