package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneSlice(t *testing.T) {
	require := require.New(t)

	src := []string{"a", "b", "c"}
	clone := CloneSlice(src, 0)
	require.Equal(src, clone)

	clone[0] = "z"
	require.Equal("a", src[0])

	require.Len(CloneSlice(src, 5), 5)
	require.Nil(CloneSlice[string](nil, 0))
	require.NotNil(CloneSlice([]string{}, 0))
}
