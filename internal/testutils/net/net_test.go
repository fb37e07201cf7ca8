package net

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFreePort(t *testing.T) {
	seen := map[int]struct{}{}
	for range 10 {
		port := FreePort(t)
		require.NotContains(t, seen, port)
		seen[port] = struct{}{}
	}

	l, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", FreePort(t)))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
