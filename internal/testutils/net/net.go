package net

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	portsMu   sync.Mutex
	usedPorts = map[int]struct{}{}
)

/*
FreePort returns TCP port on localhost which is free at the time of the call.
The same port is never returned twice during the test run so that nodes
started by parallel tests do not collide.
*/
func FreePort(t testing.TB) int {
	t.Helper()
	portsMu.Lock()
	defer portsMu.Unlock()

	for {
		l, err := net.Listen("tcp", "localhost:0")
		require.NoError(t, err)
		port := l.Addr().(*net.TCPAddr).Port
		require.NoError(t, l.Close())
		if _, ok := usedPorts[port]; !ok {
			usedPorts[port] = struct{}{}
			return port
		}
	}
}
