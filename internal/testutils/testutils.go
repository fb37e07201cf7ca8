package test

import "time"

// Timeouts for require.Eventually style checks of asynchronous events.
const (
	WaitDuration = 2 * time.Second
	WaitTick     = 100 * time.Millisecond
)
