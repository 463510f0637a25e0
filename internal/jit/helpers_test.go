package jit_test

import "time"

// sleepMillis keeps the watcher polling loops readable.
func sleepMillis(n int) {
	time.Sleep(time.Duration(n) * time.Millisecond)
}
