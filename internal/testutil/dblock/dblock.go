// Package dblock serialises test packages that share one Postgres database.
// go test runs packages in parallel and each of them truncates the settlement
// tables, so they take turns holding a loopback TCP port.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is free and returns its release func.
// TEST_DB_LOCK_ADDR overrides the port when 45432 is taken on the host.
func Acquire() func() {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
