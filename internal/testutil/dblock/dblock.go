// Package dblock serializes database-backed tests across packages. `go test`
// runs packages in parallel processes; tests that truncate shared tables must
// not overlap, so each package's TestMain holds a loopback listener for the
// duration of its run.
package dblock

import (
	"net"
	"os"
	"time"
)

const (
	defaultLockAddr = "127.0.0.1:45432"
	lockAddrEnv     = "TEST_DB_LOCK_ADDR"
	retryInterval   = 50 * time.Millisecond
)

// Acquire blocks until the lock is held and returns its release. When
// DATABASE_URL is unset the database tests skip themselves and no lock is
// taken.
func Acquire() func() {
	if os.Getenv("DATABASE_URL") == "" {
		return func() {}
	}
	addr := os.Getenv(lockAddrEnv)
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(retryInterval)
	}
}
