//go:build unix

package ledger

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// lockFile takes an exclusive flock on f, polling until timeout.
func lockFile(f *os.File, timeout, poll time.Duration) (func(), error) {
	fd := int(f.Fd())
	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return func() { _ = unix.Flock(fd, unix.LOCK_UN) }, nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("flock: %w", err)
		}
		if !time.Now().Before(deadline) {
			return nil, ErrLedgerBusy
		}
		time.Sleep(poll)
	}
}
