//go:build !unix

package ledger

import (
	"os"
	"sync"
	"time"
)

// Without flock only writers inside this process are serialized.
var (
	locksMu sync.Mutex
	locks   = map[string]chan struct{}{}
)

func lockFile(f *os.File, timeout, poll time.Duration) (func(), error) {
	locksMu.Lock()
	sem, ok := locks[f.Name()]
	if !ok {
		sem = make(chan struct{}, 1)
		locks[f.Name()] = sem
	}
	locksMu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-timer.C:
		return nil, ErrLedgerBusy
	}
}
