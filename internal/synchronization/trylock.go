package synchronization

import "time"

// tryLock is a non-reentrant mutex whose acquisition gives up after a timeout.
type tryLock chan struct{}

func newTryLock() tryLock {
	return make(tryLock, 1)
}

// TryLock waits at most timeout for the lock.
func (l tryLock) TryLock(timeout time.Duration) bool {
	select {
	case l <- struct{}{}:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l <- struct{}{}:
		return true
	case <-timer.C:
		return false
	}
}

func (l tryLock) Unlock() {
	<-l
}
