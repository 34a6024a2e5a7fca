package safe_close

import (
	"errors"
	"sync"
)

// SafeClose coordinates the shutdown of a service and its goroutines.
//
//  1. The main goroutine waits on ReceiveCloseSignal and calls Done before it returns.
//  2. Sub goroutines are started with Attach and must return once closeSignal is closed.
//     An error returned before the close signal is fatal and closes the service.
//     Errors returned after it are collected as shutdown errors.
//  3. Any goroutine can call SendCloseSignal to stop the service.
//     CloseWait must not be called from an Attach-ed goroutine, it would deadlock.
//  4. Anyone else can call CloseWait to stop the service and wait for it.
type SafeClose struct {
	m            sync.Mutex
	wg           sync.WaitGroup
	closeSignal  chan struct{}
	done         chan struct{}
	doneOnce     sync.Once
	closeErr     error
	shutdownErrs []error
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// CloseWait sends a close signal and blocks until Done was called and
// every Attach-ed goroutine returned. It can be called many times.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.wg.Wait()
	<-s.done
}

// SendCloseSignal closes the close signal channel. err is kept as the
// cause if the channel was still open. Later calls are no-op.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	s.closeLocked(err)
}

func (s *SafeClose) closeLocked(err error) bool {
	select {
	case <-s.closeSignal:
		return false
	default:
		s.closeErr = err
		close(s.closeSignal)
		return true
	}
}

// report handles an error returned by an Attach-ed goroutine.
func (s *SafeClose) report(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if !s.closeLocked(err) {
		s.shutdownErrs = append(s.shutdownErrs, err)
	}
}

// Err returns the cause of the close joined with every shutdown error.
// It is nil if the service was closed cleanly. Call it after CloseWait
// to see all shutdown errors.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return errors.Join(append([]error{s.closeErr}, s.shutdownErrs...)...)
}

// Cause returns only the error that closed the service, if any.
func (s *SafeClose) Cause() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Attach runs f in a new goroutine tracked by CloseWait.
// f is not run if s is already closed.
func (s *SafeClose) Attach(f func(closeSignal <-chan struct{}) error) {
	s.m.Lock()
	select {
	case <-s.closeSignal:
		s.m.Unlock()
		return
	default:
		s.wg.Add(1)
	}
	s.m.Unlock()

	go func() {
		defer s.wg.Done()
		if err := f(s.closeSignal); err != nil {
			s.report(err)
		}
	}()
}

// Done notifies CloseWait that the main goroutine is done.
// It can be called many times.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}
