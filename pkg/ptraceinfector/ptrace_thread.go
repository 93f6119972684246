//go:build linux

package ptraceinfector

import "runtime"

// ptraceThread runs every ptrace request for one target on a single OS
// thread. The kernel only accepts requests from the thread that attached.
type ptraceThread struct {
	reqs chan func()
	done chan struct{}
}

func newPtraceThread() *ptraceThread {
	t := &ptraceThread{
		reqs: make(chan func()),
		done: make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *ptraceThread) loop() {
	// Never unlocked. When the loop returns the OS thread exits with it and
	// the kernel detaches anything still attached.
	runtime.LockOSThread()
	for fn := range t.reqs {
		fn()
		t.done <- struct{}{}
	}
}

func (t *ptraceThread) exec(fn func()) {
	t.reqs <- fn
	<-t.done
}

func (t *ptraceThread) stop() {
	close(t.reqs)
}
