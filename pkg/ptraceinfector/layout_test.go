//go:build linux

package ptraceinfector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestNewLayout(t *testing.T) {
	tests := []struct {
		name       string
		payload    int
		args       int
		scratch    int
		payloadOff uint64
		argsOff    uint64
		scratchOff uint64
		size       uint64
	}{
		{name: "no payload", payload: 0, args: 64, scratch: 4096, payloadOff: 16, argsOff: 16, scratchOff: 80, size: 8192},
		{name: "unaligned parts", payload: 33, args: 9, scratch: 100, payloadOff: 16, argsOff: 64, scratchOff: 80, size: 4096},
		{name: "empty args", payload: 16, args: 0, scratch: 16, payloadOff: 16, argsOff: 32, scratchOff: 32, size: 4096},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLayout(tt.payload, tt.args, tt.scratch, 4096)
			assert.Equal(t, uint64(0), l.stubOff)
			assert.Equal(t, tt.payloadOff, l.payloadOff)
			assert.Equal(t, tt.argsOff, l.argsOff)
			assert.Equal(t, tt.scratchOff, l.scratchOff)
			assert.Equal(t, tt.size, l.size)
		})
	}
}

func TestLayoutStub(t *testing.T) {
	stub := layout{}.stub()
	assert.Len(t, stub, stubSize)
	assert.Equal(t, syscallStub[:], stub[:len(syscallStub)])
	for _, b := range stub[len(syscallStub):] {
		assert.Equal(t, byte(0xCC), b)
	}
}

func TestAlign(t *testing.T) {
	assert.Equal(t, uint64(16), alignUp(9, 8))
	assert.Equal(t, uint64(16), alignUp(16, 8))
	assert.Equal(t, uint64(0x7ff0), alignDown(0x7fff, 16))
}

func TestIsRestart(t *testing.T) {
	for _, errno := range []uint64{512, 513, 514, 516} {
		assert.True(t, isRestart(-errno), errno)
	}
	eintr := uint64(unix.EINTR)
	assert.False(t, isRestart(-eintr))
	assert.False(t, isRestart(512))
	assert.False(t, isRestart(0))
}
