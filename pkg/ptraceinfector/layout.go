//go:build linux

package ptraceinfector

// stubSize is the room reserved for the syscall stub at the region start.
const stubSize = 8

// layout of the region mapped into the target:
//
//	stub | payload | args | scratch
//
// every part starts 16 byte aligned, the whole region is page rounded
type layout struct {
	stubOff    uint64
	payloadOff uint64
	argsOff    uint64
	scratchOff uint64
	size       uint64
}

func newLayout(payloadLen, argsSize, scratchSize int, pageSize uint64) layout {
	var l layout
	l.stubOff = 0
	l.payloadOff = alignUp(stubSize, 16)
	l.argsOff = alignUp(l.payloadOff+uint64(payloadLen), 16)
	l.scratchOff = alignUp(l.argsOff+uint64(argsSize), 16)
	l.size = alignUp(l.scratchOff+uint64(scratchSize), pageSize)
	return l
}

func (l layout) stub() []byte {
	stub := make([]byte, stubSize)
	for i := range stub {
		stub[i] = 0xCC
	}
	copy(stub, syscallStub[:])
	return stub
}
