//go:build linux && !amd64

package ptraceinfector

import "golang.org/x/sys/unix"

// Only amd64 register handling is implemented. Prepare rejects every target
// before any of the helpers below can run.
const archSupported = false

type regs struct{}

var syscallStub = [...]byte{}

const (
	stubTrapOffset = 0
	stackRedZone   = 0
)

func getRegs(int) (regs, error)  { return regs{}, unix.ENOTSUP }
func setRegs(int, *regs) error   { return unix.ENOTSUP }
func pc(*regs) uint64            { return 0 }
func stackPointer(*regs) uint64  { return 0 }
func result(*regs) uint64        { return ^uint64(0) }
func setSyscallRegs(*regs, uint64, int, [6]uint64) {}
func setCallRegs(*regs, uint64, uint64, [3]uint64) {}
