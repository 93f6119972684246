//go:build linux && amd64

package ptraceinfector

import "golang.org/x/sys/unix"

const archSupported = true

type regs = unix.PtraceRegs

// syscall; int3
var syscallStub = [...]byte{0x0F, 0x05, 0xCC}

// offset of the int3 in syscallStub, used as return address for calls
const stubTrapOffset = 2

// bytes left untouched below the interrupted stack pointer
const stackRedZone = 256

func getRegs(tid int) (regs, error) {
	var r regs
	err := unix.PtraceGetRegs(tid, &r)
	return r, err
}

func setRegs(tid int, r *regs) error {
	return unix.PtraceSetRegs(tid, r)
}

func pc(r *regs) uint64 { return r.Rip }

func stackPointer(r *regs) uint64 { return r.Rsp }

func result(r *regs) uint64 { return r.Rax }

func setSyscallRegs(r *regs, ip uint64, nr int, args [6]uint64) {
	r.Rip = ip
	r.Rax = uint64(nr)
	r.Rdi = args[0]
	r.Rsi = args[1]
	r.Rdx = args[2]
	r.R10 = args[3]
	r.R8 = args[4]
	r.R9 = args[5]
	// keep the kernel from restarting whatever syscall the thread was in
	r.Orig_rax = ^uint64(0)
}

func setCallRegs(r *regs, ip, sp uint64, args [3]uint64) {
	r.Rip = ip
	r.Rsp = sp
	r.Rax = 0
	r.Rdi = args[0]
	r.Rsi = args[1]
	r.Rdx = args[2]
	r.Orig_rax = ^uint64(0)
}
