//go:build linux

package ptraceinfector

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// In-target mirrors of unix.Iovec and unix.Msghdr on 64 bit linux.
type remoteIovec struct {
	Base uint64
	Len  uint64
}

type remoteMsghdr struct {
	Name       uint64
	Namelen    uint32
	_          [4]byte
	Iov        uint64
	Iovlen     uint64
	Control    uint64
	Controllen uint64
	Flags      int32
	_          [4]byte
}

// msghdrBlock lays out iov data, control data, the iovec and the msghdr
// for an in-target sendmsg/recvmsg starting at start.
type msghdrBlock struct {
	start      uint64
	dataLen    int
	controlLen int
}

func (b msghdrBlock) controlAddr() uint64 { return b.start + uint64(b.dataLen) }
func (b msghdrBlock) iovecAddr() uint64   { return b.controlAddr() + uint64(b.controlLen) }
func (b msghdrBlock) msghdrAddr() uint64  { return b.iovecAddr() + uint64(binary.Size(remoteIovec{})) }

// encode returns the block bytes; the msghdr lives at msghdrAddr.
func (b msghdrBlock) encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, b.dataLen+b.controlLen))
	_ = binary.Write(buf, binary.NativeEndian, remoteIovec{Base: b.start, Len: uint64(b.dataLen)})
	_ = binary.Write(buf, binary.NativeEndian, remoteMsghdr{
		Iov:        b.iovecAddr(),
		Iovlen:     1,
		Control:    b.controlAddr(),
		Controllen: uint64(b.controlLen),
	})
	return buf.Bytes()
}

func (b msghdrBlock) size() int {
	return b.dataLen + b.controlLen + binary.Size(remoteIovec{}) + binary.Size(remoteMsghdr{})
}

// decode pulls the received control bytes out of a block read back from the
// target.
func (b msghdrBlock) decode(raw []byte) ([]byte, error) {
	if len(raw) < b.size() {
		return nil, fmt.Errorf("msghdr block is %d bytes, want %d: %w", len(raw), b.size(), unix.EIO)
	}
	var hdr remoteMsghdr
	off := int(b.msghdrAddr() - b.start)
	if err := binary.Read(bytes.NewReader(raw[off:]), binary.NativeEndian, &hdr); err != nil {
		return nil, err
	}
	if hdr.Controllen > uint64(b.controlLen) {
		return nil, fmt.Errorf("control length %d exceeds buffer %d: %w", hdr.Controllen, b.controlLen, unix.EIO)
	}
	return raw[b.dataLen : b.dataLen+int(hdr.Controllen)], nil
}

// sockaddrUnix encodes a sockaddr_un. A leading @ names an abstract socket.
func sockaddrUnix(path string) ([]byte, error) {
	p := []byte(path)
	abstract := len(p) > 0 && p[0] == '@'
	if abstract {
		p[0] = 0
	} else {
		p = append(p, 0)
	}
	if len(p) > len(unix.RawSockaddrUnix{}.Path) {
		return nil, fmt.Errorf("socket path %q too long: %w", path, unix.ENAMETOOLONG)
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.NativeEndian, uint16(unix.AF_UNIX))
	buf.Write(p)
	return buf.Bytes(), nil
}

// installFd duplicates hostFd into the target over an abstract unix socket
// and returns the descriptor number it got there.
func (c *infectCtx) installFd(hostFd int) (remoteFd int, err error) {
	addr := "@parasite-" + uuid.NewString()
	l, err := net.Listen("unix", addr)
	if err != nil {
		return -1, fmt.Errorf("listen %s: %w", addr, err)
	}
	defer l.Close()

	sock, err := c.sys(unix.SYS_SOCKET, [6]uint64{unix.AF_UNIX, unix.SOCK_STREAM | unix.SOCK_CLOEXEC})
	if err != nil {
		return -1, fmt.Errorf("remote socket: %w", err)
	}
	defer func() {
		if _, cerr := c.sys(unix.SYS_CLOSE, [6]uint64{sock}); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("remote close: %w", cerr))
		}
	}()

	sa, err := sockaddrUnix(addr)
	if err != nil {
		return -1, err
	}
	scratch := c.base + c.layout.scratchOff
	if err := c.poke(scratch, sa); err != nil {
		return -1, err
	}
	if _, err := c.sys(unix.SYS_CONNECT, [6]uint64{sock, scratch, uint64(len(sa))}); err != nil {
		return -1, fmt.Errorf("remote connect: %w", err)
	}

	conn, err := l.Accept()
	if err != nil {
		return -1, fmt.Errorf("accept: %w", err)
	}
	defer conn.Close()
	// one data byte so the rights are not dropped
	if _, _, err := conn.(*net.UnixConn).WriteMsgUnix([]byte{0}, unix.UnixRights(hostFd), nil); err != nil {
		return -1, fmt.Errorf("write rights: %w", err)
	}

	block := msghdrBlock{start: scratch, dataLen: 1, controlLen: unix.CmsgSpace(4)}
	if block.size() > c.infector.scratchSize {
		return -1, fmt.Errorf("scratch area of %d bytes cannot hold a msghdr: %w", c.infector.scratchSize, unix.ENOSPC)
	}
	if err := c.poke(scratch, block.encode()); err != nil {
		return -1, err
	}
	if _, err := c.sys(unix.SYS_RECVMSG, [6]uint64{sock, block.msghdrAddr(), unix.MSG_CMSG_CLOEXEC}); err != nil {
		return -1, fmt.Errorf("remote recvmsg: %w", err)
	}
	raw, err := c.peek(scratch, block.size())
	if err != nil {
		return -1, err
	}
	control, err := block.decode(raw)
	if err != nil {
		return -1, err
	}
	cmsgs, err := unix.ParseSocketControlMessage(control)
	if err != nil {
		return -1, fmt.Errorf("parse control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return -1, fmt.Errorf("no rights received: %w", unix.EBADMSG)
	}
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return -1, fmt.Errorf("parse rights: %w", err)
	}
	if len(fds) != 1 {
		return -1, fmt.Errorf("received %d descriptors: %w", len(fds), unix.EBADMSG)
	}
	return fds[0], nil
}
