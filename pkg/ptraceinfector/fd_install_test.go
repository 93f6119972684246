//go:build linux

package ptraceinfector

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMsghdrBlock(t *testing.T) {
	b := msghdrBlock{start: 0x1000, dataLen: 1, controlLen: unix.CmsgSpace(4)}
	raw := b.encode()
	require.Len(t, raw, b.size())
	assert.Equal(t, 1+24+16+56, b.size())

	var iov remoteIovec
	require.NoError(t, binary.Read(bytes.NewReader(raw[b.iovecAddr()-b.start:]), binary.NativeEndian, &iov))
	assert.Equal(t, remoteIovec{Base: 0x1000, Len: 1}, iov)

	var hdr remoteMsghdr
	require.NoError(t, binary.Read(bytes.NewReader(raw[b.msghdrAddr()-b.start:]), binary.NativeEndian, &hdr))
	assert.Equal(t, b.iovecAddr(), hdr.Iov)
	assert.Equal(t, uint64(1), hdr.Iovlen)
	assert.Equal(t, uint64(0x1001), hdr.Control)
	assert.Equal(t, uint64(24), hdr.Controllen)
}

func TestMsghdrBlockDecode(t *testing.T) {
	b := msghdrBlock{start: 0x2000, dataLen: 1, controlLen: unix.CmsgSpace(4)}
	rights := unix.UnixRights(7)
	require.Len(t, rights, b.controlLen)

	raw := b.encode()
	copy(raw[b.dataLen:], rights)
	control, err := b.decode(raw)
	require.NoError(t, err)

	cmsgs, err := unix.ParseSocketControlMessage(control)
	require.NoError(t, err)
	require.Len(t, cmsgs, 1)
	fds, err := unix.ParseUnixRights(&cmsgs[0])
	require.NoError(t, err)
	assert.Equal(t, []int{7}, fds)

	_, err = b.decode(raw[:10])
	assert.ErrorIs(t, err, unix.EIO)
}

func TestSockaddrUnix(t *testing.T) {
	sa, err := sockaddrUnix("@parasite-x")
	require.NoError(t, err)
	assert.Equal(t, uint16(unix.AF_UNIX), binary.NativeEndian.Uint16(sa))
	assert.Equal(t, append([]byte{0}, "parasite-x"...), sa[2:])

	sa, err = sockaddrUnix("/run/x.sock")
	require.NoError(t, err)
	assert.Equal(t, append([]byte("/run/x.sock"), 0), sa[2:])

	_, err = sockaddrUnix("@" + string(bytes.Repeat([]byte("a"), 200)))
	assert.ErrorIs(t, err, unix.ENAMETOOLONG)
}
