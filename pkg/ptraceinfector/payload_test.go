//go:build linux

package ptraceinfector

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLoadPayload(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/payload/parasite.bin", []byte{0x90, 0x90, 0x31, 0xc0, 0xc3}, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/payload/empty.bin", nil, 0o644))

	tests := []struct {
		name    string
		path    string
		entry   uint64
		wantErr error
	}{
		{name: "ok", path: "/payload/parasite.bin", entry: 2},
		{name: "missing", path: "/payload/nope.bin", wantErr: afero.ErrFileNotFound},
		{name: "empty", path: "/payload/empty.bin", wantErr: unix.ENOEXEC},
		{name: "entry outside blob", path: "/payload/parasite.bin", entry: 5, wantErr: unix.ENOEXEC},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := LoadPayload(fs, tt.path, tt.entry)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, p.Blob, 5)
			assert.Equal(t, tt.entry, p.Entry)
		})
	}
}
