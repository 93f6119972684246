//go:build linux

package ptraceinfector

import (
	"fmt"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

// Payload is a position independent blob copied into the target. Entry is
// the offset of
//
//	long entry(unsigned int cmd, void *args, int log_fd)
//
// which returns a negative errno on failure.
type Payload struct {
	Blob  []byte
	Entry uint64
}

func LoadPayload(fs afero.Fs, path string, entry uint64) (*Payload, error) {
	blob, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading payload: %w", err)
	}
	p := &Payload{Blob: blob, Entry: entry}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("payload %s: %w", path, err)
	}
	return p, nil
}

func (p *Payload) Validate() error {
	if len(p.Blob) == 0 {
		return fmt.Errorf("empty blob: %w", unix.ENOEXEC)
	}
	if p.Entry >= uint64(len(p.Blob)) {
		return fmt.Errorf("entry %#x outside %d byte blob: %w", p.Entry, len(p.Blob), unix.ENOEXEC)
	}
	return nil
}
