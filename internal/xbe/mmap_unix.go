//go:build linux || darwin

package xbe

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mappedFile is a memory-mapped XBE file: Load works directly against
// the mapped bytes, and Close releases the mapping.
type mappedFile struct {
	data []byte
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// openMapped memory-maps path read-only. Falls back to a plain read
// for zero-length files and any platform error mmap can't recover
// from, since a handful of legitimate files (empty ones, files on
// filesystems that reject MAP_PRIVATE) aren't worth failing the whole
// load over.
func openMapped(path string) (*mappedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if st.Size() == 0 {
		return &mappedFile{data: nil}, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(st.Size()), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		raw, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("mmap %s: %w (fallback read also failed: %v)", path, err, rerr)
		}
		return &mappedFile{data: raw}, nil
	}
	return &mappedFile{data: data}, nil
}
