//go:build !(linux || darwin)

package xbe

import "os"

// mappedFile on unsupported platforms is just the file's contents read
// into memory; there is nothing to unmap.
type mappedFile struct {
	data []byte
}

func (m *mappedFile) Bytes() []byte { return m.data }

func (m *mappedFile) Close() error { return nil }

func openMapped(path string) (*mappedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &mappedFile{data: data}, nil
}
