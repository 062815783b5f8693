//go:build windows

package mmap

import (
	"io"
	"os"
)

// Windows fallback: read the file into memory. The centroid table is small
// enough that this keeps behavior identical without the syscall surface.
func mmap(f *os.File, size int) ([]byte, error) {
	data := make([]byte, size)
	if _, err := io.ReadFull(f, data); err != nil {
		return nil, err
	}
	return data, nil
}

func munmap(data []byte) error {
	return nil
}
