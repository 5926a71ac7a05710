//go:build unix

package cache

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// readMapped memory-maps the file at path read-only and hands the mapping to
// fn. The mapping is released before readMapped returns, so fn must not
// retain the slice.
func readMapped(path string, fn func(data []byte) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size == 0 {
		return fn(nil)
	}
	if int64(int(size)) != size {
		return fmt.Errorf("file too large to map: %d bytes", size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("mmap failed: %w", err)
	}
	defer func() {
		if uerr := unix.Munmap(data); uerr != nil && err == nil {
			err = fmt.Errorf("munmap failed: %w", uerr)
		}
	}()

	return fn(data)
}
