//go:build !unix

package cache

import "os"

// readMapped reads the whole file; memory mapping is only used on unix.
func readMapped(path string, fn func(data []byte) error) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return fn(data)
}
