//go:build !unix

package weights

import (
	"fmt"
	"os"
)

// mapFile reads the whole file on platforms without mmap support.
func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, nil, formatErr("%s is empty", path)
	}
	return data, func() error { return nil }, nil
}
