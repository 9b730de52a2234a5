//go:build !unix

package observe

import "os"

// Alive reports whether pid exists. Process groups are unknown here.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	_, err := os.FindProcess(pid)
	return err == nil
}
