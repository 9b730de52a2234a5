//go:build !unix

package enforce

const platformCanSignal = false

func platformKill(pid int, sig Signal) error {
	return ErrUnsupported
}
