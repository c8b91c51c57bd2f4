//go:build !(linux || darwin || freebsd)

package daemon

func Detach(args []string) (int, error) {
	return 0, ErrUnsupported
}

func Prepare() error {
	return ErrUnsupported
}
