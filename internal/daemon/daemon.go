package daemon

import (
	"errors"
	"os"
)

// childEnv marks the re-executed, detached instance.
const childEnv = "_PORTMON_DETACHED"

// ErrUnsupported is returned on platforms without sessions.
var ErrUnsupported = errors.New("daemonization not supported on this platform")

// IsChild reports whether this process was started by Detach.
func IsChild() bool {
	return os.Getenv(childEnv) == "1"
}

func childEnviron() []string {
	env := os.Environ()
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if len(kv) > len(childEnv) && kv[:len(childEnv)+1] == childEnv+"=" {
			continue
		}
		out = append(out, kv)
	}
	return append(out, childEnv+"=1")
}
