package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	psnet "github.com/shirou/gopsutil/v3/net"
)

const (
	KindCommand = "ss"
	KindSystem  = "system"
)

// DefaultCommand lists TCP and UDP listeners numerically.
var DefaultCommand = []string{"ss", "-tuln"}

// ErrUnavailable marks a snapshot source that could not be invoked at all.
var ErrUnavailable = errors.New("snapshot source unavailable")

// Source produces the current set of listening endpoints.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// CommandSource runs an external listing utility and parses its table.
type CommandSource struct {
	Command  []string
	Capacity int
	// AddressField is the zero-based column of the local address. Zero
	// selects the `ss` layout.
	AddressField int

	// RunCommand overrides process execution in tests.
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

func (s *CommandSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	command := s.Command
	if len(command) == 0 {
		command = DefaultCommand
	}
	run := s.RunCommand
	if run == nil {
		run = runCommand
	}

	out, err := run(ctx, command[0], command[1:]...)
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: run %q: %v", ErrUnavailable, strings.Join(command, " "), err)
		}
	}
	return ParseFields(bytes.NewReader(out), s.Capacity, s.AddressField)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// SystemSource asks the operating system for sockets directly instead of
// shelling out.
type SystemSource struct {
	Capacity int

	// Connections overrides the socket listing in tests.
	Connections func(ctx context.Context, kind string) ([]psnet.ConnectionStat, error)
}

func (s *SystemSource) Snapshot(ctx context.Context) (*Snapshot, error) {
	list := s.Connections
	if list == nil {
		list = psnet.ConnectionsWithContext
	}
	conns, err := list(ctx, "inet")
	if err != nil {
		return nil, fmt.Errorf("%w: list sockets: %v", ErrUnavailable, err)
	}

	snap := New(s.Capacity)
	for _, c := range conns {
		proto, ok := listeningProtocol(c)
		if !ok {
			continue
		}
		snap.Add(Entry{
			Protocol: proto,
			Address:  net.JoinHostPort(c.Laddr.IP, strconv.FormatUint(uint64(c.Laddr.Port), 10)),
		})
		if snap.truncated {
			break
		}
	}
	return snap, nil
}

func listeningProtocol(c psnet.ConnectionStat) (string, bool) {
	switch c.Type {
	case syscall.SOCK_STREAM:
		if c.Status != "LISTEN" {
			return "", false
		}
		return "tcp", true
	case syscall.SOCK_DGRAM:
		if c.Raddr.IP != "" && c.Raddr.Port != 0 {
			return "", false
		}
		return "udp", true
	default:
		return "", false
	}
}

// NewSource builds the source named by kind.
func NewSource(kind string, command []string, capacity int) (Source, error) {
	switch kind {
	case "", KindCommand:
		return &CommandSource{Command: command, Capacity: capacity}, nil
	case KindSystem:
		return &SystemSource{Capacity: capacity}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot source %q", kind)
	}
}
