package remote

import (
	"context"
	"errors"
	"strconv"
	"strings"
)

// ErrTimeout marks a remote call that ran past its deadline. A timeout is a
// failed step, never a success.
var ErrTimeout = errors.New("remote call timed out")

// Host describes how to reach a server running the engine.
type Host struct {
	Name                  string
	Address               string
	Port                  int
	User                  string
	KeyFile               string
	KnownHostsFile        string
	InsecureIgnoreHostKey bool
}

func (h Host) Addr() string {
	port := h.Port
	if port == 0 {
		port = 22
	}
	return h.Address + ":" + strconv.Itoa(port)
}

// Executor runs shell commands on a host and returns their combined output.
type Executor interface {
	Run(ctx context.Context, host Host, cmds ...string) (string, error)
}

// Copier pushes a local file to a path on a host.
type Copier interface {
	Copy(ctx context.Context, host Host, localPath, remotePath string) error
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, unsafeRune) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}

func unsafeRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:=@%+,", r)
}

// Script joins commands so the first failing one stops the rest.
func Script(cmds ...string) string {
	parts := make([]string, 0, len(cmds))
	for _, c := range cmds {
		if c = strings.TrimSpace(c); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " && ")
}
