package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/sentinelhq/sentinel/internal/remote"
)

// fakeHost plays an engine host: a file system, a bouncer registry and a
// running container, driven by the commands the orchestrator sends.
type fakeHost struct {
	mu sync.Mutex

	files    map[string]string
	bouncers map[string]string
	parsers  []string
	down     bool
	failOn   string

	engineReloads int
	proxyReloads  int
	commands      []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files:    map[string]string{},
		bouncers: map[string]string{},
		parsers:  []string{"crowdsecurity/traefik-logs"},
	}
}

func (f *fakeHost) Run(_ context.Context, _ remote.Host, cmds ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out strings.Builder
	for _, cmd := range cmds {
		f.commands = append(f.commands, cmd)
		if f.failOn != "" && strings.Contains(cmd, f.failOn) {
			return "", errors.New("connection reset")
		}
		res, err := f.exec(cmd)
		out.WriteString(res)
		if err != nil {
			return out.String(), err
		}
	}
	return out.String(), nil
}

func (f *fakeHost) exec(cmd string) (string, error) {
	switch {
	case strings.HasPrefix(cmd, "docker ps --filter"):
		if f.down {
			return "", nil
		}
		return "Up 3 minutes\n", nil
	case strings.Contains(cmd, "cscli parsers list"):
		return strings.Join(f.parsers, "\n"), nil
	case strings.Contains(cmd, "cscli parsers install"):
		f.parsers = append(f.parsers, geoIPParser)
		return "", nil
	case strings.HasPrefix(cmd, "mkdir -p"), strings.HasPrefix(cmd, "chown -R"):
		return "", nil
	case strings.HasPrefix(cmd, "test -f "):
		p := strings.TrimPrefix(cmd, "test -f ")
		p = p[:strings.Index(p, " &&")]
		if _, ok := f.files[unquote(p)]; ok {
			return "present\n", nil
		}
		return "missing\n", nil
	case strings.Contains(cmd, "cscli bouncers add"):
		name := unquote(strings.Fields(after(cmd, "bouncers add "))[0])
		if _, ok := f.bouncers[name]; ok {
			return "level=fatal msg=\"unable to create bouncer: bouncer " + name + " already exists\"", errors.New("exit status 1")
		}
		key := fmt.Sprintf("key%029x", len(f.commands))
		f.bouncers[name] = key
		return key + "\n", nil
	case strings.Contains(cmd, "cscli bouncers delete"):
		name := unquote(strings.TrimSpace(after(cmd, "bouncers delete ")))
		if _, ok := f.bouncers[name]; !ok {
			return "bouncer not found", errors.New("exit status 1")
		}
		delete(f.bouncers, name)
		return "", nil
	case strings.Contains(cmd, "cscli bouncers list"):
		names := make([]string, 0, len(f.bouncers))
		for n := range f.bouncers {
			names = append(names, n)
		}
		sort.Strings(names)
		list := make([]map[string]string, 0, len(names))
		for _, n := range names {
			list = append(list, map[string]string{"name": n})
		}
		data, _ := json.Marshal(list)
		return string(data), nil
	case strings.Contains(cmd, "cscli scenarios list"):
		var names []string
		for p, content := range f.files {
			if path.Base(path.Dir(p)) != "scenarios" {
				continue
			}
			for _, line := range strings.Split(content, "\n") {
				if strings.HasPrefix(line, "name: ") {
					names = append(names, strings.TrimPrefix(line, "name: "))
				}
			}
		}
		sort.Strings(names)
		var out strings.Builder
		out.WriteString("name,status,version,description\n")
		for _, n := range names {
			fmt.Fprintf(&out, "%s,enabled,,local scenario\n", n)
		}
		return out.String(), nil
	case strings.Contains(cmd, "cscli version"):
		return "version: v1.6.3\nCodename: alphaga\n", nil
	case strings.HasPrefix(cmd, "rm -f "):
		for _, p := range strings.Fields(strings.TrimPrefix(cmd, "rm -f ")) {
			delete(f.files, unquote(p))
		}
		return "", nil
	case strings.Contains(cmd, "kill -SIGHUP 1"):
		f.engineReloads++
		return "", nil
	case strings.HasPrefix(cmd, "docker kill --signal=HUP"):
		f.proxyReloads++
		return "", nil
	}
	return "", fmt.Errorf("unexpected command %q", cmd)
}

func (f *fakeHost) Copy(_ context.Context, _ remote.Host, localPath, remotePath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[remotePath] = string(data)
	return nil
}

func (f *fakeHost) has(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.files[p]
	return ok
}

func (f *fakeHost) file(p string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[p]
}

func (f *fakeHost) ran(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.commands {
		if strings.Contains(c, substr) {
			n++
		}
	}
	return n
}

func after(s, sep string) string {
	_, rest, _ := strings.Cut(s, sep)
	return rest
}

func unquote(s string) string {
	return strings.Trim(s, "'")
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o600)
}

// fleet routes commands to one fakeHost per server name.
type fleet map[string]*fakeHost

func (f fleet) Run(ctx context.Context, host remote.Host, cmds ...string) (string, error) {
	return f[host.Name].Run(ctx, host, cmds...)
}

func (f fleet) Copy(ctx context.Context, host remote.Host, localPath, remotePath string) error {
	return f[host.Name].Copy(ctx, host, localPath, remotePath)
}
