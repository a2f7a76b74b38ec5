package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const DefaultTimeout = 10 * time.Second

// SSH implements Executor and Copier over one cached connection per host.
// Each call runs under its own timeout.
type SSH struct {
	Timeout time.Duration

	mu      sync.Mutex
	clients map[string]*ssh.Client
}

func NewSSH(timeout time.Duration) *SSH {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SSH{Timeout: timeout, clients: make(map[string]*ssh.Client)}
}

func (s *SSH) Run(ctx context.Context, host Host, cmds ...string) (string, error) {
	script := Script(cmds...)
	if script == "" {
		return "", errors.New("no commands")
	}
	out, err := s.withSession(ctx, host, func(session *ssh.Session) ([]byte, error) {
		return session.CombinedOutput(script)
	})
	if err != nil {
		return string(out), fmt.Errorf("run on %s: %w", host.Name, err)
	}
	return string(out), nil
}

func (s *SSH) Copy(ctx context.Context, host Host, localPath, remotePath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("copy %s: %w", localPath, err)
	}
	defer file.Close()

	_, err = s.withSession(ctx, host, func(session *ssh.Session) ([]byte, error) {
		session.Stdin = file
		return nil, session.Run("cat > " + Quote(remotePath))
	})
	if err != nil {
		return fmt.Errorf("copy to %s:%s: %w", host.Name, remotePath, err)
	}
	return nil
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for key, client := range s.clients {
		errs = append(errs, client.Close())
		delete(s.clients, key)
	}
	return errors.Join(errs...)
}

// withSession runs fn on a fresh session under the call timeout. fn has
// returned by the time withSession does, so nothing it touches is still in
// use afterwards.
func (s *SSH) withSession(ctx context.Context, host Host, fn func(*ssh.Session) ([]byte, error)) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	client, err := s.client(ctx, host)
	if err != nil {
		return nil, err
	}
	session, err := client.NewSession()
	if err != nil {
		s.drop(host)
		return nil, err
	}
	defer session.Close()

	res := await(ctx, func() result {
		out, err := fn(session)
		return result{out: out, err: err}
	}, func() { _ = session.Close() })
	return res.out, res.err
}

type result struct {
	out []byte
	err error
}

// await runs fn in the background. When ctx ends first, stop is called to
// unblock fn and await still waits for it, returning whatever output fn
// produced with the context error.
func await(ctx context.Context, fn func() result, stop func()) result {
	done := make(chan result, 1)
	go func() { done <- fn() }()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		stop()
		res := <-done
		res.err = ctx.Err()
		if errors.Is(res.err, context.DeadlineExceeded) {
			res.err = ErrTimeout
		}
		return res
	}
}

func (s *SSH) client(ctx context.Context, host Host) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[host.Addr()]; ok {
		return client, nil
	}

	cfg, err := clientConfig(host, s.Timeout)
	if err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: s.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", host.Addr())
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, host.Addr(), cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	s.clients[host.Addr()] = client
	return client, nil
}

func (s *SSH) drop(host Host) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[host.Addr()]; ok {
		_ = client.Close()
		delete(s.clients, host.Addr())
	}
}

func clientConfig(host Host, timeout time.Duration) (*ssh.ClientConfig, error) {
	key, err := os.ReadFile(host.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", host.KeyFile, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse key %s: %w", host.KeyFile, err)
	}

	var callback ssh.HostKeyCallback
	switch {
	case host.KnownHostsFile != "":
		callback, err = knownhosts.New(host.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
	case host.InsecureIgnoreHostKey:
		callback = ssh.InsecureIgnoreHostKey()
	default:
		return nil, fmt.Errorf("host %s: knownHostsFile is required", host.Name)
	}

	user := host.User
	if user == "" {
		user = "root"
	}
	return &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: callback,
		Timeout:         timeout,
	}, nil
}
