package ssh

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"sshmux/internal/errors"
	"sshmux/internal/logging"
	"sshmux/internal/target"
)

// NativeInvoker runs the command over an in-process SSH session instead of
// the external client. Each Invoke opens its own connection.
//
// Identity files are read through fs. known_hosts files are always read
// from the OS filesystem, since knownhosts only opens paths.
type NativeInvoker struct {
	fs             afero.Fs
	logger         *logging.Logger
	homeDir        string
	knownHostFiles []string
	dialTimeout    time.Duration
}

// NewNativeInvoker creates an invoker backed by golang.org/x/crypto/ssh.
func NewNativeInvoker(fs afero.Fs, logger *logging.Logger) *NativeInvoker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	home, _ := os.UserHomeDir()
	return &NativeInvoker{
		fs:             fs,
		logger:         logger,
		homeDir:        home,
		knownHostFiles: defaultKnownHostFiles(home),
		dialTimeout:    30 * time.Second,
	}
}

func defaultKnownHostFiles(home string) []string {
	files := []string{"/etc/ssh/ssh_known_hosts"}
	if home != "" {
		files = append([]string{filepath.Join(home, ".ssh", "known_hosts")}, files...)
	}
	return files
}

// Invoke connects to t, opens a session and starts command on it.
func (n *NativeInvoker) Invoke(ctx context.Context, t target.Target, command string) (Process, error) {
	config, agentConn, err := n.buildSSHConfig(t)
	if err != nil {
		return nil, errors.NewSpawnError(t.Host, fmt.Errorf("failed to build SSH config: %w", err))
	}

	// agentConn lives as long as the session; every failure below closes it.
	fail := func(err error, closers ...io.Closer) (Process, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		closeAgent(agentConn)
		return nil, errors.NewSpawnError(t.Host, err)
	}

	address := net.JoinHostPort(t.Host, strconv.Itoa(t.EffectivePort()))

	dialer := &net.Dialer{Timeout: n.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fail(fmt.Errorf("failed to connect to %s: %w", address, err))
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, config)
	if err != nil {
		return fail(fmt.Errorf("SSH handshake failed for %s: %w", address, err), netConn)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		return fail(fmt.Errorf("failed to create session: %w", err), client)
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail(err, session, client)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fail(err, session, client)
	}

	if err := session.Start(command); err != nil {
		return fail(fmt.Errorf("failed to start command: %w", err), session, client)
	}

	return &sessionProcess{
		client:    client,
		session:   session,
		agentConn: agentConn,
		stdout:    stdout,
		stderr:    stderr,
		host:      t.Host,
		logger:    n.logger,
	}, nil
}

func closeAgent(conn net.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

type sessionProcess struct {
	client    *ssh.Client
	session   *ssh.Session
	agentConn net.Conn // nil when no agent was used
	stdout    io.Reader
	stderr    io.Reader
	host      string
	logger    *logging.Logger
}

func (p *sessionProcess) Stdout() io.Reader { return p.stdout }

func (p *sessionProcess) Stderr() io.Reader { return p.stderr }

func (p *sessionProcess) Wait() (int, error) {
	err := p.session.Wait()

	_ = p.session.Close()
	if closeErr := p.client.Close(); closeErr != nil {
		p.logger.Debug("SSH connection close error", "error", closeErr, "host", p.host)
	}
	closeAgent(p.agentConn)

	if err == nil {
		return 0, nil
	}

	var exitErr *ssh.ExitError
	if stderrors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}

	return -1, err
}

// buildSSHConfig creates an SSH client configuration with authentication
// methods. The returned agent connection, if any, must be closed by the
// caller once the session is done.
func (n *NativeInvoker) buildSSHConfig(t target.Target) (*ssh.ClientConfig, net.Conn, error) {
	username := t.User
	if username == "" {
		current, err := user.Current()
		if err != nil {
			return nil, nil, fmt.Errorf("no user configured and current user unknown: %w", err)
		}
		username = current.Username
	}

	hostKeyCallback, err := n.hostKeyCallback()
	if err != nil {
		return nil, nil, err
	}

	authMethods, agentConn, err := n.authMethods(t)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up authentication: %w", err)
	}

	return &ssh.ClientConfig{
		User:            username,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         n.dialTimeout,
	}, agentConn, nil
}

// authMethods returns available authentication methods in order of
// preference, plus the agent connection backing the first one. On error
// nothing is left open.
func (n *NativeInvoker) authMethods(t target.Target) ([]ssh.AuthMethod, net.Conn, error) {
	var (
		methods   []ssh.AuthMethod
		agentConn net.Conn
	)

	// 1. SSH agent
	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		if conn, err := net.Dial("unix", sock); err == nil {
			agentConn = conn
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	// 2. Explicit identity file, or the usual default keys
	if t.IdentityFile != "" {
		signer, err := n.loadSigner(t.IdentityFile)
		if err != nil {
			closeAgent(agentConn)
			return nil, nil, fmt.Errorf("failed to load identity file: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	} else if n.homeDir != "" {
		var signers []ssh.Signer
		for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			if signer, err := n.loadSigner(filepath.Join(n.homeDir, ".ssh", name)); err == nil {
				signers = append(signers, signer)
			}
		}
		if len(signers) > 0 {
			methods = append(methods, ssh.PublicKeys(signers...))
		}
	}

	if len(methods) == 0 {
		return nil, nil, fmt.Errorf("no authentication methods available")
	}

	return methods, agentConn, nil
}

func (n *NativeInvoker) loadSigner(path string) (ssh.Signer, error) {
	keyBytes, err := afero.ReadFile(n.fs, path)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return signer, nil
}

// hostKeyCallback verifies host keys against the user and system
// known_hosts files on the OS filesystem. Unlike the ssh client there is no
// interactive prompt, so an unknown host fails the spawn.
func (n *NativeInvoker) hostKeyCallback() (ssh.HostKeyCallback, error) {
	var files []string
	for _, f := range n.knownHostFiles {
		if info, err := os.Stat(f); err == nil && !info.IsDir() {
			files = append(files, f)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no known_hosts file found")
	}

	return knownhosts.New(files...)
}
