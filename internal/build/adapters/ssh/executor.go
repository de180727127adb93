// Package ssh runs build commands on a remote build host over SSH.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"al.essio.dev/pkg/shellescape"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/cochaviz/bitbuild/internal/build"
	"github.com/cochaviz/bitbuild/internal/logging"
)

// Ensure Executor satisfies the build executor interface.
var _ build.Executor = (*Executor)(nil)

const defaultPort = 22

// Config describes how to reach the build host.
type Config struct {
	Host string
	Port int
	User string
	// KeyFile is a private key used instead of the SSH agent when set.
	KeyFile string
	// KnownHostsFile enables host key verification. When empty, host keys are
	// accepted without verification.
	KnownHostsFile string
	DialTimeout    time.Duration
}

// Address returns host:port.
func (c Config) Address() string {
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

// Executor runs commands on a remote host. The connection is opened on first
// use and reused for later commands.
type Executor struct {
	Logger *slog.Logger
	Config Config

	mu     sync.Mutex
	client *ssh.Client
	closer io.Closer
}

// NewExecutor returns an Executor for config.
func NewExecutor(config Config, logger *slog.Logger) *Executor {
	return &Executor{Config: config, Logger: logger}
}

func (e *Executor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute runs command through the remote login shell. Arguments are quoted
// so that they reach the remote process unchanged.
func (e *Executor) Execute(ctx context.Context, command build.Command) (build.Result, error) {
	if command.Path == "" {
		return build.Result{}, &build.BuildError{Kind: build.KindToolchain, Message: "no command provided"}
	}

	client, err := e.connect(ctx)
	if err != nil {
		return build.Result{}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return build.Result{}, fmt.Errorf("open ssh session to %s: %w", e.Config.Address(), err)
	}
	defer session.Close()

	logger := e.logger().With("host", e.Config.Host, "command", command.Path)
	line := RemoteCommandLine(command)
	logger.Debug("running remote command", "line", line)

	var stdout, stderr bytes.Buffer
	stdoutLog := logging.NewLineWriter(logger, slog.LevelDebug, "stdout")
	stderrLog := logging.NewLineWriter(logger, slog.LevelDebug, "stderr")
	session.Stdout = io.MultiWriter(&stdout, stdoutLog)
	session.Stderr = io.MultiWriter(&stderr, stderrLog)
	defer stdoutLog.Flush()
	defer stderrLog.Flush()

	if err := session.Start(line); err != nil {
		return build.Result{}, fmt.Errorf("start remote command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		if signalErr := session.Signal(ssh.SIGKILL); signalErr != nil {
			logger.Warn("unable to signal remote command", "error", signalErr)
		}
		return build.Result{}, ctx.Err()
	}

	result := build.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		logger.Debug("remote command exited", "exit_code", result.ExitCode)
		return result, nil
	}
	return result, fmt.Errorf("remote command on %s: %w", e.Config.Host, err)
}

// Close shuts down the underlying connection.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if e.client != nil {
		errs = append(errs, e.client.Close())
		e.client = nil
	}
	if e.closer != nil {
		errs = append(errs, e.closer.Close())
		e.closer = nil
	}
	return errors.Join(errs...)
}

// RemoteCommandLine renders command as a shell-safe command line.
func RemoteCommandLine(command build.Command) string {
	line := shellescape.QuoteCommand(append([]string{command.Path}, command.Args...))
	if command.Dir != "" {
		line = "cd " + shellescape.Quote(command.Dir) + " && " + line
	}
	return line
}

func (e *Executor) connect(ctx context.Context) (*ssh.Client, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return e.client, nil
	}

	clientConfig, closer, err := e.clientConfig()
	if err != nil {
		return nil, err
	}

	address := e.Config.Address()
	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		closeQuietly(closer)
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		closeQuietly(closer)
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}

	e.client = ssh.NewClient(sshConn, channels, requests)
	e.closer = closer
	e.logger().Info("connected to build host", "address", address, "user", e.Config.User)
	return e.client, nil
}

func (e *Executor) clientConfig() (*ssh.ClientConfig, io.Closer, error) {
	auth, closer, err := e.authMethod()
	if err != nil {
		return nil, nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if e.Config.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(e.Config.KnownHostsFile)
		if err != nil {
			closeQuietly(closer)
			return nil, nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		e.logger().Debug("host key verification disabled", "host", e.Config.Host)
	}

	timeout := e.Config.DialTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            e.Config.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, closer, nil
}

func (e *Executor) authMethod() (ssh.AuthMethod, io.Closer, error) {
	if e.Config.KeyFile != "" {
		buf, err := os.ReadFile(e.Config.KeyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("read key file: %w", err)
		}
		key, err := ssh.ParsePrivateKey(buf)
		if err != nil {
			return nil, nil, fmt.Errorf("parse key file %s: %w", e.Config.KeyFile, err)
		}
		return ssh.PublicKeys(key), nil, nil
	}

	authSocket := os.Getenv("SSH_AUTH_SOCK")
	if authSocket == "" {
		return nil, nil, errors.New("SSH_AUTH_SOCK required when no key file is configured, check that your ssh agent is running")
	}
	agentConn, err := net.Dial("unix", authSocket)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to ssh agent: %w", err)
	}
	return ssh.PublicKeysCallback(agent.NewClient(agentConn).Signers), agentConn, nil
}

func closeQuietly(closer io.Closer) {
	if closer != nil {
		closer.Close()
	}
}
