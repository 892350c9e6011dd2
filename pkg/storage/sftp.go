package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/logandonley/backstore/pkg/spool"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

const sftpType = "sftp"

// SFTP status codes, see draft-ietf-secsh-filexfer-02 section 7
const (
	sshFxNoSuchFile       = 2
	sshFxPermissionDenied = 3
	sshFxNoConnection     = 6
	sshFxConnectionLost   = 7
)

// SFTPConfig holds the configuration for SFTP storage
type SFTPConfig struct {
	Host         string
	Port         int
	User         string
	Credential   string
	KeyFile      string
	KnownHosts   string
	RootPath     string
	PassiveMode  bool
	AtomicWrites bool
	DialTimeout  time.Duration
}

func (c *SFTPConfig) validate() error {
	if c.Host == "" {
		return configError(sftpType, "host is required")
	}
	if c.User == "" {
		return configError(sftpType, "user is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return configError(sftpType, "port out of range: %d", c.Port)
	}
	if c.Credential == "" && c.KeyFile == "" && os.Getenv("SSH_AUTH_SOCK") == "" {
		return configError(sftpType, "one of credential, key_file or a running ssh-agent is required")
	}
	return nil
}

func (c *SFTPConfig) addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, fmt.Sprint(port))
}

// Session is an open SFTP session together with the connection carrying it
type Session struct {
	Client *sftp.Client
	// Conn is closed after Client, may be nil
	Conn io.Closer
}

// Dialer opens an SFTP session for a validated configuration
type Dialer func(ctx context.Context, config *SFTPConfig) (*Session, error)

// SFTPStorage implements backup storage on an SFTP server. It owns one
// session for its whole lifetime and never reconnects: once the session
// fails every call returns ErrUnreachable and the caller must build a new
// SFTPStorage.
type SFTPStorage struct {
	config *SFTPConfig
	root   string
	opts   *options
	log    *zap.Logger
	client *sftp.Client
	conn   io.Closer

	mu       sync.Mutex
	closed   bool
	released bool
	broken   error
}

// NewSFTPStorage validates config and connects to the SFTP server. Nothing
// is dialed when a required option is missing.
func NewSFTPStorage(ctx context.Context, config *SFTPConfig, opts ...Option) (*SFTPStorage, error) {
	if config == nil {
		return nil, configError(sftpType, "missing configuration")
	}
	cfg := *config
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	log := o.logger.With(zap.String("backend", sftpType), zap.String("host", cfg.Host))
	root := NormalizeRoot(cfg.RootPath)

	log.Debug("Creating SFTP storage", zap.String("user", cfg.User), zap.String("root", root))
	if cfg.PassiveMode {
		log.Debug("passive_mode has no effect on SFTP transfers")
	}
	if cfg.KnownHosts == "" {
		log.Warn("known_hosts not configured, host key will not be verified")
	}

	session, err := o.dialer(ctx, &cfg)
	if err != nil {
		return nil, classifyDial(err)
	}

	if pwd, err := session.Client.Getwd(); err == nil {
		log.Debug("Connected", zap.String("working_directory", pwd))
	}

	return &SFTPStorage{
		config: &cfg,
		root:   root,
		opts:   o,
		log:    log,
		client: session.Client,
		conn:   session.Conn,
	}, nil
}

// Root returns the normalized remote root
func (s *SFTPStorage) Root() string {
	return s.root
}

// Type returns "sftp"
func (s *SFTPStorage) Type() string {
	return sftpType
}

// begin checks the lifecycle state and arms cancellation for one call.
// Cancelling ctx tears the session down so the in-flight call fails.
func (s *SFTPStorage) begin(ctx context.Context, op, name string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, newError(sftpType, op, name, ErrClosed, nil)
	}
	if s.broken != nil {
		return nil, newError(sftpType, op, name, ErrUnreachable, s.broken)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(sftpType, op, name, ErrUnreachable, err)
	}

	stop := context.AfterFunc(ctx, func() {
		s.abort(fmt.Errorf("session aborted: %w", context.Cause(ctx)))
	})
	return func() { stop() }, nil
}

// abort marks the session unusable and releases it
func (s *SFTPStorage) abort(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken == nil {
		s.broken = cause
	}
	if err := s.release(); err != nil {
		s.log.Debug("Error releasing aborted session", zap.Error(err))
	}
}

// release closes the SFTP and SSH connections once. Callers hold mu.
func (s *SFTPStorage) release() error {
	if s.released {
		return nil
	}
	s.released = true

	var errs []error
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SFTP client: %w", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close SSH client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// fail converts a transport error and marks the session broken when it
// can no longer be trusted
func (s *SFTPStorage) fail(op, name string, err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kind := classifySFTP(err)
	if s.broken != nil {
		kind = ErrUnreachable
		err = errors.Join(s.broken, err)
	}
	if kind == ErrUnreachable && s.broken == nil {
		s.broken = err
	}
	s.log.Debug("Operation failed", zap.String("op", op), zap.String("name", name), zap.Error(err))
	return newError(sftpType, op, name, kind, err)
}

// Write uploads r as name under the remote root
func (s *SFTPStorage) Write(ctx context.Context, r io.ReadSeeker, name string) error {
	remotePath, err := ResolveName(s.root, name)
	if err != nil {
		return newError(sftpType, "write", name, ErrInvalidName, err)
	}

	done, err := s.begin(ctx, "write", name)
	if err != nil {
		return err
	}
	defer done()

	s.log.Debug("Starting upload", zap.String("remote", remotePath))

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return newError(sftpType, "write", name, ErrIO, fmt.Errorf("failed to rewind source: %w", err))
	}

	if err := s.mkdirAll(path.Dir(remotePath)); err != nil {
		return s.fail("write", name, fmt.Errorf("failed to create remote directory: %w", err))
	}

	target := remotePath
	if s.config.AtomicWrites {
		target = path.Join(path.Dir(remotePath), fmt.Sprintf(".%s.%s.tmp", path.Base(remotePath), uuid.NewString()))
	}

	n, err := s.upload(r, target)
	if err != nil {
		if target != remotePath {
			s.client.Remove(target)
		}
		return s.fail("write", name, err)
	}

	if target != remotePath {
		if err := s.client.PosixRename(target, remotePath); err != nil {
			s.client.Remove(target)
			return s.fail("write", name, fmt.Errorf("failed to rename %s: %w", target, err))
		}
	}

	s.log.Debug("Upload completed", zap.String("remote", remotePath), zap.Int64("bytes", n))
	return nil
}

func (s *SFTPStorage) upload(r io.Reader, remotePath string) (int64, error) {
	remoteFile, err := s.client.Create(remotePath)
	if err != nil {
		return 0, fmt.Errorf("failed to create remote file: %w", err)
	}

	n, err := io.Copy(remoteFile, r)
	if err != nil {
		remoteFile.Close()
		return n, fmt.Errorf("failed to copy file contents: %w", err)
	}
	if err := remoteFile.Close(); err != nil {
		return n, fmt.Errorf("failed to close remote file: %w", err)
	}
	return n, nil
}

// Read downloads name into a spool
func (s *SFTPStorage) Read(ctx context.Context, name string) (*spool.File, error) {
	remotePath, err := ResolveName(s.root, name)
	if err != nil {
		return nil, newError(sftpType, "read", name, ErrInvalidName, err)
	}

	done, err := s.begin(ctx, "read", name)
	if err != nil {
		return nil, err
	}
	defer done()

	s.log.Debug("Starting download", zap.String("remote", remotePath))

	remoteFile, err := s.client.Open(remotePath)
	if err != nil {
		return nil, s.fail("read", name, err)
	}
	defer remoteFile.Close()

	out, err := copyInto(s.opts, remoteFile)
	if err != nil {
		if isSpoolError(err) {
			return nil, newError(sftpType, "read", name, ErrIO, fmt.Errorf("failed to spool file contents: %w", err))
		}
		return nil, s.fail("read", name, fmt.Errorf("failed to copy file contents: %w", err))
	}

	s.log.Debug("Download completed", zap.String("remote", remotePath),
		zap.Int64("bytes", out.Size()), zap.Bool("spilled", out.Spilled()))
	return out, nil
}

// List lists the files directly under the remote root
func (s *SFTPStorage) List(ctx context.Context) ([]string, error) {
	done, err := s.begin(ctx, "list", "")
	if err != nil {
		return nil, err
	}
	defer done()

	dir := rootDir(s.root)
	s.log.Debug("Listing files in directory", zap.String("dir", dir))

	files, err := s.client.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []string{}, nil
		}
		return nil, s.fail("list", "", fmt.Errorf("failed to list remote directory: %w", err))
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		names = append(names, file.Name())
	}
	sort.Strings(names)

	s.log.Debug("Found files", zap.Int("count", len(names)))
	return names, nil
}

// Delete removes name from the remote root
func (s *SFTPStorage) Delete(ctx context.Context, name string) error {
	remotePath, err := ResolveName(s.root, name)
	if err != nil {
		return newError(sftpType, "delete", name, ErrInvalidName, err)
	}

	done, err := s.begin(ctx, "delete", name)
	if err != nil {
		return err
	}
	defer done()

	s.log.Debug("Deleting file", zap.String("remote", remotePath))

	info, err := s.client.Stat(remotePath)
	if err != nil {
		return s.fail("delete", name, err)
	}
	if info.IsDir() {
		return newError(sftpType, "delete", name, ErrNotFound, fmt.Errorf("%s is a directory", remotePath))
	}

	if err := s.client.Remove(remotePath); err != nil {
		return s.fail("delete", name, fmt.Errorf("failed to delete file: %w", err))
	}
	return nil
}

// Close closes the SFTP and SSH connections
func (s *SFTPStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return newError(sftpType, "close", "", ErrClosed, nil)
	}
	s.closed = true

	if err := s.release(); err != nil {
		return fmt.Errorf("errors closing connections: %w", err)
	}
	return nil
}

// mkdirAll creates a directory and all parent directories if they don't
// exist. Some servers refuse MkdirAll on paths they partially own, so it
// falls back to creating one component at a time.
func (s *SFTPStorage) mkdirAll(dir string) error {
	if dir == "" || dir == "/" || dir == "." {
		return nil
	}

	err := s.client.MkdirAll(dir)
	if err == nil {
		return nil
	}
	s.log.Debug("MkdirAll failed, trying component by component", zap.String("dir", dir), zap.Error(err))

	current := "/"
	for _, component := range strings.Split(strings.Trim(dir, "/"), "/") {
		current = path.Join(current, component)
		if err := s.client.Mkdir(current); err != nil {
			if info, statErr := s.client.Stat(current); statErr == nil && info.IsDir() {
				continue
			}
			return fmt.Errorf("failed to create directory %s: %w", current, err)
		}
	}
	return nil
}

// classifySFTP maps an SFTP client error to an error kind
func classifySFTP(err error) error {
	var status *sftp.StatusError
	if errors.As(err, &status) {
		switch status.Code {
		case sshFxNoSuchFile:
			return ErrNotFound
		case sshFxPermissionDenied:
			return ErrDenied
		case sshFxNoConnection, sshFxConnectionLost:
			return ErrUnreachable
		}
	}

	var netErr net.Error
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrDenied
	case errors.Is(err, sftp.ErrSSHFxConnectionLost),
		errors.Is(err, sftp.ErrSSHFxNoConnection),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed),
		errors.As(err, &netErr):
		return ErrUnreachable
	}
	return ErrIO
}

// classifyDial maps a connection error to a storage error
func classifyDial(err error) error {
	var storageErr *Error
	if errors.As(err, &storageErr) {
		return err
	}

	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	switch {
	case errors.As(err, &keyErr), errors.As(err, &revoked):
		return newError(sftpType, "connect", "", ErrDenied, fmt.Errorf("host key verification failed: %w", err))
	case strings.Contains(err.Error(), "unable to authenticate"):
		return newError(sftpType, "connect", "", ErrDenied, err)
	}
	return newError(sftpType, "connect", "", ErrUnreachable, err)
}

// dialSSH is the default Dialer. It authenticates with the configured key
// file, password and ssh-agent, in that order.
func dialSSH(ctx context.Context, config *SFTPConfig) (*Session, error) {
	auth, closeAgent, err := authMethods(config)
	if err != nil {
		return nil, err
	}
	defer closeAgent()

	hostKeyCallback, err := hostKeyCallback(config)
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            config.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         config.DialTimeout,
	}

	addr := config.addr()
	dialer := &net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	// The handshake is not context aware, bound it with a deadline instead
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if config.DialTimeout > 0 {
		conn.SetDeadline(time.Now().Add(config.DialTimeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", addr, err)
	}
	conn.SetDeadline(time.Time{})
	sshClient := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}

	return &Session{Client: sftpClient, Conn: sshClient}, nil
}

func authMethods(config *SFTPConfig) ([]ssh.AuthMethod, func(), error) {
	var methods []ssh.AuthMethod
	closeAgent := func() {}

	if config.KeyFile != "" {
		signer, err := loadSigner(config.KeyFile, config.Credential)
		if err != nil {
			return nil, closeAgent, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if config.Credential != "" {
		methods = append(methods, ssh.Password(config.Credential))
	}

	if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
		conn, err := net.Dial("unix", sock)
		if err == nil {
			closeAgent = func() { conn.Close() }
			methods = append(methods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		}
	}

	if len(methods) == 0 {
		return nil, closeAgent, configError(sftpType, "no usable authentication method")
	}
	return methods, closeAgent, nil
}

// loadSigner reads a private key, using passphrase when the key is
// encrypted
func loadSigner(keyFile, passphrase string) (ssh.Signer, error) {
	keyFile, err := expandHome(keyFile)
	if err != nil {
		return nil, configError(sftpType, "failed to expand key_file: %v", err)
	}

	key, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, configError(sftpType, "failed to read SSH key file %s: %v", keyFile, err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	var missing *ssh.PassphraseMissingError
	if errors.As(err, &missing) && passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	if err != nil {
		return nil, configError(sftpType, "failed to parse SSH key %s: %v", keyFile, err)
	}
	return signer, nil
}

func hostKeyCallback(config *SFTPConfig) (ssh.HostKeyCallback, error) {
	if config.KnownHosts == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	file, err := expandHome(config.KnownHosts)
	if err != nil {
		return nil, configError(sftpType, "failed to expand known_hosts: %v", err)
	}
	callback, err := knownhosts.New(file)
	if err != nil {
		return nil, configError(sftpType, "failed to load known_hosts %s: %v", file, err)
	}
	return callback, nil
}

// expandHome expands a leading ~/ to the user's home directory
func expandHome(p string) (string, error) {
	if !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, p[2:]), nil
}
