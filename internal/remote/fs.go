package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"selkie/internal/action"
	"selkie/internal/logging"
)

// FS is an SFTP-backed FileSystem. Plugged into the action executor it
// lets a turn operate on a remote project root; path confinement still
// happens in the executor before paths reach here.
type FS struct {
	config *Config

	mu   sync.Mutex
	conn *ssh.Client
	sftp *sftp.Client
}

var _ action.FileSystem = (*FS)(nil)

// Dial connects and returns a ready FS. Remote paths use forward slashes
// regardless of the local platform.
func Dial(ctx context.Context, cfg *Config) (*FS, error) {
	clientConfig, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := cfg.Addr()
	logging.Info("connecting over SSH", "addr", addr, "user", cfg.User)

	dialer := &net.Dialer{Timeout: clientConfig.Timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, clientConfig)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("SSH handshake with %s: %w", addr, err)
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting SFTP subsystem: %w", err)
	}

	logging.Info("SFTP session established", "host", cfg.Host)
	return &FS{config: cfg, conn: conn, sftp: sftpClient}, nil
}

// Connected reports whether the SSH transport still answers.
func (f *FS) Connected() bool {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		return false
	}
	_, _, err := conn.SendRequest("keepalive@openssh.com", true, nil)
	return err == nil
}

// Close shuts down the SFTP session and the SSH transport.
func (f *FS) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var firstErr error
	if f.sftp != nil {
		firstErr = f.sftp.Close()
		f.sftp = nil
	}
	if f.conn != nil {
		if err := f.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		f.conn = nil
	}
	return firstErr
}

func (f *FS) Read(p string) ([]byte, error) {
	file, err := f.sftp.Open(p)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

// WriteAtomic writes through a temp file in the target directory, then
// renames over the destination. posix-rename@openssh.com replaces
// atomically; servers without the extension get remove-then-rename.
func (f *FS) WriteAtomic(p string, data []byte, perm os.FileMode) error {
	tmp := tmpName(p)

	file, err := f.sftp.Create(tmp)
	if err != nil {
		return err
	}

	success := false
	defer func() {
		if !success {
			_ = f.sftp.Remove(tmp)
		}
	}()

	if _, err := file.Write(data); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}
	if err := f.sftp.Chmod(tmp, perm); err != nil {
		logging.Warn("chmod on remote temp failed", "path", tmp, "error", err)
	}

	if err := f.sftp.PosixRename(tmp, p); err != nil {
		if rmErr := f.sftp.Remove(p); rmErr != nil && !os.IsNotExist(rmErr) {
			return err
		}
		if err := f.sftp.Rename(tmp, p); err != nil {
			return err
		}
	}
	success = true
	return nil
}

func (f *FS) Copy(src, dst string) error {
	data, err := f.Read(src)
	if err != nil {
		return err
	}
	perm := os.FileMode(0o644)
	if info, err := f.sftp.Stat(src); err == nil {
		perm = info.Mode().Perm()
	}
	return f.WriteAtomic(dst, data, perm)
}

func (f *FS) Remove(p string) error {
	return f.sftp.Remove(p)
}

func (f *FS) MkdirAll(p string, perm os.FileMode) error {
	if err := f.sftp.MkdirAll(p); err != nil {
		return err
	}
	// MkdirAll has no mode parameter; apply it to the leaf.
	if err := f.sftp.Chmod(p, perm); err != nil {
		logging.Debug("chmod on remote dir failed", "path", p, "error", err)
	}
	return nil
}

func (f *FS) Stat(p string) (os.FileInfo, error) {
	return f.sftp.Stat(p)
}

func tmpName(p string) string {
	return path.Join(path.Dir(p), fmt.Sprintf(".selkie-%s.tmp", uuid.New().String()[:8]))
}
