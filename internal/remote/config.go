package remote

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"selkie/internal/logging"
)

// Config holds SFTP connection settings.
type Config struct {
	Host           string
	Port           int
	User           string
	KeyPath        string
	KeyPassphrase  string
	Password       string // fallback if no key
	Timeout        time.Duration
	KnownHostsPath string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	username := "root"
	if currentUser, err := user.Current(); err == nil {
		username = currentUser.Username
	}
	home, _ := os.UserHomeDir()

	return &Config{
		Port:           22,
		User:           username,
		KeyPath:        filepath.Join(home, ".ssh", "id_rsa"),
		Timeout:        30 * time.Second,
		KnownHostsPath: filepath.Join(home, ".ssh", "known_hosts"),
	}
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	port := c.Port
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// buildClientConfig assembles authentication and host verification.
func buildClientConfig(cfg *Config) (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if cfg.KeyPath != "" {
		keyPath := expandPath(cfg.KeyPath)
		if _, err := os.Stat(keyPath); err == nil {
			key, err := os.ReadFile(keyPath)
			if err != nil {
				logging.Warn("failed to read SSH key", "path", keyPath, "error", err)
			} else {
				var signer ssh.Signer
				if cfg.KeyPassphrase != "" {
					signer, err = ssh.ParsePrivateKeyWithPassphrase(key, []byte(cfg.KeyPassphrase))
				} else {
					signer, err = ssh.ParsePrivateKey(key)
				}
				if err != nil {
					logging.Warn("failed to parse SSH key", "path", keyPath, "error", err)
				} else {
					authMethods = append(authMethods, ssh.PublicKeys(signer))
				}
			}
		}
	}

	if len(authMethods) == 0 {
		for _, keyFile := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
			keyPath := expandPath(filepath.Join("~/.ssh", keyFile))
			if key, err := os.ReadFile(keyPath); err == nil {
				if signer, err := ssh.ParsePrivateKey(key); err == nil {
					authMethods = append(authMethods, ssh.PublicKeys(signer))
					break
				}
			}
		}
	}

	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method available for %s", cfg.Addr())
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback(cfg),
		Timeout:         timeout,
	}, nil
}

// hostKeyCallback verifies against known_hosts when the file exists.
// Without one, verification is disabled and logged; a coding session
// against a host the user has never ssh'd into still has to work.
func hostKeyCallback(cfg *Config) ssh.HostKeyCallback {
	if cfg.KnownHostsPath != "" {
		path := expandPath(cfg.KnownHostsPath)
		if _, err := os.Stat(path); err == nil {
			callback, err := knownhosts.New(path)
			if err == nil {
				return callback
			}
			logging.Warn("known_hosts unusable, host key verification disabled",
				"path", path, "error", err)
		}
	}
	logging.Warn("host key verification disabled", "host", cfg.Host)
	return ssh.InsecureIgnoreHostKey()
}

// expandPath expands ~ to the home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
