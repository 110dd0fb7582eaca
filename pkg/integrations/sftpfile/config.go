package sftpfile

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openzap/openzap/pkg/integrations/payload"
	"github.com/openzap/openzap/pkg/registry"
)

// Config holds the connection settings of one upload.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// Password comes from the step's resolved credential
	Password string

	// PrivateKeyPath is used when no credential was resolved
	PrivateKeyPath string

	// KnownHostsPath enables host key verification when set
	KnownHostsPath string

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration
}

// Upload describes the file written by one action run.
type Upload struct {
	Path    string
	Content []byte
	Mode    os.FileMode
}

// configFromPayload builds the connection settings and the upload from a
// step payload and credential.
func configFromPayload(fields map[string]any, cred registry.Credential, timeout time.Duration) (*Config, *Upload, error) {
	host, err := payload.String(fields, "host")
	if err != nil {
		return nil, nil, err
	}
	user, err := payload.String(fields, "user")
	if err != nil {
		return nil, nil, err
	}
	port, err := payload.IntOr(fields, "port", 22)
	if err != nil {
		return nil, nil, err
	}
	keyPath, err := payload.StringOr(fields, "private_key_path", "")
	if err != nil {
		return nil, nil, err
	}
	knownHosts, err := payload.StringOr(fields, "known_hosts", "")
	if err != nil {
		return nil, nil, err
	}

	remotePath, err := payload.String(fields, "path")
	if err != nil {
		return nil, nil, err
	}
	content, err := payload.StringOr(fields, "content", "")
	if err != nil {
		return nil, nil, err
	}
	modeStr, err := payload.StringOr(fields, "mode", "")
	if err != nil {
		return nil, nil, err
	}
	mode, err := parseMode(modeStr)
	if err != nil {
		return nil, nil, err
	}

	cfg := &Config{
		Host:              host,
		Port:              port,
		User:              user,
		Password:          cred.AccessToken,
		PrivateKeyPath:    keyPath,
		KnownHostsPath:    knownHosts,
		ConnectionTimeout: timeout,
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, &Upload{Path: remotePath, Content: []byte(content), Mode: mode}, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.Password == "" && c.PrivateKeyPath == "" {
		return fmt.Errorf("a connection credential or private_key_path is required")
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("connection timeout must be positive")
	}
	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. Password
// authentication is preferred when both a password and a key are present.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if c.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.Password))

		// Many servers only offer keyboard-interactive for password prompts.
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))
	} else {
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// parseMode reads an octal permission string such as "0644". Empty means
// leave the server default.
func parseMode(s string) (os.FileMode, error) {
	if s == "" {
		return 0, nil
	}
	m, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, &payload.FieldError{Field: "mode", Reason: fmt.Sprintf("not an octal mode: %q", s)}
	}
	if m > 0o777 {
		return 0, &payload.FieldError{Field: "mode", Reason: fmt.Sprintf("mode out of range: %q", s)}
	}
	return os.FileMode(m), nil
}
