// Package sftpfile provides an action that writes a file to a remote host
// over SFTP. The step's connection token is used as the SSH password.
package sftpfile

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"github.com/openzap/openzap/pkg/registry"
)

const (
	// ClassUpload is the registered class name of the SFTP upload action.
	ClassUpload = "sftp.upload"

	// DefaultConnectionTimeout bounds the SSH handshake.
	DefaultConnectionTimeout = 15 * time.Second
)

// Uploader writes the "content" payload field to "path" on "host".
type Uploader struct {
	connectTimeout time.Duration
}

var _ registry.Action = (*Uploader)(nil)

// NewUploader creates an uploader. A zero timeout selects
// DefaultConnectionTimeout.
func NewUploader(connectTimeout time.Duration) *Uploader {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectionTimeout
	}
	return &Uploader{connectTimeout: connectTimeout}
}

// Run performs the upload.
func (u *Uploader) Run(ctx context.Context, cred registry.Credential, fields map[string]any) (registry.ActionResult, error) {
	cfg, up, err := configFromPayload(fields, cred, u.connectTimeout)
	if err != nil {
		return registry.ActionResult{}, err
	}

	startTime := time.Now()
	client, err := dial(ctx, cfg)
	if err != nil {
		return registry.ActionResult{}, err
	}
	defer client.Close()

	written, err := uploadFile(ctx, client, up)
	if err != nil {
		return registry.ActionResult{}, err
	}

	sum := sha256.Sum256(up.Content)
	duration := time.Since(startTime)

	log.Info().
		Str("address", cfg.Address()).
		Str("remote", up.Path).
		Int64("bytes", written).
		Dur("duration", duration).
		Msg("file uploaded successfully")

	return registry.ActionResult{
		HasRun: true,
		Data: map[string]any{
			"host":        cfg.Host,
			"path":        up.Path,
			"bytes":       written,
			"sha256":      hex.EncodeToString(sum[:]),
			"duration_ms": duration.Milliseconds(),
		},
	}, nil
}

// Register adds the SFTP upload action to r.
func Register(r *registry.Registry, connectTimeout time.Duration) error {
	return r.RegisterAction(ClassUpload, func() registry.Action { return NewUploader(connectTimeout) })
}

// dial establishes an SSH connection honouring ctx.
func dial(ctx context.Context, cfg *Config) (*ssh.Client, error) {
	clientConfig, err := cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := cfg.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: cfg.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err, IsTemporary: true}
	}

	// The handshake does not observe ctx; closing the socket aborts it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, clientConfig)
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
		}
		return nil, &TransportError{
			Op:          "connect",
			Err:         err,
			IsTemporary: !isAuthFailure(err),
			IsAuthError: isAuthFailure(err),
		}
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// uploadFile writes up to the remote host, creating parent directories.
func uploadFile(ctx context.Context, client *ssh.Client, up *Upload) (int64, error) {
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return 0, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	defer sftpClient.Close()

	if dir := path.Dir(up.Path); dir != "." && dir != "/" {
		if err := sftpClient.MkdirAll(dir); err != nil {
			return 0, &TransportError{
				Op:  "upload",
				Err: fmt.Errorf("failed to create remote directory: %w", err),
			}
		}
	}

	remoteFile, err := sftpClient.Create(up.Path)
	if err != nil {
		return 0, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}
	defer remoteFile.Close()

	written, err := copyWithContext(ctx, remoteFile, bytes.NewReader(up.Content))
	if err != nil {
		return written, &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: true,
		}
	}

	if up.Mode != 0 {
		if err := sftpClient.Chmod(up.Path, up.Mode); err != nil {
			log.Warn().Err(err).Str("remote", up.Path).Msg("failed to set file permissions")
		}
	}
	return written, nil
}

// copyWithContext copies data from src to dst while respecting context cancellation.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		select {
		case <-ctx.Done():
			return written, ctx.Err()
		default:
		}

		nr, err := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[0:nr])
			if nw > 0 {
				written += int64(nw)
			}
			if werr != nil {
				return written, werr
			}
			if nr != nw {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			if err == io.EOF {
				return written, nil
			}
			return written, err
		}
	}
}

func isAuthFailure(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}
