package sftpfile

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/openzap/openzap/pkg/registry"
)

// startSFTPServer runs an SSH server on loopback that accepts one password
// and serves the sftp subsystem against the local filesystem.
func startSFTPServer(t *testing.T, password string) (host string, port int) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(_ ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if string(pass) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected")
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()

	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		ch, requests, err := newCh.Accept()
		if err != nil {
			return
		}
		go func(in <-chan *ssh.Request) {
			for req := range in {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
			}
		}(requests)

		server, err := sftp.NewServer(ch)
		if err != nil {
			ch.Close()
			continue
		}
		go func() {
			_ = server.Serve()
			server.Close()
		}()
	}
}

func TestUploaderRun(t *testing.T) {
	host, port := startSFTPServer(t, "s3cret")
	target := filepath.Join(t.TempDir(), "drop", "nested", "report.txt")

	res, err := NewUploader(5*time.Second).Run(context.Background(),
		registry.Credential{ConnectionID: "conn-sftp", AccessToken: "s3cret"},
		map[string]any{
			"host":    host,
			"port":    strconv.Itoa(port),
			"user":    "deploy",
			"path":    target,
			"content": "Created: https://example.com/issues/1",
			"mode":    "0600",
		})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.HasRun {
		t.Fatal("expected HasRun")
	}

	got, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}
	if !bytes.Equal(got, []byte("Created: https://example.com/issues/1")) {
		t.Errorf("unexpected content %q", got)
	}
	if res.Data["bytes"] != int64(len(got)) {
		t.Errorf("expected %d bytes, got %v", len(got), res.Data["bytes"])
	}
	if res.Data["sha256"] == "" {
		t.Error("expected checksum in output")
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}
}

func TestUploaderWrongPassword(t *testing.T) {
	host, port := startSFTPServer(t, "s3cret")

	_, err := NewUploader(5*time.Second).Run(context.Background(),
		registry.Credential{AccessToken: "wrong"},
		map[string]any{
			"host": host,
			"port": float64(port),
			"user": "deploy",
			"path": filepath.Join(t.TempDir(), "x"),
		})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if te.Op != "connect" || !te.IsAuthError {
		t.Errorf("expected auth error on connect, got %+v", te)
	}
	if te.Temporary() {
		t.Error("auth failures are not temporary")
	}
}

func TestUploaderConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	_, err = NewUploader(time.Second).Run(context.Background(),
		registry.Credential{AccessToken: "pw"},
		map[string]any{"host": "127.0.0.1", "port": float64(port), "user": "u", "path": "/tmp/x"})

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !te.Temporary() {
		t.Error("refused connections are temporary")
	}
}

func TestCopyWithContext(t *testing.T) {
	var dst bytes.Buffer
	src := bytes.NewReader(bytes.Repeat([]byte("a"), 100*1024))

	n, err := copyWithContext(context.Background(), &dst, src)
	if err != nil {
		t.Fatalf("copy failed: %v", err)
	}
	if n != 100*1024 || dst.Len() != 100*1024 {
		t.Errorf("expected 102400 bytes, got %d", n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := copyWithContext(ctx, &dst, bytes.NewReader([]byte("x"))); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRegister(t *testing.T) {
	r := registry.New()
	if err := Register(r, 0); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if !r.HasAction(ClassUpload) {
		t.Error("action not registered")
	}
}
