package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/skyhub/skyhub-go/internal/errors"
)

const (
	defaultSFTPPort    = 22
	defaultSFTPTimeout = 30 * time.Second
)

// SFTPTarget stores analysis products on an SFTP server.
type SFTPTarget struct {
	host     string
	port     int
	username string
	password string
	keyFile  string
	basePath string
	timeout  time.Duration
}

// NewSFTPTarget creates an SFTP target from the archive target settings map.
func NewSFTPTarget(settings map[string]any) (*SFTPTarget, error) {
	target := &SFTPTarget{
		port:    defaultSFTPPort,
		timeout: defaultSFTPTimeout,
	}

	host, ok := settings["host"].(string)
	if !ok || host == "" {
		return nil, errors.Newf("sftp: host is required").
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Build()
	}
	target.host = host

	if port, ok := settings["port"].(int); ok {
		target.port = port
	}
	if username, ok := settings["username"].(string); ok {
		target.username = username
	}
	if password, ok := settings["password"].(string); ok {
		target.password = password
	}
	if keyFile, ok := settings["key_file"].(string); ok {
		target.keyFile = keyFile
	}
	if p, ok := settings["path"].(string); ok {
		target.basePath = strings.TrimRight(p, "/")
	}
	if timeout, ok := settings["timeout"].(string); ok {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, errors.Newf("sftp: invalid timeout format: %v", err).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Build()
		}
		target.timeout = duration
	}

	return target, nil
}

func (t *SFTPTarget) Name() string { return "sftp" }

type sftpConn struct {
	ssh    *ssh.Client
	client *sftp.Client
}

func (c *sftpConn) close() {
	_ = c.client.Close()
	_ = c.ssh.Close()
}

// connect establishes the SSH session and SFTP subsystem. ssh.Dial has no
// context form, so the dial runs in a goroutine and the context can abandon it.
func (t *SFTPTarget) connect(ctx context.Context) (*sftpConn, error) {
	type connResult struct {
		conn *sftpConn
		err  error
	}
	resultChan := make(chan connResult, 1)

	go func() {
		config := &ssh.ClientConfig{
			User:            t.username,
			HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // host key pinning is a deployment concern
			Timeout:         t.timeout,
		}

		switch {
		case t.keyFile != "":
			key, err := os.ReadFile(t.keyFile)
			if err != nil {
				resultChan <- connResult{nil, sftpError(err, "read private key")}
				return
			}
			signer, err := ssh.ParsePrivateKey(key)
			if err != nil {
				resultChan <- connResult{nil, sftpError(err, "parse private key")}
				return
			}
			config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
		case t.password != "":
			config.Auth = []ssh.AuthMethod{ssh.Password(t.password)}
		default:
			resultChan <- connResult{nil, errors.Newf("sftp: no authentication method provided").
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Build()}
			return
		}

		addr := fmt.Sprintf("%s:%d", t.host, t.port)
		sshConn, err := ssh.Dial("tcp", addr, config)
		if err != nil {
			resultChan <- connResult{nil, sftpError(err, "connect")}
			return
		}

		client, err := sftp.NewClient(sshConn)
		if err != nil {
			_ = sshConn.Close()
			resultChan <- connResult{nil, sftpError(err, "open sftp subsystem")}
			return
		}

		resultChan <- connResult{&sftpConn{ssh: sshConn, client: client}, nil}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-resultChan:
		return result.conn, result.err
	}
}

func (t *SFTPTarget) remotePath(name string) string {
	if t.basePath == "" {
		return name
	}
	return path.Join(t.basePath, name)
}

func (t *SFTPTarget) Store(ctx context.Context, name string, r io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if t.basePath != "" {
		if err := conn.client.MkdirAll(t.basePath); err != nil {
			return sftpError(err, "create base directory")
		}
	}

	target := t.remotePath(name)
	temp := t.remotePath(".tmp-" + name)

	dst, err := conn.client.Create(temp)
	if err != nil {
		return sftpError(err, "create file")
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		_ = conn.client.Remove(temp)
		return sftpError(err, "write file")
	}
	if err := dst.Close(); err != nil {
		_ = conn.client.Remove(temp)
		return sftpError(err, "close file")
	}
	// PosixRename replaces an existing target; plain Rename refuses to.
	if err := conn.client.PosixRename(temp, target); err != nil {
		_ = conn.client.Remove(temp)
		return sftpError(err, "rename file")
	}
	return nil
}

func (t *SFTPTarget) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	f, err := conn.client.Open(t.remotePath(name))
	if err != nil {
		conn.close()
		if os.IsNotExist(err) {
			return nil, errors.Newf("sftp: archived file %s not found", name).
				Component(componentName).
				Category(errors.CategoryNotFound).
				Build()
		}
		return nil, sftpError(err, "open file")
	}

	return &sftpFile{file: f, conn: conn}, nil
}

func (t *SFTPTarget) Delete(ctx context.Context, name string) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if err := conn.client.Remove(t.remotePath(name)); err != nil && !os.IsNotExist(err) {
		return sftpError(err, "delete file")
	}
	return nil
}

func (t *SFTPTarget) Validate(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer conn.close()

	if t.basePath != "" {
		if err := conn.client.MkdirAll(t.basePath); err != nil {
			return sftpError(err, "create base directory")
		}
	}

	probe := t.remotePath(".write_test")
	f, err := conn.client.Create(probe)
	if err != nil {
		return sftpError(err, "write probe")
	}
	_ = f.Close()
	_ = conn.client.Remove(probe)
	return nil
}

// sftpFile keeps the connection open for the duration of the read.
type sftpFile struct {
	file *sftp.File
	conn *sftpConn
}

func (f *sftpFile) Read(p []byte) (int, error) { return f.file.Read(p) }

func (f *sftpFile) Close() error {
	err := f.file.Close()
	f.conn.close()
	return err
}

func sftpError(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryArchive).
		Context("target", "sftp").
		Context("operation", operation).
		Build()
}
