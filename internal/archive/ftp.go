package archive

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/skyhub/skyhub-go/internal/errors"
)

const (
	defaultFTPPort    = 21
	defaultFTPTimeout = 30 * time.Second
)

// FTPTarget stores analysis products on an FTP server. Connections are
// opened per operation; archive traffic is a handful of files per analysis
// run, not worth a pool.
type FTPTarget struct {
	host     string
	port     int
	username string
	password string
	basePath string
	timeout  time.Duration
}

// NewFTPTarget creates an FTP target from the archive target settings map.
func NewFTPTarget(settings map[string]any) (*FTPTarget, error) {
	target := &FTPTarget{
		port:    defaultFTPPort,
		timeout: defaultFTPTimeout,
	}

	host, ok := settings["host"].(string)
	if !ok || host == "" {
		return nil, errors.Newf("ftp: host is required").
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
	if p, ok := settings["path"].(string); ok {
		target.basePath = strings.TrimRight(p, "/")
	}
	if timeout, ok := settings["timeout"].(string); ok {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, errors.Newf("ftp: invalid timeout format: %v", err).
				Component(componentName).
				Category(errors.CategoryConfiguration).
				Build()
		}
		target.timeout = duration
	}

	return target, nil
}

func (t *FTPTarget) Name() string { return "ftp" }

func (t *FTPTarget) connect(ctx context.Context) (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", t.host, t.port)
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(t.timeout),
	)
	if err != nil {
		return nil, ftpError(err, "connect")
	}

	user := t.username
	pass := t.password
	if user == "" {
		user, pass = "anonymous", "anonymous"
	}
	if err := conn.Login(user, pass); err != nil {
		_ = conn.Quit()
		return nil, ftpError(err, "login")
	}

	if t.basePath != "" {
		// MakeDir fails when the directory exists; only ChangeDir decides.
		_ = conn.MakeDir(t.basePath)
		if err := conn.ChangeDir(t.basePath); err != nil {
			_ = conn.Quit()
			return nil, ftpError(err, "change directory")
		}
	}

	return conn, nil
}

func (t *FTPTarget) Store(ctx context.Context, name string, r io.Reader) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	// Upload to a temp name, then rename: partial uploads never shadow a
	// previous complete file.
	tempName := ".tmp-" + name
	if err := conn.Stor(tempName, r); err != nil {
		_ = conn.Delete(tempName)
		return ftpError(err, "store")
	}
	if err := conn.Rename(tempName, name); err != nil {
		_ = conn.Delete(tempName)
		return ftpError(err, "rename")
	}
	return nil
}

func (t *FTPTarget) Retrieve(ctx context.Context, name string) (io.ReadCloser, error) {
	conn, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := conn.Retr(name)
	if err != nil {
		_ = conn.Quit()
		return nil, errors.Newf("ftp: archived file %s not found: %v", name, err).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Build()
	}

	return &ftpFile{resp: resp, conn: conn}, nil
}

func (t *FTPTarget) Delete(ctx context.Context, name string) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	if err := conn.Delete(name); err != nil {
		// Deleting a missing file is fine; surface everything else.
		if strings.Contains(err.Error(), "550") {
			return nil
		}
		return ftpError(err, "delete")
	}
	return nil
}

func (t *FTPTarget) Validate(ctx context.Context) error {
	conn, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	probe := ".write_test"
	if err := conn.Stor(probe, strings.NewReader("probe")); err != nil {
		return ftpError(err, "write probe")
	}
	_ = conn.Delete(probe)
	return nil
}

// ftpFile closes the data connection and the control connection together.
type ftpFile struct {
	resp *ftp.Response
	conn *ftp.ServerConn
}

func (f *ftpFile) Read(p []byte) (int, error) { return f.resp.Read(p) }

func (f *ftpFile) Close() error {
	err := f.resp.Close()
	if quitErr := f.conn.Quit(); err == nil {
		err = quitErr
	}
	return err
}

func ftpError(err error, operation string) error {
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryArchive).
		Context("target", "ftp").
		Context("operation", operation).
		Build()
}
