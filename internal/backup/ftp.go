package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/roach88/posvault/internal/config"
)

// FTPConn is the subset of *ftp.ServerConn used by FTPSink.
type FTPConn interface {
	Login(user, password string) error
	ChangeDir(path string) error
	Stor(path string, r io.Reader) error
	Rename(from, to string) error
	Delete(path string) error
	Quit() error
}

// FTPDialer opens an FTP control connection.
type FTPDialer func(ctx context.Context, addr string) (FTPConn, error)

// DialFTP connects with github.com/jlaffaye/ftp.
func DialFTP(ctx context.Context, addr string) (FTPConn, error) {
	conn, err := ftp.Dial(addr,
		ftp.DialWithContext(ctx),
		ftp.DialWithTimeout(15*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FTPSink uploads snapshots to an FTP server. The upload goes to a ".part"
// file that is renamed once complete, so the server never holds a partial
// backup under the final name.
type FTPSink struct {
	cfg    config.FTPConfig
	dial   FTPDialer
	logger *slog.Logger
}

// NewFTPSink creates an FTPSink. A nil dial uses DialFTP.
func NewFTPSink(cfg config.FTPConfig, dial FTPDialer, logger *slog.Logger) *FTPSink {
	if dial == nil {
		dial = DialFTP
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FTPSink{cfg: cfg, dial: dial, logger: logger}
}

// Name implements Sink.
func (s *FTPSink) Name() string { return "ftp" }

// Deliver implements Sink.
func (s *FTPSink) Deliver(ctx context.Context, name string, data []byte) error {
	if err := s.deliver(ctx, name, data); err != nil {
		return sinkError(s.Name(), fmt.Errorf("%s: %w", s.cfg.Host, err))
	}
	return nil
}

func (s *FTPSink) deliver(ctx context.Context, name string, data []byte) error {
	conn, err := s.dial(ctx, s.cfg.Host)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() {
		if err := conn.Quit(); err != nil {
			s.logger.Debug("ftp quit failed", "host", s.cfg.Host, "error", err)
		}
	}()

	if err := conn.Login(s.cfg.User, s.cfg.Password); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if s.cfg.Path != "" {
		if err := conn.ChangeDir(s.cfg.Path); err != nil {
			return fmt.Errorf("change dir %s: %w", s.cfg.Path, err)
		}
	}

	part := name + ".part"
	if err := conn.Stor(part, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", part, err)
	}
	if err := conn.Rename(part, name); err != nil {
		if delErr := conn.Delete(part); delErr != nil {
			s.logger.Warn("ftp partial upload left behind", "file", path.Join(s.cfg.Path, part), "error", delErr)
		}
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}
