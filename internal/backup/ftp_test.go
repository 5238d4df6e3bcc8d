package backup

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posvault/internal/config"
)

// fakeFTP records the commands an FTPSink issues.
type fakeFTP struct {
	mu        sync.Mutex
	calls     []string
	files     map[string][]byte
	loginErr  error
	storErr   error
	renameErr error
	quit      bool
}

func newFakeFTP() *fakeFTP {
	return &fakeFTP{files: map[string][]byte{}}
}

func (f *fakeFTP) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeFTP) Login(user, password string) error {
	f.record("login " + user)
	return f.loginErr
}

func (f *fakeFTP) ChangeDir(path string) error {
	f.record("cwd " + path)
	return nil
}

func (f *fakeFTP) Stor(path string, r io.Reader) error {
	f.record("stor " + path)
	if f.storErr != nil {
		return f.storErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.files[path] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeFTP) Rename(from, to string) error {
	f.record("rename " + from + " " + to)
	if f.renameErr != nil {
		return f.renameErr
	}
	f.mu.Lock()
	f.files[to] = f.files[from]
	delete(f.files, from)
	f.mu.Unlock()
	return nil
}

func (f *fakeFTP) Delete(path string) error {
	f.record("dele " + path)
	f.mu.Lock()
	delete(f.files, path)
	f.mu.Unlock()
	return nil
}

func (f *fakeFTP) Quit() error {
	f.mu.Lock()
	f.quit = true
	f.mu.Unlock()
	return nil
}

func dialTo(conn *fakeFTP) FTPDialer {
	return func(context.Context, string) (FTPConn, error) { return conn, nil }
}

var testFTPConfig = config.FTPConfig{
	Host:     "ftp.example.com:21",
	User:     "shop",
	Password: "secret",
	Path:     "/backups",
}

func TestFTPSink_UploadsPartThenRenames(t *testing.T) {
	conn := newFakeFTP()
	sink := NewFTPSink(testFTPConfig, dialTo(conn), nil)

	err := sink.Deliver(context.Background(), "b.json", []byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, []string{
		"login shop",
		"cwd /backups",
		"stor b.json.part",
		"rename b.json.part b.json",
	}, conn.calls)
	assert.Equal(t, []byte("{}"), conn.files["b.json"])
	assert.NotContains(t, conn.files, "b.json.part")
	assert.True(t, conn.quit)
}

func TestFTPSink_NoPathSkipsChangeDir(t *testing.T) {
	conn := newFakeFTP()
	cfg := testFTPConfig
	cfg.Path = ""
	sink := NewFTPSink(cfg, dialTo(conn), nil)

	require.NoError(t, sink.Deliver(context.Background(), "b.json", []byte("{}")))
	assert.NotContains(t, conn.calls, "cwd ")
	assert.Len(t, conn.calls, 3)
}

func TestFTPSink_RenameFailureRemovesPart(t *testing.T) {
	conn := newFakeFTP()
	conn.renameErr = errors.New("550 rename failed")
	sink := NewFTPSink(testFTPConfig, dialTo(conn), nil)

	err := sink.Deliver(context.Background(), "b.json", []byte("{}"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSinkUnreachable)
	assert.ErrorIs(t, err, conn.renameErr)
	assert.Contains(t, conn.calls, "dele b.json.part")
	assert.Empty(t, conn.files)
}

func TestFTPSink_Failures(t *testing.T) {
	dialErr := errors.New("connection refused")

	tests := []struct {
		name  string
		dial  FTPDialer
		setup func(*fakeFTP)
		want  error
	}{
		{
			name: "dial",
			dial: func(context.Context, string) (FTPConn, error) { return nil, dialErr },
			want: dialErr,
		},
		{
			name:  "login",
			setup: func(f *fakeFTP) { f.loginErr = errors.New("530 login incorrect") },
		},
		{
			name:  "upload",
			setup: func(f *fakeFTP) { f.storErr = errors.New("452 disk full") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := newFakeFTP()
			if tt.setup != nil {
				tt.setup(conn)
			}
			dial := tt.dial
			if dial == nil {
				dial = dialTo(conn)
			}

			err := NewFTPSink(testFTPConfig, dial, nil).Deliver(context.Background(), "b.json", []byte("{}"))

			var se *SinkError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "ftp", se.Sink)
			assert.ErrorIs(t, err, ErrSinkUnreachable)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			assert.NotContains(t, conn.files, "b.json")
		})
	}
}
