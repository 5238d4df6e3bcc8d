package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/require"

	"github.com/roach88/posvault/internal/backup"
	"github.com/roach88/posvault/internal/config"
	"github.com/roach88/posvault/internal/ids"
	"github.com/roach88/posvault/internal/store"
	"github.com/roach88/posvault/internal/testutil"
)

// cliEnv is a config file, database and backup directory in a temp dir.
type cliEnv struct {
	t          *testing.T
	dir        string
	configPath string
	dbPath     string
	backupDir  string
	downloads  string
	s3         *memS3
	opts       *RootOptions
	stderr     *bytes.Buffer
}

func newCLIEnv(t *testing.T, edit ...func(*config.Config)) *cliEnv {
	t.Helper()
	dir := t.TempDir()
	env := &cliEnv{
		t:          t,
		dir:        dir,
		configPath: filepath.Join(dir, "posvault.yaml"),
		dbPath:     filepath.Join(dir, "posvault.db"),
		backupDir:  filepath.Join(dir, "backups"),
		downloads:  filepath.Join(dir, "downloads"),
		s3:         newMemS3(),
	}
	require.NoError(t, os.Mkdir(env.backupDir, 0o755))

	cfg := config.Default()
	cfg.Database = env.dbPath
	cfg.TenantID = "shop-1"
	cfg.DownloadDir = env.downloads
	cfg.Backup.LocalDir = env.backupDir
	for _, fn := range edit {
		fn(cfg)
	}
	require.NoError(t, cfg.Save(env.configPath))

	env.opts = &RootOptions{
		Clock: testutil.NewDeterministicClock().Now,
		IDs:   ids.NewFixedGenerator("order-1", "order-2", "order-3", "order-4", "order-5", "order-6"),
		SinkDeps: &backup.SinkDeps{
			Capability: backup.NewDirectoryCapability(),
			Downloader: backup.DirDownloader{Dir: env.downloads},
			NewS3: func(context.Context, config.CloudConfig) (backup.S3API, error) {
				return env.s3, nil
			},
		},
	}
	return env
}

// run executes the CLI with the env's config file.
func (e *cliEnv) run(args ...string) (string, error) {
	return e.runWithInput(nil, args...)
}

func (e *cliEnv) runWithInput(stdin io.Reader, args ...string) (string, error) {
	e.t.Helper()
	return e.runContext(context.Background(), stdin, args...)
}

func (e *cliEnv) runContext(ctx context.Context, stdin io.Reader, args ...string) (string, error) {
	out := &bytes.Buffer{}
	cmd := newRootCommand(e.opts)
	cmd.SetOut(out)
	e.stderr = &bytes.Buffer{}
	cmd.SetErr(e.stderr)
	if stdin != nil {
		cmd.SetIn(stdin)
	}
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// seed writes records straight into the env's database.
func seed[T any](e *cliEnv, collection string, records ...T) {
	e.t.Helper()
	st, err := store.Open(e.dbPath)
	require.NoError(e.t, err)
	defer st.Close()
	testutil.Seed(e.t, st, collection, records...)
}

// openStore opens the env's database for assertions.
func (e *cliEnv) openStore() *store.Store {
	e.t.Helper()
	st, err := store.Open(e.dbPath)
	require.NoError(e.t, err)
	e.t.Cleanup(func() { st.Close() })
	return st
}

func (e *cliEnv) config() *config.Config {
	e.t.Helper()
	cfg, err := config.Load(e.configPath)
	require.NoError(e.t, err)
	return cfg
}

// decodeData unmarshals the data field of a JSON CLI response.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

// memS3 is a single-page in-memory bucket.
type memS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemS3() *memS3 {
	return &memS3{objects: map[string][]byte{}}
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{
			Key:          aws.String(k),
			LastModified: aws.Time(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)),
			Size:         aws.Int64(int64(len(m.objects[k]))),
		})
	}
	return out, nil
}
