package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Downloader hands a backup file to the user when the local directory
// cannot be written.
type Downloader interface {
	Download(ctx context.Context, name string, data []byte) error
}

// DirDownloader saves fallback downloads into a fixed directory, creating it
// as needed.
type DirDownloader struct {
	Dir string
}

// Download implements Downloader.
func (d DirDownloader) Download(_ context.Context, name string, data []byte) error {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return fmt.Errorf("download %s: %w", name, err)
	}
	return writeFileAtomic(filepath.Join(d.Dir, name), data)
}

// LocalSink writes snapshots into the directory behind a
// DirectoryCapability. If the capability is revoked the snapshot is handed
// to the fallback Downloader instead, and the delivery still succeeds.
type LocalSink struct {
	capability *DirectoryCapability
	dir        string
	fallback   Downloader
	logger     *slog.Logger
}

// NewLocalSink creates a LocalSink. dir is acquired on first use if the
// capability has never been granted.
func NewLocalSink(c *DirectoryCapability, dir string, fallback Downloader, logger *slog.Logger) *LocalSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalSink{capability: c, dir: dir, fallback: fallback, logger: logger}
}

// Name implements Sink.
func (s *LocalSink) Name() string { return "local" }

// Deliver implements Sink.
func (s *LocalSink) Deliver(ctx context.Context, name string, data []byte) error {
	s.acquire()

	dir, err := s.capability.Check()
	if err != nil {
		if errors.Is(err, ErrPermissionRevoked) && s.fallback != nil {
			s.logger.Warn("backup directory permission revoked, downloading instead",
				"file", name, "error", err)
			if dlErr := s.fallback.Download(ctx, name, data); dlErr != nil {
				return sinkError(s.Name(), errors.Join(err, dlErr))
			}
			return nil
		}
		return sinkError(s.Name(), err)
	}

	if err := writeFileAtomic(filepath.Join(dir, name), data); err != nil {
		return sinkError(s.Name(), err)
	}
	return nil
}

// acquire selects the sink's configured directory when the capability has
// never been granted or is held for a different directory. A revoked grant
// for the same directory stays revoked. If the switch fails the old grant is
// revoked too, so nothing is written to a directory the config no longer
// names.
func (s *LocalSink) acquire() {
	if s.dir == "" {
		return
	}
	want, err := filepath.Abs(s.dir)
	if err != nil {
		want = s.dir
	}
	if !s.capability.neverGranted() && s.capability.Dir() == want {
		return
	}
	if err := s.capability.Select(s.dir); err != nil {
		s.capability.Revoke()
		s.logger.Warn("backup directory not usable", "dir", s.dir, "error", err)
	}
}

// List implements Lister for the granted directory.
func (s *LocalSink) List(_ context.Context) ([]Entry, error) {
	dir, err := s.capability.Check()
	if err != nil {
		return nil, err
	}
	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := []Entry{}
	for _, item := range items {
		if item.IsDir() || !strings.HasSuffix(item.Name(), ".json") || !strings.Contains(item.Name(), "_backup_") {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			Name:         item.Name(),
			Path:         filepath.Join(dir, item.Name()),
			LastModified: info.ModTime(),
			Size:         info.Size(),
		})
	}
	sortNewestFirst(entries)
	return entries, nil
}

// Fetch implements Fetcher for files inside the granted directory.
func (s *LocalSink) Fetch(_ context.Context, path string) ([]byte, error) {
	dir, err := s.capability.Check()
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	return os.ReadFile(path)
}

// writeFileAtomic writes data to a temporary file in the target directory
// and renames it into place, so readers never see a partial backup.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".posvault-backup-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func sortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].LastModified.Equal(entries[j].LastModified) {
			return entries[i].Name > entries[j].Name
		}
		return entries[i].LastModified.After(entries[j].LastModified)
	})
}
