package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Fetcher retrieves a document from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// lockStaleAfter is the age after which a leftover lock file from a crashed
// run is ignored. A held lock is touched well within this interval.
const lockStaleAfter = 10 * time.Minute

// Store reads and writes the remote catalog cache and the install record.
type Store struct {
	catalogURL string
	cacheFile  string
	recordFile string
	fetcher    Fetcher
	staleAfter time.Duration

	// Warnings receives user-visible warnings such as a catalog written for
	// a newer document layout. Defaults to os.Stderr.
	Warnings io.Writer
	Logger   *slog.Logger
}

// NewStore creates a store for the catalog at catalogURL cached in cacheFile
// and the install record in recordFile.
func NewStore(catalogURL, cacheFile, recordFile string, fetcher Fetcher) *Store {
	return &Store{
		catalogURL: catalogURL,
		cacheFile:  cacheFile,
		recordFile: recordFile,
		fetcher:    fetcher,
		staleAfter: lockStaleAfter,
		Warnings:   os.Stderr,
		Logger:     slog.Default(),
	}
}

// CacheFile returns the path of the catalog cache.
func (s *Store) CacheFile() string { return s.cacheFile }

// RecordFile returns the path of the install record.
func (s *Store) RecordFile() string { return s.recordFile }

// RefreshRemote downloads the catalog and overwrites the cache with the
// response body as is. On failure the previous cache is left untouched.
func (s *Store) RefreshRemote(ctx context.Context) error {
	s.Logger.Debug("updating remote repository information", "url", s.catalogURL, "cache", s.cacheFile)

	data, err := s.fetcher.Fetch(ctx, s.catalogURL)
	if err != nil {
		return fmt.Errorf("failed to fetch remote repository: %w", err)
	}
	if err := writeFileAtomic(s.cacheFile, data); err != nil {
		return fmt.Errorf("failed to write repository cache: %w", err)
	}
	return nil
}

// LoadRemote reads the cached catalog, fetching it first if no cache exists.
func (s *Store) LoadRemote(ctx context.Context) (*RemoteRepository, error) {
	if _, err := os.Stat(s.cacheFile); errors.Is(err, os.ErrNotExist) {
		if err := s.RefreshRemote(ctx); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(s.cacheFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read repository cache: %w", err)
	}

	remote, err := DecodeRemote(data)
	if err != nil {
		var schemaErr *SchemaMismatchError
		if errors.As(err, &schemaErr) {
			schemaErr.Path = s.cacheFile
		}
		return nil, err
	}

	if remote.NeedsSelfUpdate(FormatVersion) {
		fmt.Fprintf(s.Warnings, "⚠  The remote repository uses format version %d, this key-smtmgr understands version %d.\n", remote.FormatVersion, FormatVersion)
		fmt.Fprintf(s.Warnings, "   Please update key-smtmgr")
		if remote.LatestToolURL != "" {
			fmt.Fprintf(s.Warnings, ": %s", remote.LatestToolURL)
		}
		fmt.Fprintln(s.Warnings)
	}
	return remote, nil
}

// LoadLocal reads the install record. On first use an empty record is
// created and written to disk right away.
func (s *Store) LoadLocal() (*LocalRepository, error) {
	data, err := os.ReadFile(s.recordFile)
	if errors.Is(err, os.ErrNotExist) {
		local := NewLocalRepository()
		s.Logger.Debug("creating local repository", "path", s.recordFile)
		if err := s.SaveLocal(local); err != nil {
			return nil, err
		}
		return local, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local repository: %w", err)
	}

	local, err := DecodeLocal(data)
	if err != nil {
		var schemaErr *SchemaMismatchError
		if errors.As(err, &schemaErr) {
			schemaErr.Path = s.recordFile
		}
		return nil, err
	}
	if local.FormatVersion != FormatVersion {
		s.Logger.Warn("local repository format differs", "path", s.recordFile, "found", local.FormatVersion, "expected", FormatVersion)
	}
	return local, nil
}

// SaveLocal overwrites the install record with local.
func (s *Store) SaveLocal(local *LocalRepository) error {
	data, err := EncodeLocal(local)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.recordFile, data); err != nil {
		return fmt.Errorf("failed to write local repository: %w", err)
	}
	return nil
}

// Lock takes an advisory lock on the install record and returns the release
// function. It waits until the lock is free or ctx is done.
func (s *Store) Lock(ctx context.Context) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.recordFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create repository directory: %w", err)
	}

	lockPath := s.recordFile + ".lock"
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return s.holdLock(lockPath), nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to acquire lock: %w", err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > s.staleAfter {
			s.Logger.Warn("removing stale lock", "path", lockPath)
			_ = os.Remove(lockPath)
			continue
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("failed to acquire lock %s: %w", lockPath, ctx.Err())
		case <-ticker.C:
		}
	}
}

// holdLock refreshes the lock file's modification time until the returned
// release function is called, so a long download is not taken for a crashed
// run by another process.
func (s *Store) holdLock(lockPath string) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.staleAfter / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case now := <-ticker.C:
				if err := os.Chtimes(lockPath, now, now); err != nil {
					s.Logger.Debug("failed to refresh lock", "path", lockPath, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
			_ = os.Remove(lockPath)
		})
	}
}

// writeFileAtomic replaces path with data through a temp file in the same
// directory, so readers never see a partially written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
