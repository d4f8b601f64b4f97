package lists

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/corintai/corint/internal/logger"
	"github.com/corintai/corint/internal/value"
)

// FileService serves lists from a directory of `<list_id>.txt` files, one
// member per line, `#` for comments. The directory loads once at start and
// reloads on filesystem notification; readers always see a complete
// snapshot because reloads swap an immutable pointer.
type FileService struct {
	dir      string
	snapshot atomic.Pointer[map[string]*memberSet]
	watcher  *fsnotify.Watcher
	done     chan struct{}
	logger   logger.Logger
}

var (
	_ Service     = (*FileService)(nil)
	_ Snapshotter = (*FileService)(nil)
)

// NewFileService loads every list file in the directory and starts the
// reload watcher.
func NewFileService(dir string, lg logger.Logger) (*FileService, error) {
	if lg == nil {
		lg = logger.Default()
	}
	svc := &FileService{dir: dir, done: make(chan struct{}), logger: lg}
	if err := svc.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to start list watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch list dir %q: %w", dir, err)
	}
	svc.watcher = watcher
	go svc.watch()
	return svc, nil
}

// reload parses the whole directory into a fresh snapshot and swaps it in.
func (s *FileService) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read list dir %q: %w", s.dir, err)
	}
	next := map[string]*memberSet{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		listID := strings.TrimSuffix(entry.Name(), ".txt")
		set, err := loadListFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return err
		}
		next[listID] = set
	}
	s.snapshot.Store(&next)
	return nil
}

func loadListFile(path string) (*memberSet, error) {
	f, err := os.Open(path) //nolint:gosec // list files come from the configured dir
	if err != nil {
		return nil, fmt.Errorf("failed to open list file %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	set := newMemberSet()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.add(value.String(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read list file %q: %w", path, err)
	}
	return set, nil
}

// watch reloads on any change in the directory. The whole directory reloads
// rather than single files so a rename or delete cannot leave a stale list
// behind.
func (s *FileService) watch() {
	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.reload(); err != nil {
				s.logger.Error("list reload failed", "dir", s.dir, "err", err)
				continue
			}
			s.logger.Info("lists reloaded", "dir", s.dir, "trigger", event.Name)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("list watcher error", "dir", s.dir, "err", err)
		}
	}
}

func (s *FileService) current() map[string]*memberSet {
	return *s.snapshot.Load()
}

func (s *FileService) Contains(_ context.Context, listID string, v value.Value) (bool, error) {
	set, ok := s.current()[listID]
	if !ok {
		return false, ErrUnknownList
	}
	_, found := set.members[v.String()]
	return found, nil
}

func (s *FileService) Add(context.Context, string, value.Value) error {
	return ErrReadOnly
}

func (s *FileService) Remove(context.Context, string, value.Value) error {
	return ErrReadOnly
}

func (s *FileService) GetAll(_ context.Context, listID string) ([]value.Value, error) {
	set, ok := s.current()[listID]
	if !ok {
		return nil, ErrUnknownList
	}
	members := make([]value.Value, len(set.ordered))
	copy(members, set.ordered)
	return members, nil
}

func (s *FileService) Snapshot(_ context.Context, listID string) (value.Value, error) {
	set, ok := s.current()[listID]
	if !ok {
		return value.Null(), nil
	}
	return set.snapshot, nil
}

// Close stops the watcher.
func (s *FileService) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
