// Package filesystem provides a DocumentSource reading policy files from a
// local directory tree.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/policyqa/internal/core/domain"
	"github.com/custodia-labs/policyqa/internal/core/ports/driven"
	"github.com/custodia-labs/policyqa/internal/logger"
	"github.com/custodia-labs/policyqa/internal/normalisers"
)

// Ensure Source implements the interface.
var _ driven.DocumentSource = (*Source)(nil)

// DefaultDebounce is how long watch mode waits for a burst of file events
// to settle before emitting changes.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a filesystem source.
type Config struct {
	// Root is the documents directory.
	Root string

	// Include lists doublestar patterns relative to Root. Empty means all files.
	Include []string

	// Exclude lists doublestar patterns relative to Root.
	Exclude []string

	// Debounce delays watch events. Zero uses DefaultDebounce.
	Debounce time.Duration
}

// Source lists and watches a directory tree.
// Hidden files and directories are skipped.
type Source struct {
	root     string
	include  []string
	exclude  []string
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New creates a filesystem source. Root is made absolute when possible.
func New(cfg Config) *Source {
	root := cfg.Root
	if root != "" {
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Source{
		root:     root,
		include:  cfg.Include,
		exclude:  cfg.Exclude,
		debounce: debounce,
	}
}

// Root returns the absolute documents directory.
func (s *Source) Root() string {
	return s.root
}

// Validate checks that the root exists and is a directory.
func (s *Source) Validate() error {
	if s.root == "" {
		return fmt.Errorf("%w: documents directory is not set", domain.ErrInvalidInput)
	}
	info, err := os.Stat(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s does not exist", domain.ErrNotFound, s.root)
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, s.root)
	}
	return nil
}

// List walks the tree and streams every matching file in lexical order.
// Unreadable files are logged and skipped. A walk failure is sent on the
// error channel, which is closed when listing completes.
func (s *Source) List(ctx context.Context) (<-chan domain.RawDocument, <-chan error) {
	docs := make(chan domain.RawDocument)
	errs := make(chan error, 1)

	go func() {
		defer close(docs)
		defer close(errs)

		if err := s.Validate(); err != nil {
			errs <- err
			return
		}

		err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("filesystem: skipping %s: %v", path, err)
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if path == s.root {
				return nil
			}
			if d.IsDir() {
				if isHidden(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !s.Matches(path) {
				return nil
			}

			doc, err := s.Read(path)
			if err != nil {
				logger.Warn("filesystem: skipping %s: %v", path, err)
				return nil
			}

			select {
			case docs <- doc:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errs <- fmt.Errorf("walk %s: %w", s.root, err)
		}
	}()

	return docs, errs
}

// Matches reports whether an absolute path is inside the root, visible and
// selected by the include and exclude patterns.
func (s *Source) Matches(path string) bool {
	rel, ok := s.relative(path)
	if !ok || isHidden(rel) {
		return false
	}
	for _, pattern := range s.exclude {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return false
		}
	}
	if len(s.include) == 0 {
		return true
	}
	for _, pattern := range s.include {
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}

// Read loads one file as a raw document.
func (s *Source) Read(path string) (domain.RawDocument, error) {
	info, err := os.Stat(path)
	if err != nil {
		return domain.RawDocument{}, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return domain.RawDocument{}, err
	}

	doc := s.describe(path)
	doc.Content = content
	doc.ModTime = info.ModTime()
	doc.Metadata["size"] = info.Size()
	return doc, nil
}

// describe builds a raw document without content.
func (s *Source) describe(path string) domain.RawDocument {
	rel, _ := s.relative(path)
	metadata := map[string]any{"relative_path": rel}
	if hint := policyHint(rel); hint != "" {
		metadata[normalisers.PolicyHintKey] = hint
	}
	return domain.RawDocument{
		URI:      path,
		MIMEType: normalisers.MIMEType(path),
		Metadata: metadata,
	}
}

// relative returns the slash-separated path below the root.
func (s *Source) relative(path string) (string, bool) {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// policyHint is the name of the file's parent directory, or "" for files
// directly in the root.
func policyHint(rel string) string {
	dir := filepath.Dir(filepath.FromSlash(rel))
	if dir == "." {
		return ""
	}
	return filepath.Base(dir)
}

// Watch streams debounced changes until the context is cancelled or the
// source is closed. New subdirectories are watched as they appear.
func (s *Source) Watch(ctx context.Context) (<-chan domain.RawDocumentChange, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.watcher != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("filesystem: already watching %s", s.root)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher
	s.mu.Unlock()

	if err := s.addTree(watcher, s.root); err != nil {
		_ = s.Close()
		return nil, err
	}

	changes := make(chan domain.RawDocumentChange)
	go s.watchLoop(ctx, watcher, changes)
	return changes, nil
}

// addTree watches dir and every visible directory below it.
func (s *Source) addTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != s.root && isHidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *Source) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, changes chan<- domain.RawDocumentChange) {
	defer close(changes)
	defer s.release(watcher)

	pending := make(map[string]domain.ChangeType)
	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if s.trackDirectory(watcher, event, pending) {
				timer.Reset(s.debounce)
				continue
			}
			changeType, ok := s.handleFsEvent(event)
			if !ok {
				continue
			}
			prev, seen := pending[event.Name]
			pending[event.Name] = merge(prev, changeType, seen)
			timer.Reset(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("filesystem: watch error: %v", err)

		case <-timer.C:
			for _, change := range s.flush(pending) {
				select {
				case changes <- change:
				case <-ctx.Done():
					return
				}
			}
			pending = make(map[string]domain.ChangeType)
		}
	}
}

// trackDirectory watches a newly created directory and queues the matching
// files already inside it. It reports whether the event was for a directory.
func (s *Source) trackDirectory(watcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]domain.ChangeType) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if isHidden(filepath.Base(event.Name)) {
		return true
	}
	if err := s.addTree(watcher, event.Name); err != nil {
		logger.Warn("filesystem: %v", err)
	}
	_ = filepath.WalkDir(event.Name, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.Type().IsRegular() && s.Matches(path) {
			pending[path] = domain.ChangeCreated
		}
		return nil
	})
	return true
}

// handleFsEvent maps a file event to a change type. Events for
// directories, hidden or unmatched files and chmod-only events are ignored.
func (s *Source) handleFsEvent(event fsnotify.Event) (domain.ChangeType, bool) {
	if !s.Matches(event.Name) {
		return 0, false
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		return domain.ChangeDeleted, true
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			return 0, false
		}
		return domain.ChangeCreated, true
	case event.Has(fsnotify.Write):
		return domain.ChangeUpdated, true
	default:
		return 0, false
	}
}

// merge folds a new event into the pending change for a path.
// A file created and then written within one window is still a creation.
func merge(prev, next domain.ChangeType, seen bool) domain.ChangeType {
	if !seen {
		return next
	}
	if prev == domain.ChangeCreated && next == domain.ChangeUpdated {
		return domain.ChangeCreated
	}
	return next
}

// flush turns pending paths into changes, in path order. The file's state on
// disk decides: a deleted path that exists again is an update, and a created
// or updated path that has vanished is dropped.
func (s *Source) flush(pending map[string]domain.ChangeType) []domain.RawDocumentChange {
	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	changes := make([]domain.RawDocumentChange, 0, len(paths))
	for _, path := range paths {
		changeType := pending[path]
		_, statErr := os.Stat(path)
		exists := statErr == nil

		switch {
		case changeType == domain.ChangeDeleted && !exists:
			changes = append(changes, domain.RawDocumentChange{Type: domain.ChangeDeleted, Document: s.describe(path)})
			continue
		case changeType == domain.ChangeDeleted:
			changeType = domain.ChangeUpdated
		case !exists:
			continue
		}

		doc, err := s.Read(path)
		if err != nil {
			logger.Warn("filesystem: skipping %s: %v", path, err)
			continue
		}
		changes = append(changes, domain.RawDocumentChange{Type: changeType, Document: doc})
	}
	return changes
}

// Close stops watching. It is safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	err := s.watcher.Close()
	s.watcher = nil
	return err
}

// release closes watcher if it is still the active one.
func (s *Source) release(watcher *fsnotify.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == watcher {
		_ = watcher.Close()
		s.watcher = nil
	}
}

// isHidden reports whether any element of path starts with a dot.
// "." and ".." are not hidden.
func isHidden(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part != "" && part != "." && part != ".." && strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
