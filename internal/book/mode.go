package book

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/park285/Cheese-Lichess-bot/internal/obslog"
)

type Mode string

const (
	modeDebounce = 100 * time.Millisecond
	modeMaxDelay = 500 * time.Millisecond
)

const (
	Decisive Mode = "decisive"
	Drawish  Mode = "drawish"
	Mixed    Mode = "mixed"
)

func ParseMode(s string) (Mode, bool) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Decisive, Drawish, Mixed:
		return m, true
	default:
		return "", false
	}
}

// ModeSwitch holds the active book mode. An optional toggle file holding
// one mode word overrides the default while its content is valid.
type ModeSwitch struct {
	def  Mode
	path string

	mu      sync.RWMutex
	current Mode
}

func NewModeSwitch(def, toggleFile string) *ModeSwitch {
	m, ok := ParseMode(def)
	if !ok {
		m = Decisive
	}
	s := &ModeSwitch{def: m, path: strings.TrimSpace(toggleFile), current: m}
	s.Refresh()
	return s
}

func (s *ModeSwitch) Current() Mode {
	if s == nil {
		return Decisive
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Refresh re-reads the toggle file and reports the mode now in effect.
func (s *ModeSwitch) Refresh() Mode {
	next := s.def
	if s.path != "" {
		if raw, err := os.ReadFile(s.path); err == nil {
			if m, ok := ParseMode(string(raw)); ok {
				next = m
			}
		}
	}
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.mu.Unlock()
	if prev != next {
		obslog.L().Info("book_mode_switched", zap.String("from", string(prev)), zap.String("to", string(next)))
	}
	return next
}

// Watch follows the toggle file until ctx ends. The parent directory is
// watched so editors that replace the file are seen too.
func (s *ModeSwitch) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch book mode dir: %w", err)
	}
	obslog.L().Info("book_mode_watch_started", zap.String("path", s.path))

	name := filepath.Clean(s.path)
	// Catch edits made before the watch was in place.
	s.Refresh()

	// Bursts are coalesced, but a steady stream of writes still refreshes
	// at least every modeMaxDelay.
	debounce := time.NewTimer(modeDebounce)
	debounce.Stop()
	defer debounce.Stop()
	var pendingSince time.Time

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			now := time.Now()
			if pendingSince.IsZero() {
				pendingSince = now
			}
			if now.Sub(pendingSince) >= modeMaxDelay {
				debounce.Stop()
				pendingSince = time.Time{}
				s.Refresh()
				continue
			}
			debounce.Reset(modeDebounce)
		case <-debounce.C:
			pendingSince = time.Time{}
			s.Refresh()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			obslog.L().Warn("book_mode_watch_error", zap.Error(err))
		}
	}
}
