package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// FileConfigProvider serves the configuration loaded from a local file and
// reloads it when the file changes.
type FileConfigProvider struct {
	path     string
	logger   *slog.Logger
	debounce time.Duration

	mu          sync.RWMutex
	current     *Config
	subscribers []chan *Config

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}
}

// ProviderOption customises a FileConfigProvider.
type ProviderOption func(*FileConfigProvider)

// WithProviderLogger sets the logger used for reload events. Without it the
// process default logger at the time of the event is used.
func WithProviderLogger(logger *slog.Logger) ProviderOption {
	return func(p *FileConfigProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) ProviderOption {
	return func(p *FileConfigProvider) {
		if d > 0 {
			p.debounce = d
		}
	}
}

// NewFileConfigProvider loads path and starts watching it. The initial load
// must succeed; later reload failures keep the last good configuration.
func NewFileConfigProvider(path string, opts ...ProviderOption) (*FileConfigProvider, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	cfg, err := Load(absPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory so atomic rename-on-save is seen.
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &FileConfigProvider{
		path:     absPath,
		debounce: DefaultDebounce,
		current:  cfg,
		watcher:  watcher,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Path returns the absolute path being watched.
func (p *FileConfigProvider) Path() string {
	return p.path
}

// Current returns the last successfully loaded configuration.
func (p *FileConfigProvider) Current() *Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Subscribe returns a channel that receives each successfully reloaded
// configuration. Slow consumers miss intermediate versions.
func (p *FileConfigProvider) Subscribe() <-chan *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Config, 1)
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Close stops the watcher and cleans up resources.
func (p *FileConfigProvider) Close() error {
	p.cancel()
	err := p.watcher.Close()
	<-p.done
	return err
}

func (p *FileConfigProvider) watchLoop(ctx context.Context) {
	defer close(p.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Chmod) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(p.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				p.reload()
			})
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log().Warn("config watcher error", "path", p.path, "error", err)
		}
	}
}

func (p *FileConfigProvider) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return slog.Default()
}

func (p *FileConfigProvider) reload() {
	cfg, err := Load(p.path)
	if err != nil {
		p.log().Error("config reload failed, keeping previous configuration", "path", p.path, "error", err)
		return
	}

	p.mu.Lock()
	p.current = cfg
	subscribers := make([]chan *Config, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	p.log().Info("configuration reloaded", "path", p.path)

	for _, ch := range subscribers {
		select {
		case ch <- cfg:
		default:
			// Drop the stale pending value and deliver the newest.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- cfg:
			default:
			}
		}
	}
}
