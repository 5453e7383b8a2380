package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/openapi"
)

// Errors joins validation errors into one error, or returns nil.
func Errors(verrs []VError) error {
	if len(verrs) == 0 {
		return nil
	}
	errs := make([]error, len(verrs))
	for i, e := range verrs {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// Reloader loads, validates, and swaps definitions into a Registry, at
// startup and whenever a watched file changes.
type Reloader struct {
	dirs      []string
	loader    *Loader
	validator *Validator
	index     *openapi.Index
	registry  *Registry
	logger    *zap.Logger
	debounce  time.Duration

	mu       sync.Mutex
	onReload []func(*Registry)
	onResult func(error)
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloadLogger sets the logger.
func WithReloadLogger(l *zap.Logger) ReloaderOption {
	return func(r *Reloader) { r.logger = l }
}

// WithDebounce sets how long file events are coalesced before reloading.
func WithDebounce(d time.Duration) ReloaderOption {
	return func(r *Reloader) { r.debounce = d }
}

// WithResultHook registers fn to receive the outcome of every reload.
func WithResultHook(fn func(error)) ReloaderOption {
	return func(r *Reloader) { r.onResult = fn }
}

// NewReloader creates a Reloader for dirs. index may be nil.
func NewReloader(registry *Registry, validator *Validator, index *openapi.Index, dirs []string, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		dirs:      dirs,
		loader:    NewLoader(),
		validator: validator,
		index:     index,
		registry:  registry,
		logger:    zap.NewNop(),
		debounce:  250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnReload registers fn to run after each successful swap.
func (r *Reloader) OnReload(fn func(*Registry)) {
	r.mu.Lock()
	r.onReload = append(r.onReload, fn)
	r.mu.Unlock()
}

// Reload loads and validates every definition. On failure the registry keeps
// its previous snapshot.
func (r *Reloader) Reload() error {
	err := r.reload()
	if r.onResult != nil {
		r.onResult(err)
	}
	return err
}

func (r *Reloader) reload() error {
	defs, err := r.loader.LoadAll(r.dirs)
	if err != nil {
		return err
	}
	if err := Errors(r.validator.Validate(defs, r.index)); err != nil {
		return fmt.Errorf("definition: validation: %w", err)
	}

	r.registry.Replace(defs)
	r.logger.Info("definitions loaded",
		zap.Int("panels", len(defs)),
		zap.Int("forms", len(r.registry.FormIDs())),
		zap.String("checksum", r.registry.Checksum()),
	)

	r.mu.Lock()
	hooks := append([]func(*Registry){}, r.onReload...)
	r.mu.Unlock()
	for _, fn := range hooks {
		fn(r.registry)
	}
	return nil
}

// Watch reloads on changes below the configured directories until ctx is
// done. Bursts of events within the debounce interval cause one reload.
func (r *Reloader) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("definition: create watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range r.dirs {
		if err := addTree(w, dir); err != nil {
			return err
		}
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(r.debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := addTree(w, event.Name); err != nil {
						r.logger.Warn("definition: watching new directory", zap.String("dir", event.Name), zap.Error(err))
					}
					schedule()
					continue
				}
			}
			if isDefinitionFile(event.Name) && event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				schedule()
			}
		case <-fire:
			if err := r.Reload(); err != nil {
				r.logger.Error("definition: hot reload failed, keeping previous definitions", zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("definition: watcher error", zap.Error(err))
		}
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("definition: watch %s: %w", path, err)
			}
		}
		return nil
	})
}
