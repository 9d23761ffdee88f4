package hostcfg

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/remotedbg/internal/diag"
)

// Editors rewrite config files with several rapid events (truncate, write,
// rename); debounce so one save produces one reload.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the host configuration when its file changes on disk.
type Watcher struct {
	mu sync.Mutex

	path    string
	sink    diag.Sink
	fsw     *fsnotify.Watcher
	reloads chan *Config

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher starts watching the configuration file's directory. Watching
// the directory rather than the file survives the rename-over-save pattern.
func NewWatcher(path string, sink diag.Sink) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    abs,
		sink:    sink,
		fsw:     fsw,
		reloads: make(chan *Config, 1),
		closeCh: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Reloads yields a fresh configuration after each settled on-disk change.
func (w *Watcher) Reloads() <-chan *Config {
	return w.reloads
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	close(w.reloads)
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-fire
				}
				timer.Reset(reloadDebounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			cfg, err := Load(w.path)
			if err != nil {
				w.sink.Warnf("host config reload failed: %v", err)
				continue
			}
			// Keep only the newest config when the consumer lags.
			select {
			case w.reloads <- cfg:
			default:
				select {
				case <-w.reloads:
				default:
				}
				select {
				case w.reloads <- cfg:
				default:
				}
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.sink.Warnf("host config watcher: %v", err)
		}
	}
}
