package allocator

import (
	"os"

	"github.com/fsnotify/fsnotify"
)

// linkWatcher watches a shared-memory link path (e.g. the /dev/shm entry or
// a sentinel file next to it) for external removal, so a Director attached
// to shared memory can notice out-of-band teardown by another process
// (spec.md §7, supplemented in SPEC_FULL.md §10.3).
type linkWatcher struct {
	w      *fsnotify.Watcher
	done   chan struct{}
	closed chan struct{}
}

// watchSharedLink starts watching path. removed is invoked from a
// background goroutine the first time path is removed or renamed away;
// diag receives any watcher-setup or watch-loop errors.
func watchSharedLink(path string, removed func(), diag Diagnostics) (*linkWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := w.Add(path); err != nil {
		_ = w.Close()

		return nil, err
	}

	lw := &linkWatcher{w: w, done: make(chan struct{}), closed: make(chan struct{})}

	go lw.run(path, removed, diag)

	return lw, nil
}

func (lw *linkWatcher) run(path string, removed func(), diag Diagnostics) {
	defer close(lw.closed)

	for {
		select {
		case ev, ok := <-lw.w.Events:
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if _, err := os.Stat(path); os.IsNotExist(err) {
					removed()

					return
				}
			}
		case err, ok := <-lw.w.Errors:
			if !ok {
				return
			}

			if diag != nil {
				diag.Warnf("shared link watcher: %v", err)
			}
		case <-lw.done:
			return
		}
	}
}

// stop tears the watcher down and waits for its goroutine to exit.
func (lw *linkWatcher) stop() error {
	close(lw.done)
	err := lw.w.Close()
	<-lw.closed

	return err
}
