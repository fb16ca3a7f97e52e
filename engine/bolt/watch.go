package bolt

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

func writeVersionFile(path string, v uint32) error {
	return os.WriteFile(path, []byte(strconv.FormatUint(uint64(v), 10)+"\n"), 0o644)
}

func readVersionFile(path string) (uint32, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(b)), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// versionWatcher watches the sidecar version file and fires onChange once
// when another writer stores a version different from ours, or removes the
// file (database deleted). The parent directory is watched rather than the
// file itself so that remove/recreate cycles keep delivering events.
type versionWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
	wg   sync.WaitGroup
}

func newVersionWatcher(path string, self uint32, onChange func(newVersion uint32)) (*versionWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}

	vw := &versionWatcher{w: w, done: make(chan struct{})}
	vw.wg.Add(1)
	go func() {
		defer vw.wg.Done()
		var fired bool
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if fired || ev.Name != path {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
					!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
					continue
				}
				v, err := readVersionFile(path)
				if err != nil {
					// gone or unreadable: the database was deleted
					fired = true
					onChange(0)
					continue
				}
				if v != self {
					fired = true
					onChange(v)
				}
			case <-w.Errors:
				// lost events are acceptable; the next one re-samples
			case <-vw.done:
				return
			}
		}
	}()
	return vw, nil
}

func (vw *versionWatcher) close() {
	close(vw.done)
	_ = vw.w.Close()
	vw.wg.Wait()
}
