package network

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kimhsiao/fieldsync/backend/internal/logging"
)

// File is an Observer driven by a state file that an OS network hook rewrites
// with "online" or "offline". A missing file reads as offline.
type File struct {
	*broadcaster

	path    string
	watcher *fsnotify.Watcher
	now     func() time.Time

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFile creates a File observer and reads the initial state.
func NewFile(path string) (*File, error) {
	f := &File{
		path: filepath.Clean(path),
		now:  time.Now,
	}
	f.broadcaster = newBroadcaster(Status{Online: false, At: f.now()})
	f.refresh()
	return f, nil
}

// ReadState parses a state file. Unknown contents read as offline.
func ReadState(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	switch string(bytes.ToLower(bytes.TrimSpace(data))) {
	case "online", "up", "1", "true":
		return true, nil
	default:
		return false, nil
	}
}

// WriteState writes a state file atomically.
func WriteState(path string, online bool) error {
	state := "offline"
	if online {
		state = "online"
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(state+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (f *File) refresh() {
	online, err := ReadState(f.path)
	if err != nil {
		logging.Warn("failed to read network state file", map[string]interface{}{
			"path":  f.path,
			"error": err.Error(),
		})
		return
	}
	if f.publish(Status{Online: online, At: f.now()}) {
		logging.Info("network transition", map[string]interface{}{
			"online": online,
			"source": "file",
		})
	}
}

// Start watches the state file's directory, so the file may be created,
// replaced or removed while watching.
func (f *File) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return fmt.Errorf("network state watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(f.path), err)
	}

	f.watcher = watcher
	f.done = make(chan struct{})
	f.running = true

	// Pick up any change made between NewFile and the watch being added.
	f.refresh()

	f.wg.Add(1)
	go f.processEvents()
	return nil
}

// Stop ends the watch and closes every subscription.
func (f *File) Stop() error {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = false
	f.mu.Unlock()

	close(f.done)
	err := f.watcher.Close()
	f.wg.Wait()
	f.closeAll()
	if err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}
	return nil
}

func (f *File) processEvents() {
	defer f.wg.Done()

	for {
		select {
		case <-f.done:
			return

		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				f.refresh()
			}

		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("network state watcher error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}
}
