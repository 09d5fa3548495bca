package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/everpan/idorm/pkg/event"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher reloads configuration when a watched file changes and announces
// every reload as an event.TypeConfigReload event.
type FileWatcher struct {
	watcher *fsnotify.Watcher
	pub     event.Publisher
	topic   string
	reload  func() error
	logger  *zap.Logger

	mu      sync.Mutex
	files   map[string]bool
	started bool
	done    chan struct{}
}

// NewFileWatcher creates a new FileWatcher. pub may be nil, reload is called
// for every write to a watched file.
func NewFileWatcher(pub event.Publisher, topic string, reload func() error, logger *zap.Logger) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWatcher{
		watcher: watcher,
		pub:     pub,
		topic:   topic,
		reload:  reload,
		logger:  logger,
		files:   make(map[string]bool),
		done:    make(chan struct{}),
	}, nil
}

// Watch starts watching filePath. The directory is watched so that editors
// replacing the file are noticed too.
func (fw *FileWatcher) Watch(filePath string) error {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("watch %s: %w", filePath, err)
	}
	if err := fw.watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.files[abs] = true
	if !fw.started {
		fw.started = true
		go fw.handleEvents()
	}
	return nil
}

func (fw *FileWatcher) watched(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.files[abs]
}

func (fw *FileWatcher) handleEvents() {
	defer close(fw.done)
	for {
		select {
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 || !fw.watched(ev.Name) {
				continue
			}
			fw.apply(ev.Name)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Warn("watch config", zap.Error(err))
		}
	}
}

func (fw *FileWatcher) apply(name string) {
	data := map[string]any{"file": name}
	if fw.reload != nil {
		if err := fw.reload(); err != nil {
			fw.logger.Error("reload config", zap.String("file", name), zap.Error(err))
			data["error"] = err.Error()
		} else {
			fw.logger.Info("config reloaded", zap.String("file", name))
		}
	}
	if fw.pub == nil {
		return
	}
	evt := event.New(event.TypeConfigReload, "idorm.watcher", data)
	if err := fw.pub.Publish(context.Background(), fw.topic, evt); err != nil {
		fw.logger.Warn("publish config reload", zap.Error(err))
	}
}

// Close stops watching and waits for the event loop to finish.
func (fw *FileWatcher) Close() error {
	err := fw.watcher.Close()
	fw.mu.Lock()
	started := fw.started
	fw.mu.Unlock()
	if started {
		<-fw.done
	}
	return err
}
