// Package filedata provides a data source that reads flags and segments from a local JSON
// file, for development and testing against fixed data. It can be used as a one-shot
// initializer or, in watch mode, as a synchronizer that reloads the file whenever it
// changes.
package filedata

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"
)

const defaultRetryInterval = time.Second

// fileContents is the expected shape of the data file.
type fileContents struct {
	Flags    map[string]json.RawMessage `json:"flags"`
	Segments map[string]json.RawMessage `json:"segments"`
}

// FileDataSource reads a {"flags": ..., "segments": ...} JSON file and translates it into a
// full data transfer. In watch mode it also monitors the file and emits a new transfer on
// every change.
//
// Items in the file may omit their version numbers. Each successful load is assigned an
// increasing version which is applied to any item that does not carry its own, so that
// reloads replace earlier data in a version-gated store.
type FileDataSource struct {
	path          string
	retryInterval time.Duration

	loadVersion int
	versionLock sync.Mutex

	updatesCh chan subsystems.Update
	halt      chan struct{}
	closeOnce sync.Once
	loggers   ldlog.Loggers
}

// NewFileDataSource creates a FileDataSource for the given file path. It does not read the
// file until Fetch or Sync is called.
func NewFileDataSource(path string, loggers ldlog.Loggers) *FileDataSource {
	loggers.SetPrefix("FileDataSource:")
	return &FileDataSource{
		path:          path,
		retryInterval: defaultRetryInterval,
		updatesCh:     make(chan subsystems.Update),
		halt:          make(chan struct{}),
		loggers:       loggers,
	}
}

// Name identifies the data source in logs.
func (f *FileDataSource) Name() string {
	return "FileData"
}

// Fetch reads the file once. File data is never mirrored to a persistent store.
func (f *FileDataSource) Fetch(_ context.Context) (*subsystems.Basis, error) {
	changeSet, err := f.loadFile()
	if err != nil {
		return nil, err
	}
	return &subsystems.Basis{ChangeSet: changeSet, Persist: false}, nil
}

// Sync reads the file and then watches it, delivering a new full transfer on each change.
// The selector is ignored; file data has no server state to resume from.
func (f *FileDataSource) Sync(ctx context.Context, _ fdv2proto.Selector) <-chan subsystems.Update {
	go f.run(ctx)
	return f.updatesCh
}

// Close permanently stops the file watcher. It is safe to call more than once.
func (f *FileDataSource) Close() error {
	f.closeOnce.Do(func() {
		close(f.halt)
	})
	return nil
}

func (f *FileDataSource) run(ctx context.Context) {
	defer close(f.updatesCh)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		f.deliverError(ctx, err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(f.path); err != nil {
		f.deliverError(ctx, err)
		return
	}

	lastFileInfo, _ := os.Stat(f.path)
	if !f.reload(ctx) {
		return
	}

	retryCh := make(chan struct{}, 1)
	scheduleRetry := func() {
		time.AfterFunc(f.retryInterval, func() {
			select {
			case retryCh <- struct{}{}:
			default:
			}
		})
	}

	maybeReload := func() {
		curFileInfo, err := os.Stat(f.path)
		if err != nil {
			// the file may be mid-replacement; try again shortly
			f.loggers.Warnf("Data file is unreadable: %s", err)
			scheduleRetry()
			return
		}
		if lastFileInfo != nil && !fileMayHaveChanged(curFileInfo, lastFileInfo) {
			return
		}
		lastFileInfo = curFileInfo
		if !f.reload(ctx) {
			return
		}
	}

	for {
		select {
		case <-f.halt:
			return
		case <-ctx.Done():
			return
		case event := <-watcher.Events:
			f.loggers.Debugf("File watcher event: %+v", event)
			consumeExtraEvents(watcher)
			maybeReload()
		case err := <-watcher.Errors:
			f.loggers.Warnf("File watcher error: %s", err)
		case <-retryCh:
			maybeReload()
		}
	}
}

// reload reads and delivers the file contents, returning false if the source is shutting
// down. A malformed file is reported as an interruption and does not stop the watcher.
func (f *FileDataSource) reload(ctx context.Context) bool {
	changeSet, err := f.loadFile()
	if err != nil {
		f.loggers.Warnf("Failed to load data file: %s", err)
		return f.deliver(ctx, subsystems.Update{
			State: interfaces.DataSourceStateInterrupted,
			Err: interfaces.DataSourceErrorInfo{
				Kind:    interfaces.DataSourceErrorKindInvalidData,
				Message: err.Error(),
				Time:    time.Now(),
			},
		})
	}
	f.loggers.Infof("Loaded data from %s", f.path)
	return f.deliver(ctx, subsystems.Update{
		State:     interfaces.DataSourceStateValid,
		ChangeSet: changeSet,
	})
}

func (f *FileDataSource) loadFile() (*fdv2proto.ChangeSet, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}
	var contents fileContents
	if err := json.Unmarshal(data, &contents); err != nil {
		return nil, fmt.Errorf("data file is not valid JSON: %w", err)
	}

	f.versionLock.Lock()
	f.loadVersion++
	version := f.loadVersion
	f.versionLock.Unlock()

	builder := fdv2proto.NewChangeSetBuilder()
	if err := builder.Start(fdv2proto.ServerIntent{
		Payloads: []fdv2proto.Payload{{ID: "file-data", Code: fdv2proto.IntentTransferFull}},
	}); err != nil {
		return nil, err
	}
	for key, object := range contents.Flags {
		if err := builder.AddPut(fdv2proto.FlagKind, key, version, object); err != nil {
			return nil, err
		}
	}
	for key, object := range contents.Segments {
		if err := builder.AddPut(fdv2proto.SegmentKind, key, version, object); err != nil {
			return nil, err
		}
	}
	return builder.Finish(fdv2proto.NoSelector())
}

func (f *FileDataSource) deliver(ctx context.Context, update subsystems.Update) bool {
	select {
	case f.updatesCh <- update:
		return true
	case <-f.halt:
		return false
	case <-ctx.Done():
		return false
	}
}

func (f *FileDataSource) deliverError(ctx context.Context, err error) {
	f.loggers.Errorf("Unable to watch data file: %s", err)
	f.deliver(ctx, subsystems.Update{
		State: interfaces.DataSourceStateOff,
		Err: interfaces.DataSourceErrorInfo{
			Kind:    interfaces.DataSourceErrorKindUnknown,
			Message: err.Error(),
			Time:    time.Now(),
		},
	})
}

func fileMayHaveChanged(newInfo, oldInfo os.FileInfo) bool {
	return !newInfo.ModTime().Equal(oldInfo.ModTime()) || newInfo.Size() != oldInfo.Size()
}

func consumeExtraEvents(watcher *fsnotify.Watcher) {
	for {
		select {
		case <-watcher.Events:
		default:
			return
		}
	}
}
