package filedata

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/interfaces"
	"github.com/launchdarkly/go-server-sdk-core/internal/datakinds"
	"github.com/launchdarkly/go-server-sdk-core/internal/fdv2proto"
	"github.com/launchdarkly/go-server-sdk-core/subsystems"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const simpleFileData = `{
	"flags": {
		"flag1": {"key": "flag1", "on": true}
	},
	"segments": {
		"seg1": {"key": "seg1"}
	}
}`

func writeTestFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flags.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func makeSource(t *testing.T, path string) *FileDataSource {
	f := NewFileDataSource(path, ldlog.NewDisabledLoggers())
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func requireUpdate(t *testing.T, updatesCh <-chan subsystems.Update) subsystems.Update {
	t.Helper()
	select {
	case update, ok := <-updatesCh:
		require.True(t, ok, "update channel was closed unexpectedly")
		return update
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for update")
		return subsystems.Update{}
	}
}

func requireClosed(t *testing.T, updatesCh <-chan subsystems.Update) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-updatesCh:
			if !ok {
				return
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for update channel to close")
		}
	}
}

func findChange(changes []fdv2proto.Change, key string) (fdv2proto.Change, bool) {
	for _, change := range changes {
		if change.Key == key {
			return change, true
		}
	}
	return fdv2proto.Change{}, false
}

func TestFileFetchReturnsFullChangeSet(t *testing.T) {
	f := makeSource(t, writeTestFile(t, simpleFileData))
	basis, err := f.Fetch(context.Background())
	require.NoError(t, err)

	assert.False(t, basis.Persist)
	assert.Equal(t, fdv2proto.IntentTransferFull, basis.ChangeSet.IntentCode())
	assert.False(t, basis.ChangeSet.Selector().IsDefined())
	assert.Len(t, basis.ChangeSet.Changes(), 2)

	flag, ok := findChange(basis.ChangeSet.Changes(), "flag1")
	require.True(t, ok)
	assert.Equal(t, datakinds.Features, flag.Kind)
	assert.Equal(t, 1, flag.Object.Version)

	seg, ok := findChange(basis.ChangeSet.Changes(), "seg1")
	require.True(t, ok)
	assert.Equal(t, datakinds.Segments, seg.Kind)
}

func TestFileFetchKeepsExplicitVersions(t *testing.T) {
	f := makeSource(t, writeTestFile(t, `{"flags": {"flag1": {"key": "flag1", "version": 5}}}`))
	basis, err := f.Fetch(context.Background())
	require.NoError(t, err)

	flag, ok := findChange(basis.ChangeSet.Changes(), "flag1")
	require.True(t, ok)
	assert.Equal(t, 5, flag.Object.Version)
}

func TestFileFetchFailsForMissingFile(t *testing.T) {
	f := makeSource(t, filepath.Join(t.TempDir(), "no-such-file.json"))
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
}

func TestFileFetchFailsForMalformedFile(t *testing.T) {
	f := makeSource(t, writeTestFile(t, `{"flags":`))
	_, err := f.Fetch(context.Background())
	require.Error(t, err)
}

func TestFileSyncDeliversInitialData(t *testing.T) {
	f := makeSource(t, writeTestFile(t, simpleFileData))
	updatesCh := f.Sync(context.Background(), fdv2proto.NoSelector())

	update := requireUpdate(t, updatesCh)
	assert.Equal(t, interfaces.DataSourceStateValid, update.State)
	require.NotNil(t, update.ChangeSet)
	assert.Len(t, update.ChangeSet.Changes(), 2)
}

func TestFileSyncReloadsOnFileChange(t *testing.T) {
	path := writeTestFile(t, simpleFileData)
	f := makeSource(t, path)
	updatesCh := f.Sync(context.Background(), fdv2proto.NoSelector())

	first := requireUpdate(t, updatesCh)
	require.Equal(t, interfaces.DataSourceStateValid, first.State)

	require.NoError(t, os.WriteFile(path,
		[]byte(`{"flags": {"flag2": {"key": "flag2", "on": false}}}`), 0600))

	second := requireUpdate(t, updatesCh)
	assert.Equal(t, interfaces.DataSourceStateValid, second.State)
	require.NotNil(t, second.ChangeSet)

	flag, ok := findChange(second.ChangeSet.Changes(), "flag2")
	require.True(t, ok)
	// the second load gets a higher version so it replaces the first in a version-gated store
	assert.Equal(t, 2, flag.Object.Version)
}

func TestFileSyncReportsMalformedFileAndRecovers(t *testing.T) {
	path := writeTestFile(t, `{"flags":`)
	f := makeSource(t, path)
	updatesCh := f.Sync(context.Background(), fdv2proto.NoSelector())

	first := requireUpdate(t, updatesCh)
	assert.Equal(t, interfaces.DataSourceStateInterrupted, first.State)
	assert.Equal(t, interfaces.DataSourceErrorKindInvalidData, first.Err.Kind)

	require.NoError(t, os.WriteFile(path, []byte(simpleFileData), 0600))

	second := requireUpdate(t, updatesCh)
	assert.Equal(t, interfaces.DataSourceStateValid, second.State)
}

func TestFileSyncCloseClosesChannel(t *testing.T) {
	f := makeSource(t, writeTestFile(t, simpleFileData))
	updatesCh := f.Sync(context.Background(), fdv2proto.NoSelector())

	requireUpdate(t, updatesCh)
	require.NoError(t, f.Close())
	requireClosed(t, updatesCh)
}

func TestFileSyncMissingFileIsPermanentOff(t *testing.T) {
	f := makeSource(t, filepath.Join(t.TempDir(), "no-such-file.json"))
	updatesCh := f.Sync(context.Background(), fdv2proto.NoSelector())

	update := requireUpdate(t, updatesCh)
	assert.Equal(t, interfaces.DataSourceStateOff, update.State)
	requireClosed(t, updatesCh)
}
