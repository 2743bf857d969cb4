package persistence

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x1a0b/mockserver-sub001/pkg/expectation"
	"github.com/0x1a0b/mockserver-sub001/pkg/model"
)

func expectationFor(id, path string) *model.Expectation {
	e := model.When(model.Request().WithMethod("GET").WithPath(path)).Respond(model.Response(200).WithBody(model.StringBody("ok " + path)))
	e.ID = id
	return e
}

func readPersisted(t *testing.T, path string) []*model.Expectation {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	exps, err := Decode(path, data)
	require.NoError(t, err)
	return exps
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		file    string
		content string
		want    int
		wantErr bool
	}{
		{name: "json object", file: "a.json", content: `{"httpRequest":{"path":"/a"},"httpResponse":{"statusCode":201}}`, want: 1},
		{name: "json array", file: "a.json", content: `[{"httpRequest":{"path":"/a"}},{"httpRequest":{"path":"/b"}}]`, want: 2},
		{name: "yaml list", file: "a.yaml", content: "- httpRequest:\n    path: /a\n  httpResponse:\n    statusCode: 202\n", want: 1},
		{name: "empty", file: "a.json", content: "  ", want: 0},
		{name: "bad json", file: "a.json", content: `{`, wantErr: true},
		{name: "bad yaml", file: "a.yml", content: "- [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exps, err := Decode(tt.file, []byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, exps, tt.want)
		})
	}

	exps, err := Decode("x.yaml", []byte("- httpRequest:\n    path: /a\n  httpResponse:\n    statusCode: 202\n"))
	require.NoError(t, err)
	assert.Equal(t, "/a", exps[0].HTTPRequest.Path.Value)
	assert.Equal(t, 202, exps[0].HTTPResponse.StatusCode)
}

func TestFileListener_PersistsChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "persisted.json")
	store := expectation.NewStore()
	store.RegisterListener(NewFileListener(path))

	_, err := store.Add(expectation.CauseAPI, expectationFor("one", "/one"), expectationFor("two", "/two"))
	require.NoError(t, err)
	got := readPersisted(t, path)
	require.Len(t, got, 2)
	assert.Equal(t, "one", got[0].ID)

	store.Remove("one", expectation.CauseAPI)
	got = readPersisted(t, path)
	require.Len(t, got, 1)
	assert.Equal(t, "two", got[0].ID)

	store.Reset(expectation.CauseAPI)
	assert.Empty(t, readPersisted(t, path))
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileListener_SkipsOwnInitializer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.json")
	l := NewFileListener(path, WithInitializerPath(filepath.Join(dir, ".", "exp.json")))

	l.ExpectationsChanged([]*model.Expectation{expectationFor("a", "/a")}, expectation.CauseFileInitializer)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "initializer changes to the same file are not written back")

	l.ExpectationsChanged([]*model.Expectation{expectationFor("a", "/a")}, expectation.CauseAPI)
	assert.Len(t, readPersisted(t, path), 1)

	other := NewFileListener(filepath.Join(dir, "other.json"), WithInitializerPath(path))
	other.ExpectationsChanged([]*model.Expectation{expectationFor("b", "/b")}, expectation.CauseFileInitializer)
	assert.Len(t, readPersisted(t, filepath.Join(dir, "other.json")), 1)
}

func TestSQLListener_ReplaceAndLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l, err := OpenSQL(ctx, DriverSQLite, filepath.Join(t.TempDir(), "exp.db"))
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	store := expectation.NewStore()
	store.RegisterListener(l)
	_, err = store.Add(expectation.CauseAPI, expectationFor("b", "/b"), expectationFor("a", "/a"))
	require.NoError(t, err)

	loaded, err := l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "b", loaded[0].ID, "store order is kept")
	assert.Equal(t, "/a", loaded[1].HTTPRequest.Path.Value)

	store.Clear(model.Request().WithMethod("GET").WithPath("/b"), expectation.CauseAPI)
	loaded, err = l.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "a", loaded[0].ID)

	restored := expectation.NewStore()
	_, err = restored.Add(expectation.CauseAPI, loaded...)
	require.NoError(t, err)
	assert.NotNil(t, restored.FirstMatching(model.Request().WithMethod("GET").WithPath("/a")))
}

func TestOpenSQL_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := OpenSQL(context.Background(), "mysql", "x")
	assert.ErrorIs(t, err, ErrUnsupportedDriver)
}

func writeExpectations(t *testing.T, path string, exps ...*model.Expectation) {
	t.Helper()
	data, err := Encode(exps)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestInitializer_LoadGlobAndReplace(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeExpectations(t, filepath.Join(dir, "a.json"), expectationFor("a", "/a"))
	writeExpectations(t, filepath.Join(dir, "nested", "deep", "b.json"), expectationFor("b", "/b"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.yaml"), []byte("httpRequest:\n  path: /c\nhttpResponse:\n  statusCode: 200\n"), 0o600))

	store := expectation.NewStore()
	causes := make(chan expectation.Cause, 10)
	store.RegisterListener(expectation.ListenerFunc(func(_ []*model.Expectation, c expectation.Cause) { causes <- c }))
	_, err := store.Add(expectation.CauseAPI, expectationFor("api", "/api"))
	require.NoError(t, err)
	<-causes

	loader := NewInitializer(store, filepath.Join(dir, "**", "*.{json,yaml}"))
	n, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, expectation.CauseFileInitializer, <-causes)
	assert.Equal(t, 4, store.Len())

	require.NoError(t, os.Remove(filepath.Join(dir, "nested", "deep", "b.json")))
	n, err = loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Nil(t, store.Get("b"))
	assert.NotNil(t, store.Get("a"))
	assert.NotNil(t, store.Get("api"), "expectations added through the API are kept")
	assert.Equal(t, 3, store.Len())
}

func TestInitializer_InvalidFileChangesNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.json")
	writeExpectations(t, path, expectationFor("a", "/a"))

	store := expectation.NewStore()
	loader := NewInitializer(store, path)
	_, err := loader.Load()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"httpRequest":`), 0o600))
	_, err = loader.Load()
	assert.Error(t, err)
	assert.NotNil(t, store.Get("a"))
}

func TestInitializer_Watch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "exp.json")
	writeExpectations(t, path, expectationFor("first", "/first"))

	store := expectation.NewStore()
	loader := NewInitializer(store, filepath.Join(dir, "*.json"), WithDebounce(20*time.Millisecond))
	_, err := loader.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loader.Watch(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	// Give the watcher time to register before changing the file.
	time.Sleep(100 * time.Millisecond)
	writeExpectations(t, path, expectationFor("second", "/second"))

	assert.Eventually(t, func() bool {
		return store.Get("second") != nil && store.Get("first") == nil
	}, 5*time.Second, 20*time.Millisecond)
}
