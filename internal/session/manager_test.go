package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edvin/maintconsole/internal/backend"
)

type recordingNavigator struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingNavigator) Navigate(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

func TestManager_LoginStoresKeys(t *testing.T) {
	store := NewMemoryStore()
	m := NewManager(store, nil, zerolog.Nop())
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, m.Login(backend.User{ID: 3, Username: "ana", Role: "admin"}, "tok-1"))

	assert.Equal(t, "tok-1", m.Token())
	assert.True(t, m.LoggedIn())
	require.NotNil(t, m.User())
	assert.Equal(t, "ana", m.User().Username)
	last, ok := m.LastActivity()
	require.True(t, ok)
	assert.Equal(t, 2026, last.Year())
}

func TestManager_SessionExpiredClearsAndRedirectsOnce(t *testing.T) {
	store := NewMemoryStore()
	nav := &recordingNavigator{}
	m := NewManager(store, nav, zerolog.Nop())
	require.NoError(t, m.Login(backend.User{Username: "ana"}, "tok-1"))
	require.NoError(t, store.Set("theme", "dark"))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.SessionExpired()
		}()
	}
	wg.Wait()

	for _, k := range []string{KeyUser, KeyToken, KeyLastActivity} {
		_, ok := store.Get(k)
		assert.False(t, ok, k)
	}
	theme, ok := store.Get("theme")
	assert.True(t, ok, "unrelated keys survive")
	assert.Equal(t, "dark", theme)
	assert.Equal(t, []string{"/login"}, nav.paths)
}

func TestManager_LoginRearmsRedirect(t *testing.T) {
	nav := &recordingNavigator{}
	m := NewManager(NewMemoryStore(), nav, zerolog.Nop())

	require.NoError(t, m.Login(backend.User{Username: "ana"}, "tok-1"))
	m.SessionExpired()
	m.SessionExpired()
	require.NoError(t, m.Login(backend.User{Username: "ana"}, "tok-2"))
	m.SessionExpired()

	assert.Equal(t, []string{"/login", "/login"}, nav.paths)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	s := NewFileStore(path)

	_, ok := s.Get(KeyToken)
	assert.False(t, ok)

	require.NoError(t, s.Set(KeyToken, "abc"))
	require.NoError(t, s.Set(KeyUser, `{"username":"ana"}`))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened := NewFileStore(path)
	v, ok := reopened.Get(KeyToken)
	require.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, reopened.Delete(KeyToken, KeyUser))
	_, ok = NewFileStore(path).Get(KeyToken)
	assert.False(t, ok)
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s := NewFileStore(path)
	_, ok := s.Get(KeyToken)
	assert.False(t, ok)
	assert.Error(t, s.Set(KeyToken, "x"))
}

func TestFileStore_SharedBetweenManagers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	api := NewManager(NewFileStore(path), nil, zerolog.Nop())
	cli := NewManager(NewFileStore(path), nil, zerolog.Nop())

	// The API reads the file before the CLI logs in.
	assert.False(t, api.LoggedIn())

	require.NoError(t, cli.Login(backend.User{Username: "ana"}, "tok-1"))
	assert.Equal(t, "tok-1", api.Token())
	require.NotNil(t, api.User())
	assert.Equal(t, "ana", api.User().Username)

	// Activity recorded by the API keeps the CLI's credential.
	require.NoError(t, api.Touch())
	token, ok := NewFileStore(path).Get(KeyToken)
	require.True(t, ok)
	assert.Equal(t, "tok-1", token)

	require.NoError(t, api.Logout())
	assert.False(t, cli.LoggedIn())
	_, ok = NewFileStore(path).Get(KeyToken)
	assert.False(t, ok)
}
