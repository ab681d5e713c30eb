package cache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testProjects = []Project{
	{ID: 42, Name: "demo", Path: "demo", Namespace: "team", LastActivityAt: "2024-05-01T10:00:00Z"},
	{ID: 7, Name: "tools", Path: "tools", Namespace: "ops", LastActivityAt: UnknownActivity},
}

func TestToken(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://gitlab.example.com", "gitlab.example.com"},
		{"https://gitlab.example.com/", "gitlab.example.com"},
		{"http://10.0.0.5:8080", "10.0.0.5_8080"},
		{"https://host/gitlab", "host_gitlab"},
		{"gitlab.local", "gitlab.local"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Token(tt.url), "Token(%q)", tt.url)
	}
}

func TestCleanName(t *testing.T) {
	assert.Equal(t, "my-project_1.0", CleanName("my-project_1.0"))
	assert.Equal(t, "MyProject", CleanName("My Project!"))
	assert.Equal(t, "..etcpasswd", CleanName("../etc/passwd"))
	assert.Equal(t, "", CleanName("日本語"))
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, "https://gitlab.example.com")

	assert.Equal(t, filepath.Join(dir, "gitlab.example.com.yaml"), store.Path())

	require.NoError(t, store.Save(testProjects))

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://gitlab.example.com", doc.GitLabURL)
	assert.Equal(t, testProjects, doc.Projects)

	_, err = os.Stat(store.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir(), "https://gitlab.example.com")

	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotCached)

	_, err = store.Lookup(42)
	assert.ErrorIs(t, err, ErrNotCached)
}

func TestStoreLoadCorrupt(t *testing.T) {
	store := NewStore(t.TempDir(), "https://gitlab.example.com")
	require.NoError(t, os.WriteFile(store.Path(), []byte("projects: [\n"), 0o644))

	_, err := store.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotCached)
}

func TestStoreLookup(t *testing.T) {
	store := NewStore(t.TempDir(), "https://gitlab.example.com")
	require.NoError(t, store.Save(testProjects))

	p, err := store.Lookup(42)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)

	_, err = store.Lookup(99)
	assert.ErrorIs(t, err, ErrProjectNotCached)
}

func TestStoreRemove(t *testing.T) {
	store := NewStore(t.TempDir(), "https://gitlab.example.com")
	require.NoError(t, store.Save(testProjects))

	require.NoError(t, store.Remove())
	_, err := store.Load()
	assert.ErrorIs(t, err, ErrNotCached)

	// Removing again is fine.
	assert.NoError(t, store.Remove())
}

func TestProjectDate(t *testing.T) {
	assert.Equal(t, "2024-05-01", testProjects[0].Date())
	assert.Equal(t, UnknownActivity, testProjects[1].Date())
}
