package sessions_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EternisAI/cookie-jar/internal/sessions"
	"github.com/EternisAI/cookie-jar/internal/sessions/storetest"
)

func TestFileStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) sessions.Store {
		fs, err := sessions.NewFileStore(t.TempDir())
		require.NoError(t, err)
		return fs
	})
}

func TestFileStorePersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := sessions.NewFileStore(dir)
	require.NoError(t, err)
	s := &sessions.Session{
		ID:        uuid.NewString(),
		Site:      "ajio",
		Cookies:   []sessions.Cookie{{Name: "sid", Value: "abc"}},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Health:    sessions.HealthHealthy,
	}
	require.NoError(t, first.Insert(ctx, s))
	assert.FileExists(t, filepath.Join(dir, "ajio.json"))

	second, err := sessions.NewFileStore(dir)
	require.NoError(t, err)
	got, err := second.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Cookies[0].Value)

	require.NoError(t, second.Delete(ctx, s.ID))
	assert.NoFileExists(t, filepath.Join(dir, "ajio.json"))
}

func TestFileStoreRejectsUnknownHealth(t *testing.T) {
	dir := t.TempDir()
	doc := `[{"id":"a","site":"ajio","cookies":[],"created_at":"2026-03-01T12:00:00Z","health":"degraded","leased":false}]`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ajio.json"), []byte(doc), 0o644))

	fs, err := sessions.NewFileStore(dir)
	require.NoError(t, err)

	_, err = fs.List(context.Background(), "ajio")
	assert.ErrorIs(t, err, sessions.ErrStoreUnavailable)
	assert.ErrorIs(t, err, sessions.ErrInvalidHealth)
}

func TestFileStoreCorruptDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ajio.json"), []byte("{not json"), 0o644))

	fs, err := sessions.NewFileStore(dir)
	require.NoError(t, err)

	_, err = fs.Candidate(context.Background(), "ajio", sessions.Horizon{Now: time.Now()})
	assert.ErrorIs(t, err, sessions.ErrStoreUnavailable)
}

func TestFileStoreRejectsUnsafeSite(t *testing.T) {
	fs, err := sessions.NewFileStore(t.TempDir())
	require.NoError(t, err)

	err = fs.Insert(context.Background(), &sessions.Session{
		ID:     uuid.NewString(),
		Site:   "../outside",
		Health: sessions.HealthHealthy,
	})
	assert.ErrorIs(t, err, sessions.ErrInvalidSite)
}
