package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestMemory(t *testing.T) {
	m := NewMemory()

	_, ok := m.GetItem("ifai_sid")
	assert.False(t, ok)

	require.NoError(t, m.SetItem("ifai_sid", "abc"))
	v, ok := m.GetItem("ifai_sid")
	assert.True(t, ok)
	assert.Equal(t, "abc", v)

	require.NoError(t, m.SetItem("ifai_sid", "def"))
	v, _ = m.GetItem("ifai_sid")
	assert.Equal(t, "def", v)
	assert.Equal(t, 1, m.Len())
}

func TestSQLite(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "tabs.db")
	logger := zaptest.NewLogger(t)

	t.Run("requires a tab id", func(t *testing.T) {
		_, err := OpenSQLite(dbPath, "", logger)
		assert.Error(t, err)
	})

	t.Run("round trip and overwrite", func(t *testing.T) {
		s, err := OpenSQLite(dbPath, "tab-1", logger)
		require.NoError(t, err)
		defer s.Close()

		_, ok := s.GetItem("missing")
		assert.False(t, ok)

		require.NoError(t, s.SetItem("ifai_sid", "first"))
		require.NoError(t, s.SetItem("ifai_sid", "second"))
		v, ok := s.GetItem("ifai_sid")
		assert.True(t, ok)
		assert.Equal(t, "second", v)
	})

	t.Run("survives reopen and is scoped per tab", func(t *testing.T) {
		s, err := OpenSQLite(dbPath, "tab-1", logger)
		require.NoError(t, err)
		v, ok := s.GetItem("ifai_sid")
		assert.True(t, ok)
		assert.Equal(t, "second", v)
		require.NoError(t, s.Close())

		other, err := OpenSQLite(dbPath, "tab-2", logger)
		require.NoError(t, err)
		defer other.Close()
		_, ok = other.GetItem("ifai_sid")
		assert.False(t, ok)
	})

	t.Run("clear removes the tab keys", func(t *testing.T) {
		s, err := OpenSQLite(dbPath, "tab-1", logger)
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Clear())
		_, ok := s.GetItem("ifai_sid")
		assert.False(t, ok)
	})
}
