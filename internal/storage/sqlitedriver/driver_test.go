package sqlitedriver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriver_InMemory(t *testing.T) {
	d, err := Open(":memory:")
	require.NoError(t, err)
	defer d.Close()

	_, ok, err := d.Load("market")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, d.Store("market", []byte(`[{"id":"x"}]`)))
	require.NoError(t, d.Store("market", []byte(`[]`)))

	v, ok, err := d.Load("market")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[]", string(v))

	require.NoError(t, d.Delete("market"))
	_, ok, err = d.Load("market")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDriver_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinboard.db")

	d, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, d.Store("chats", []byte(`[{"content":"hello"}]`)))
	require.NoError(t, d.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err := reopened.Load("chats")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"content":"hello"}]`, string(v))
}
