package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8080")
	p, err := Port("TEST_PORT", "1")
	require.NoError(t, err)
	assert.Equal(t, "8080", p)

	t.Setenv("TEST_PORT", "70000")
	_, err = Port("TEST_PORT", "1")
	assert.Error(t, err)
}

func TestIntAndDuration(t *testing.T) {
	n, err := Int("TEST_INT_UNSET", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	t.Setenv("TEST_INT", "abc")
	_, err = Int("TEST_INT", 7)
	assert.Error(t, err)

	t.Setenv("TEST_DUR", "90s")
	d, err := Duration("TEST_DUR", time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	t.Setenv("TEST_DUR", "-1s")
	_, err = Duration("TEST_DUR", time.Second)
	assert.Error(t, err)
}

func TestBoolAndList(t *testing.T) {
	assert.True(t, Bool("TEST_BOOL_UNSET", true))
	t.Setenv("TEST_BOOL", "off")
	assert.False(t, Bool("TEST_BOOL", true))
	t.Setenv("TEST_BOOL", "Yes")
	assert.True(t, Bool("TEST_BOOL", false))

	t.Setenv("TEST_LIST", " a, ,b ,")
	assert.Equal(t, []string{"a", "b"}, List("TEST_LIST"))
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("DOTENV_A=from-file\nDOTENV_B=from-file\n"), 0o600))

	t.Setenv("DOTENV_A", "from-env")
	t.Setenv("DOTENV_B", "")
	os.Unsetenv("DOTENV_B")
	LoadDotEnv(path, filepath.Join(dir, "missing.env"))

	assert.Equal(t, "from-env", os.Getenv("DOTENV_A"))
	assert.Equal(t, "from-file", os.Getenv("DOTENV_B"))
}
