package pipeline

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"Add user authentication", "add-user-authentication"},
		{"Fix: crash on  startup!", "fix-crash-on-startup"},
		{"  Already-Slugged  ", "already-slugged"},
		{"", ""},
		{"///", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slugify(tt.input))
	}
}

func TestSlugify_Truncates(t *testing.T) {
	t.Parallel()

	long := Slugify("this is a very long task description that keeps going and going and going far beyond any slug limit")
	assert.LessOrEqual(t, len(long), MaxSlugLength)
	assert.NotEqual(t, byte('-'), long[len(long)-1])
}

func TestNextSpecID_Sequencing(t *testing.T) {
	t.Parallel()

	root := t.TempDir()

	id, err := NextSpecID(root, "first task")
	require.NoError(t, err)
	assert.Equal(t, "001-first-task", id)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "001-first-task"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "007-other"), 0o755))

	id, err = NextSpecID(root, "second task")
	require.NoError(t, err)
	assert.Equal(t, "008-second-task", id)
}

func TestNextSpecID_EmptyTask(t *testing.T) {
	t.Parallel()

	id, err := NextSpecID(t.TempDir(), "")
	require.NoError(t, err)
	assert.Equal(t, "001-task", id)
}

func TestCreateSpecDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	specID, specDir, err := CreateSpecDir(root, "a task")
	require.NoError(t, err)
	assert.Equal(t, "001-a-task", specID)

	info, err := os.Stat(specDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestListSpecIDs(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	for _, dir := range []string{"002-b", "001-a", "not-a-spec"} {
		require.NoError(t, os.MkdirAll(filepath.Join(root, dir), 0o755))
	}

	ids, err := ListSpecIDs(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"001-a", "002-b"}, ids)
}

func TestSlugFromSpecID(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "add-auth", SlugFromSpecID("001-add-auth"))
	assert.Equal(t, "plain", SlugFromSpecID("plain"))
}
