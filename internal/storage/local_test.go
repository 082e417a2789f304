package storage

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndDelete(t *testing.T) {
	l := NewLocal(t.TempDir())

	rel, err := l.Save("properties/1/images", "Photo.JPG", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(rel, "properties/1/images/"))
	assert.True(t, strings.HasSuffix(rel, ".jpg"))
	assert.True(t, l.Exists(rel))

	full, err := l.Path(rel)
	require.NoError(t, err)
	raw, err := os.ReadFile(full)
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(raw))

	require.NoError(t, l.Delete(rel))
	assert.False(t, l.Exists(rel))
	assert.NoError(t, l.Delete(rel))
}

func TestPathRejectsTraversal(t *testing.T) {
	l := NewLocal(t.TempDir())
	_, err := l.Path("../../etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}
