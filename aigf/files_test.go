package aigf

import (
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLines(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "guilds.txt")
	require.NoError(t, os.WriteFile(path, []byte("# guilds\n 123 \n\n456\r\n#789\n"), 0o600))

	lines, err := loadLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "456"}, lines)

	lines, err = loadLines(filepath.Join(dir, "missing.txt"))
	require.NoError(t, err)
	assert.Empty(t, lines)

	_, err = loadLines(dir)
	assert.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	testCases := []struct {
		name    string
		content *string
		want    map[string]any
		wantErr bool
	}{
		{name: "missing", want: map[string]any{}},
		{name: "empty", content: ptr(""), want: map[string]any{}},
		{name: "whitespace", content: ptr(" \n"), want: map[string]any{}},
		{name: "null", content: ptr("null"), want: map[string]any{}},
		{name: "object", content: ptr(`{"UserName": "민수", "Creativity": 4}`), want: map[string]any{"UserName": "민수", "Creativity": 4.0}},
		{name: "array", content: ptr(`[1, 2]`), wantErr: true},
		{name: "invalid", content: ptr(`{"UserName": `), wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				path := filepath.Join(dir, tc.name+".json")
				if tc.content != nil {
					require.NoError(t, os.WriteFile(path, []byte(*tc.content), 0o600))
				}
				got, err := loadJSON(path)
				if tc.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.want, got)
			},
		)
	}
}

func TestSaveLoadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "model.yaml")

	type doc struct {
		Name  string   `yaml:"name"`
		Items []string `yaml:"items"`
	}

	var out doc
	found, err := loadYAML(path, &out)
	require.NoError(t, err)
	assert.False(t, found)

	in := doc{Name: "하나", Items: []string{"a", "b"}}
	require.NoError(t, saveYAML(path, in))

	found, err = loadYAML(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, in, out)

	require.NoError(t, os.WriteFile(path, []byte("name: [unclosed"), 0o600))
	found, err = loadYAML(path, &out)
	assert.True(t, found)
	assert.Error(t, err)
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "c1.json")

	require.NoError(t, saveJSON(path, map[string]any{"a": 1}))
	require.NoError(t, writeFileAtomic(path, []byte("replaced")))

	text, err := loadText(path)
	require.NoError(t, err)
	assert.Equal(t, "replaced", text)

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "c1.json", entries[0].Name())

	require.NoError(t, removeFile(path))
	require.NoError(t, removeFile(path))
	text, err = loadText(path)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func ptr[T any](v T) *T {
	return &v
}
