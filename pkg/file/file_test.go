package file_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/router-agent/pkg/file"
)

type sample struct {
	Name  string `yaml:"name"`
	Ports []int  `yaml:"ports"`
}

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestIsFileExists(t *testing.T) {
	fs := file.NewFileService()
	path := writeTemp(t, "name: x\n")

	ok, err := fs.IsFileExists(path)
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = fs.IsFileExists(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestReadYamlFile(t *testing.T) {
	fs := file.NewFileService()
	path := writeTemp(t, "name: studio-a\nports: [9990, 6107]\n")

	var s sample
	err := fs.ReadYamlFile(path, &s)

	require.NoError(t, err)
	assert.Equal(t, sample{Name: "studio-a", Ports: []int{9990, 6107}}, s)
}

func TestReadYamlFile_UnknownKey(t *testing.T) {
	fs := file.NewFileService()
	path := writeTemp(t, "name: studio-a\nprots: [1]\n")

	var s sample
	err := fs.ReadYamlFile(path, &s)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "prots")
}

func TestReadYamlFile_Empty(t *testing.T) {
	fs := file.NewFileService()
	path := writeTemp(t, "")

	var s sample
	err := fs.ReadYamlFile(path, &s)

	assert.ErrorContains(t, err, "empty document")
}

func TestReadFileRaw(t *testing.T) {
	fs := file.NewFileService()
	path := writeTemp(t, "raw bytes")

	data, err := fs.ReadFileRaw(path)

	require.NoError(t, err)
	assert.Equal(t, "raw bytes", string(data))
}
