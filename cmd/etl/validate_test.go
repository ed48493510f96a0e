package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Embedded(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"validate"})

	require.NoError(t, root.Execute())
	assert.Regexp(t, `usgs\s+[1-9]`, out.String())
	assert.Regexp(t, `danr\s+[1-9]`, out.String())
}

func TestValidate_BadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("usgs: {}\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"validate", "--catalog", path})

	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validate catalog")
}
