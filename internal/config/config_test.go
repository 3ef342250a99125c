package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "SYSTEM", cfg.Actor.System)
	assert.Equal(t, 9*time.Minute, cfg.Tasks.Timeout)
	assert.Equal(t, uint64(1000000000), cfg.IDs.Modulus)
}

func TestGeneratedTemplateParses(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault()))
	require.NoError(t, err)
	assert.Equal(t, *Default(), *cfg)
}

func TestFromYAMLOverridesDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("actor:\n  system: worker\ntasks:\n  timeout: 30s\nlog:\n  format: json\n"))
	require.NoError(t, err)
	assert.Equal(t, "worker", cfg.Actor.System)
	assert.Equal(t, 30*time.Second, cfg.Tasks.Timeout)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"driver":         "database:\n  driver: mysql\n",
		"postgres dsn":   "database:\n  driver: postgres\n",
		"secret":         "ids:\n  secret: 0\n",
		"not coprime":    "ids:\n  modulus: 1000\n  secret: 10\n",
		"log format":     "log:\n  format: xml\n",
		"system actor":   "actor:\n  system: \"  \"\n",
		"zero timeout":   "tasks:\n  timeout: 0s\n",
		"malformed yaml": "ids: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, *Default(), *cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ifcv.yml"), []byte("media_root: /srv/media\n"), 0o644))
	cfg, err = LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "/srv/media", cfg.MediaRoot)
}
