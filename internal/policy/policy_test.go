package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_AllowAll(t *testing.T) {
	p, err := Parse([]byte("allow_all: true\n"))
	require.NoError(t, err)

	assert.True(t, p.TeamAllowed("T_ANY"))
	assert.Equal(t, 168*time.Hour, p.TTLFor("T_ANY", 168*time.Hour))
}

func TestParse_Allowlist(t *testing.T) {
	raw := []byte(`
allow_all: false
teams:
  - id: T111
  - id: T222
    ttl: 24h
`)
	p, err := Parse(raw)
	require.NoError(t, err)

	assert.True(t, p.TeamAllowed("T111"))
	assert.True(t, p.TeamAllowed("T222"))
	assert.False(t, p.TeamAllowed("T333"))

	assert.Equal(t, 168*time.Hour, p.TTLFor("T111", 168*time.Hour))
	assert.Equal(t, 24*time.Hour, p.TTLFor("T222", 168*time.Hour))
}

func TestParse_TTLOverrideWithAllowAll(t *testing.T) {
	raw := []byte(`
allow_all: true
teams:
  - id: T222
    ttl: 1h
`)
	p, err := Parse(raw)
	require.NoError(t, err)

	assert.True(t, p.TeamAllowed("T999"))
	assert.Equal(t, time.Hour, p.TTLFor("T222", 168*time.Hour))
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id": "teams:\n  - ttl: 1h\n",
		"bad ttl":    "teams:\n  - id: T1\n    ttl: soon\n",
		"not yaml":   "{{{{",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allow_all: false\nteams:\n  - id: T111\n"), 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.True(t, p.TeamAllowed("T111"))
	assert.False(t, p.TeamAllowed("T222"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.True(t, p.TeamAllowed("anything"))
	assert.Equal(t, time.Hour, p.TTLFor("anything", time.Hour))
}
