package skills

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadManifestYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
skills:
  - id: kubectl
    name: Kubectl
    tier: stdio
    enabled: true
    command: kubectl-mcp
    args: ["--read-only"]
    env:
      KUBECONFIG: /etc/kube/config
  - id: catalog
    tier: service
    transport: sse
    enabled: true
    url: http://catalog.skills.svc:8080/sse
  - id: tone
    tier: instruction
    enabled: true
    content_path: prompts/tone.md
`), 0o644))

	ds, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, ds, 3)
	assert.Equal(t, []string{"--read-only"}, ds[0].Args)
	assert.Equal(t, "/etc/kube/config", ds[0].Env["KUBECONFIG"])
	assert.Equal(t, mcp.TransportSSE, ds[1].Transport)
	assert.Equal(t, filepath.Join(dir, "prompts/tone.md"), ds[2].ContentPath)
}

func TestLoadManifestTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[skills]]
id = "search"
tier = "sidecar"
enabled = true
url = "http://127.0.0.1:9000/mcp"
tags = ["web"]

[skills.headers]
X-Team = "platform"
`), 0o644))

	ds, err := LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	assert.Equal(t, TierSidecar, ds[0].Tier)
	assert.Equal(t, "platform", ds[0].Headers["X-Team"])
	assert.Equal(t, []string{"web"}, ds[0].Tags)
}

func TestLoadManifestRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")
	require.NoError(t, os.WriteFile(path, []byte("skills:\n  - id: broken\n    tier: stdio\n"), 0o644))
	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a command")
}

func TestLoadManifestUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.ini")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	_, err := LoadManifest(path)
	assert.Error(t, err)
}
