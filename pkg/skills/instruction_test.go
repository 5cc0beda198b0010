package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, root, dir, content string) string {
	t.Helper()
	skillDir := filepath.Join(root, dir)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := filepath.Join(skillDir, "SKILL.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadInstructionFile(t *testing.T) {
	path := writeSkill(t, t.TempDir(), "incident-triage", `---
name: incident-triage
description: Triage production incidents.
metadata:
  owner: sre
---

Check the pod events before restarting anything.
`)

	in, err := LoadInstructionFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if in.Name != "incident-triage" {
		t.Fatalf("unexpected name: %s", in.Name)
	}
	if in.Metadata["owner"] != "sre" {
		t.Fatalf("unexpected metadata: %v", in.Metadata)
	}
	want := "## incident-triage\n\nTriage production incidents.\n\nCheck the pod events before restarting anything."
	if got := in.Render(); got != want {
		t.Fatalf("render mismatch:\n%s", got)
	}
}

func TestLoadInstructionFileWithoutFrontmatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tone.md")
	if err := os.WriteFile(path, []byte("  Be brief.\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	in, err := LoadInstructionFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if in.Name != "tone" || in.Body != "Be brief." {
		t.Fatalf("unexpected instruction: %+v", in)
	}
}

func TestParseInstructionValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing name", "---\ndescription: x\n---\nbody", "name is required"},
		{"bad name", "---\nname: Bad_Name\ndescription: x\n---\nbody", "name must match"},
		{"missing description", "---\nname: ok\n---\nbody", "description is required"},
		{"unterminated", "---\nname: ok", "invalid frontmatter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseInstruction("x.md", tt.content)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadInstructionDir(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "code-review", "---\nname: code-review\ndescription: Review code changes.\n---\n")
	if err := os.MkdirAll(filepath.Join(root, "empty"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	ds, err := LoadInstructionDir(root)
	if err != nil {
		t.Fatalf("load dir: %v", err)
	}
	if len(ds) != 1 {
		t.Fatalf("expected 1 skill, got %d", len(ds))
	}
	if ds[0].ID != "code-review" || ds[0].Tier != TierInstruction || !ds[0].Enabled {
		t.Fatalf("unexpected descriptor: %+v", ds[0])
	}
}

func TestLoadInstructionDirNameMismatch(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "review", "---\nname: code-review\ndescription: Review.\n---\n")
	if _, err := LoadInstructionDir(root); err == nil {
		t.Fatal("expected directory name mismatch")
	}
}
