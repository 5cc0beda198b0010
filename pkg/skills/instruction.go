package skills

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// Instruction is the parsed text of an instruction-tier skill. Files may
// carry a YAML frontmatter block in the SKILL.md layout.
type Instruction struct {
	Name        string
	Description string
	Metadata    map[string]string
	Body        string
	Path        string
}

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

var errNoFrontmatter = errors.New("missing frontmatter")

type frontmatter struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Metadata    map[string]string `yaml:"metadata"`
}

// LoadInstructionFile reads an instruction file. A file without frontmatter
// is taken verbatim as the body and named after the file.
func LoadInstructionFile(path string) (Instruction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Instruction{}, err
	}
	return ParseInstruction(path, string(data))
}

// ParseInstruction parses content read from path.
func ParseInstruction(path, content string) (Instruction, error) {
	fm, body, err := splitFrontmatter(content)
	if errors.Is(err, errNoFrontmatter) {
		return Instruction{
			Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Body: strings.TrimSpace(content),
			Path: path,
		}, nil
	}
	if err != nil {
		return Instruction{}, err
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return Instruction{}, fmt.Errorf("parse frontmatter: %w", err)
	}
	in := Instruction{
		Name:        strings.TrimSpace(parsed.Name),
		Description: strings.TrimSpace(parsed.Description),
		Metadata:    parsed.Metadata,
		Body:        body,
		Path:        path,
	}
	if err := in.validate(); err != nil {
		return Instruction{}, fmt.Errorf("%s: %w", path, err)
	}
	return in, nil
}

// LoadInstructionDir scans root for <name>/SKILL.md files and returns one
// enabled instruction descriptor per file.
func LoadInstructionDir(root string) ([]Descriptor, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []Descriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		in, err := LoadInstructionFile(path)
		if err != nil {
			return nil, err
		}
		if in.Name != entry.Name() {
			return nil, fmt.Errorf("%s: name must match directory name (%s)", path, entry.Name())
		}
		out = append(out, Descriptor{
			ID:          in.Name,
			Name:        in.Name,
			Tier:        TierInstruction,
			Enabled:     true,
			ContentPath: path,
			Owner:       OwnerSystem,
		})
	}
	return out, nil
}

// Render formats the instruction for a system prompt. Files without
// frontmatter render as their body alone.
func (in Instruction) Render() string {
	if in.Description == "" {
		return in.Body
	}
	var b strings.Builder
	b.WriteString("## ")
	b.WriteString(in.Name)
	b.WriteString("\n\n")
	b.WriteString(in.Description)
	b.WriteString("\n\n")
	b.WriteString(in.Body)
	return strings.TrimSpace(b.String())
}

func (in Instruction) validate() error {
	if in.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(in.Name) > maxNameLen {
		return fmt.Errorf("name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(in.Name) {
		return fmt.Errorf("name must match %s", namePattern.String())
	}
	if in.Description == "" {
		return errors.New("description is required")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}
	return nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errNoFrontmatter
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}
