// Package frontmatter implements the file format used for every pipeline
// item: a YAML metadata block followed by a free-text body.
package frontmatter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// File pairs structured metadata with a free-text body. It is the
// durable record unit for every pipeline item.
type File struct {
	Meta map[string]any
	Body string
}

// Parse splits text into metadata and body. Text without a frontmatter
// block, or with a block that is not valid YAML, yields empty metadata
// and the whole text as body rather than an error.
func Parse(text string) File {
	if !strings.HasPrefix(text, delimiter) {
		return File{Meta: map[string]any{}, Body: text}
	}
	parts := strings.SplitN(text, delimiter, 3)
	if len(parts) < 3 {
		return File{Meta: map[string]any{}, Body: text}
	}
	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(parts[1]), &meta); err != nil || meta == nil {
		return File{Meta: map[string]any{}, Body: text}
	}
	return File{Meta: meta, Body: strings.TrimLeft(parts[2], "\n")}
}

// Render serializes the file as a block-style YAML frontmatter section
// followed by the body.
func (f File) Render() (string, error) {
	var sb strings.Builder
	enc := yaml.NewEncoder(&sb)
	enc.SetIndent(2)
	meta := f.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	if err := enc.Encode(meta); err != nil {
		return "", fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("close frontmatter encoder: %w", err)
	}
	return delimiter + "\n" + sb.String() + delimiter + "\n\n" + f.Body, nil
}

// Load reads and parses one frontmatter file.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Parse(string(raw)), nil
}

// Save writes the file, creating parent directories as needed. The write
// is atomic at single-file granularity: content lands in a temp file in
// the target directory and is renamed into place.
func Save(f File, path string) error {
	rendered, err := f.Render()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}

// Update returns a shallow merge of existing metadata with partial
// updates. Keys absent from updates are preserved, which keeps files
// readable across stage schema additions in either direction.
func Update(existing, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(existing)+len(updates))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	return merged
}
