package tools

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// maxReadChars caps file tool output so a large file cannot blow up the
// dialogue history.
const maxReadChars = 8000

// Files provides read/write access confined to a sandbox root. PDF files are
// read as extracted text; everything else as-is.
type Files struct {
	root string
}

// NewFiles creates a file tool rooted at root.
func NewFiles(root string) *Files {
	return &Files{root: root}
}

// Read returns the content of path, truncated to the output cap. ".pdf"
// files are text-extracted page by page.
func (f *Files) Read(path string) (string, error) {
	resolved, err := f.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}

	var content string
	if strings.EqualFold(filepath.Ext(resolved), ".pdf") {
		content, err = extractPDF(data)
		if err != nil {
			return "", err
		}
	} else {
		content = string(data)
	}

	if len(content) > maxReadChars {
		content = content[:maxReadChars] + "\n... (truncated)"
	}
	return content, nil
}

// Write stores content at path, creating parent directories.
func (f *Files) Write(path, content string) (string, error) {
	resolved, err := f.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return "", fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(resolved, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), filepath.Base(resolved)), nil
}

// resolve rejects absolute paths and traversal, then anchors path under the
// sandbox root.
func (f *Files) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	resolved := filepath.Join(f.root, path)
	rel, err := filepath.Rel(f.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes sandbox: %s", path)
	}
	return resolved, nil
}

// extractPDF pulls plain text from every readable page.
func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var text strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil || pageText == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n\n")
		}
		text.WriteString(pageText)
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("no extractable text in pdf")
	}
	return text.String(), nil
}
