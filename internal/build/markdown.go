package build

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/spindle/internal/registry"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithParserOptions(parser.WithAutoHeadingID()),
)

func isMarkdown(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// SplitFrontMatter separates a leading YAML block delimited by "---" lines
// from the document body. Documents without one return nil front matter.
func SplitFrontMatter(raw []byte) (map[string]interface{}, []byte, error) {
	normalized := bytes.ReplaceAll(raw, []byte("\r\n"), []byte("\n"))
	if !bytes.HasPrefix(normalized, []byte("---\n")) {
		return nil, raw, nil
	}

	rest := normalized[len("---\n"):]
	end := bytes.Index(rest, []byte("\n---"))
	if end < 0 {
		return nil, raw, nil
	}

	block := rest[:end]
	body := rest[end+len("\n---"):]
	if i := bytes.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	} else {
		body = nil
	}

	fm := make(map[string]interface{})
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return nil, nil, fmt.Errorf("front matter: %w", err)
	}
	return fm, body, nil
}

// RenderMarkdown converts a Markdown document into a full HTML page. Front
// matter overrides site metadata; the title falls back to fallbackTitle.
func RenderMarkdown(ctx context.Context, raw []byte, meta registry.Meta, fallbackTitle string) ([]byte, error) {
	fm, body, err := SplitFrontMatter(raw)
	if err != nil {
		return nil, err
	}

	meta = meta.Clone()
	for _, key := range sortedKeys(fm) {
		meta.Set(key, fmt.Sprint(fm[key]))
	}

	var content bytes.Buffer
	if err := markdown.Convert(body, &content); err != nil {
		return nil, err
	}

	title, ok := meta.Get("title")
	if !ok || title == "" {
		title = fallbackTitle
	}

	var page bytes.Buffer
	if err := Page(title, meta, content.String()).Render(ctx, &page); err != nil {
		return nil, err
	}
	return page.Bytes(), nil
}
