package build

import (
	"context"
	"io"
	"sort"

	"github.com/a-h/templ"

	"github.com/conneroisu/spindle/internal/registry"
)

// Page wraps rendered Markdown in a minimal HTML document. Metadata other
// than the title becomes <meta> tags, in insertion order.
func Page(title string, meta registry.Meta, body string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>"+
			templ.EscapeString(title)+"</title>\n"); err != nil {
			return err
		}
		for _, key := range meta.Keys() {
			if key == "title" {
				continue
			}
			value, _ := meta.Get(key)
			if _, err := io.WriteString(w, "<meta name=\""+templ.EscapeString(key)+
				"\" content=\""+templ.EscapeString(value)+"\">\n"); err != nil {
				return err
			}
		}
		if _, err := io.WriteString(w, "</head>\n<body>\n<main>\n"); err != nil {
			return err
		}
		if err := templ.Raw(body).Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, "</main>\n</body>\n</html>\n")
		return err
	})
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
