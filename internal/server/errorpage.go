package server

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// ErrorPage shows a failed build. The traceback is escaped and kept verbatim
// inside a <pre> block.
func ErrorPage(script, traceback string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		_, err := io.WriteString(w, `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Build failed</title>
<style>
body{margin:0;padding:2rem;background:#1a1a1a;color:#eee;font-family:Menlo,Monaco,monospace}
h1{color:#ff6b6b;font-size:1.25rem}
pre{background:#2d3748;padding:1rem;border-left:4px solid #ff6b6b;overflow:auto;white-space:pre-wrap}
</style>
</head>
<body>
<h1>Build failed</h1>
<p class="script">`+templ.EscapeString(script)+`</p>
<pre id="traceback">`+templ.EscapeString(traceback)+`</pre>
`+liveReloadScript+`
</body>
</html>
`)
		return err
	})
}
