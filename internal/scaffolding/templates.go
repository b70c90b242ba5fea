package scaffolding

// ProjectTemplate is a starter site the new command can write.
type ProjectTemplate struct {
	Name        string
	Description string
	Files       []TemplateFile
}

// TemplateFile is one file of a template. Path and Content are
// text/template sources executed with a TemplateContext.
type TemplateFile struct {
	Path       string
	Content    string
	Executable bool
}

// TemplateContext holds the context for template generation
type TemplateContext struct {
	Name  string
	Title string
	Date  string
}

// GetBuiltinTemplates returns all built-in project templates
func GetBuiltinTemplates() map[string]ProjectTemplate {
	return map[string]ProjectTemplate{
		"default": getDefaultTemplate(),
		"minimal": getMinimalTemplate(),
		"blog":    getBlogTemplate(),
	}
}

const configFile = `# spindle configuration
server:
  host: localhost
  port: 8000
  open: false

watch:
  interval: 1s
  notify: true
  ignore:
    - ".git/**"
    - "node_modules/**"

build:
  pattern: "*.sh"
  output: output
`

const styleFile = `body {
  max-width: 42rem;
  margin: 2rem auto;
  padding: 0 1rem;
  font-family: system-ui, sans-serif;
  line-height: 1.6;
}
`

func getDefaultTemplate() ProjectTemplate {
	return ProjectTemplate{
		Name:        "default",
		Description: "Markdown content rendered from content/ with a stylesheet",
		Files: []TemplateFile{
			{
				Path:       "site.sh",
				Executable: true,
				Content: `#!/bin/sh
# Build script for {{.Title}}. Run "spindle view" next to it.

site --source content
meta title "{{.Title}}"
build
`,
			},
			{
				Path: "content/index.md",
				Content: `---
title: {{.Title}}
---

# {{.Title}}

Edit content/index.md and save. The page reloads by itself.
`,
			},
			{Path: "content/style.css", Content: styleFile},
			{Path: ".spindle.yml", Content: configFile},
		},
	}
}

func getMinimalTemplate() ProjectTemplate {
	return ProjectTemplate{
		Name:        "minimal",
		Description: "A single script writing one page",
		Files: []TemplateFile{
			{
				Path:       "site.sh",
				Executable: true,
				Content: `#!/bin/sh
route /index.html "<h1>{{.Title}}</h1>"
`,
			},
		},
	}
}

func getBlogTemplate() ProjectTemplate {
	return ProjectTemplate{
		Name:        "blog",
		Description: "Posts under content/posts with a generated index",
		Files: []TemplateFile{
			{
				Path:       "site.sh",
				Executable: true,
				Content: `#!/bin/sh
# Build script for {{.Title}}.

site --source content
meta title "{{.Title}}"
build

{
  echo "<h1>{{.Title}}</h1><ul>"
  for post in content/posts/*.md; do
    name=$(basename "$post" .md)
    echo "<li><a href=\"/posts/$name.html\">$name</a></li>"
  done
  echo "</ul>"
} | route /index.html
`,
			},
			{
				Path: "content/posts/hello-world.md",
				Content: `---
title: Hello, world
date: {{.Date}}
---

The first post of {{.Title}}.
`,
			},
			{Path: "content/style.css", Content: styleFile},
			{Path: ".spindle.yml", Content: configFile},
		},
	}
}
