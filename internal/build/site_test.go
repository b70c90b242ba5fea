package build

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/spindle/internal/errors"
	"github.com/conneroisu/spindle/internal/registry"
)

func newTestSite(t *testing.T) (*Site, *registry.BuildContext, string) {
	t.Helper()
	dir := t.TempDir()
	bc := registry.NewBuildContext("")
	bc.Enable()
	return NewSite(bc, filepath.Join(dir, "site.sh"), "", "", true), bc, dir
}

func readOutput(t *testing.T, s *Site, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(s.Output(), rel))
	require.NoError(t, err)
	return string(data)
}

func TestNewSiteResolvesPaths(t *testing.T) {
	dir := t.TempDir()
	bc := registry.NewBuildContext("public")
	bc.Enable()

	s := NewSite(bc, filepath.Join(dir, "site.sh"), "content", "", false)
	assert.Equal(t, filepath.Join(dir, "content"), s.Source())
	assert.Equal(t, filepath.Join(dir, "public"), s.Output())

	records, err := bc.Dump(false)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Used, "declared but unused sites are still recorded")
}

func TestSiteIDsAreUnique(t *testing.T) {
	s1, _, _ := newTestSite(t)
	s2, _, _ := newTestSite(t)
	assert.NotEqual(t, s1.Record().ID, s2.Record().ID)
}

func TestRoute(t *testing.T) {
	s, bc, dir := newTestSite(t)

	require.NoError(t, s.Route("/a.html", []byte("wow")))
	require.NoError(t, s.Route("/blog/", []byte("index")))
	require.NoError(t, s.Route("/", []byte("home")))

	assert.Equal(t, filepath.Join(dir, "output"), s.Output())
	assert.Equal(t, "wow", readOutput(t, s, "a.html"))
	assert.Equal(t, "index", readOutput(t, s, "blog/index.html"))
	assert.Equal(t, "home", readOutput(t, s, "index.html"))

	records, err := bc.Dump(true)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, []string{"a.html", "blog/index.html", "index.html"}, records[0].Files)
}

func TestRouteRejectsTraversal(t *testing.T) {
	s, _, dir := newTestSite(t)

	for _, p := range []string{"../escape.html", "/a/../../b.html", "..\\x.html", "C:/x.html"} {
		err := s.Route(p, []byte("x"))
		require.Error(t, err, p)
		assert.True(t, errors.IsSecurityError(err), p)
	}
	_, err := os.Stat(filepath.Join(dir, "escape.html"))
	assert.True(t, os.IsNotExist(err))
}

func TestRouteSkipsIdenticalWrites(t *testing.T) {
	s, _, _ := newTestSite(t)

	require.NoError(t, s.Route("/a.html", []byte("wow")))
	require.NoError(t, s.Route("/a.html", []byte("wow")))
	assert.Equal(t, 1, s.Written())

	require.NoError(t, s.Route("/a.html", []byte("meow")))
	assert.Equal(t, 2, s.Written())
}

func TestCopy(t *testing.T) {
	s, _, dir := newTestSite(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "img"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "img", "cat.png"), []byte("png"), 0o644))

	require.NoError(t, s.Copy("img/cat.png", ""))
	require.NoError(t, s.Copy("img/cat.png", "/assets/kitty.png"))

	assert.Equal(t, "png", readOutput(t, s, "img/cat.png"))
	assert.Equal(t, "png", readOutput(t, s, "assets/kitty.png"))

	assert.Error(t, s.Copy("missing.txt", ""))
}

func TestRenderMarkdownPage(t *testing.T) {
	s, _, dir := newTestSite(t)
	s.SetMeta("author", "Ada")

	md := "---\ntitle: Hello <World>\ndescription: greeting\n---\n# Heading\n\nSome *text*.\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "hello.md"), []byte(md), 0o644))

	require.NoError(t, s.Render(context.Background(), "hello.md", ""))

	page := readOutput(t, s, "hello.html")
	assert.Contains(t, page, "<title>Hello &lt;World&gt;</title>")
	assert.Contains(t, page, `<meta name="author" content="Ada">`)
	assert.Contains(t, page, `<meta name="description" content="greeting">`)
	assert.Contains(t, page, "<em>text</em>")
	assert.Contains(t, page, `<h1 id="heading">Heading</h1>`)
}

func TestBuildIsIdempotent(t *testing.T) {
	s, _, dir := newTestSite(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.sh"), []byte("build"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.md"), []byte("# Home"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "style.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".git", "HEAD"), []byte("ref"), 0o644))

	require.NoError(t, s.Build(context.Background()))
	assert.Equal(t, 2, s.Written())
	first := readOutput(t, s, "index.html")

	require.NoError(t, s.Build(context.Background()))
	assert.Equal(t, 2, s.Written(), "an unchanged tree writes nothing")
	assert.Equal(t, first, readOutput(t, s, "index.html"))

	_, err := os.Stat(filepath.Join(s.Output(), "site.sh"))
	assert.True(t, os.IsNotExist(err), "build scripts are not published")
	_, err = os.Stat(filepath.Join(s.Output(), ".git"))
	assert.True(t, os.IsNotExist(err), "hidden entries are skipped")
	_, err = os.Stat(filepath.Join(s.Output(), "output"))
	assert.True(t, os.IsNotExist(err), "the output tree is never copied into itself")
}

func TestSplitFrontMatter(t *testing.T) {
	fm, body, err := SplitFrontMatter([]byte("---\ntitle: x\n---\nbody\n"))
	require.NoError(t, err)
	assert.Equal(t, "x", fm["title"])
	assert.Equal(t, "body\n", string(body))

	fm, body, err = SplitFrontMatter([]byte("no front matter"))
	require.NoError(t, err)
	assert.Nil(t, fm)
	assert.Equal(t, "no front matter", string(body))

	_, _, err = SplitFrontMatter([]byte("---\n: [bad\n---\n"))
	assert.Error(t, err)
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/a.html", "a.html"},
		{"a.html", "a.html"},
		{"/", "index.html"},
		{"", "index.html"},
		{"/docs/", "docs/index.html"},
		{"/x/./y.html", "x/y.html"},
	}
	for _, tt := range tests {
		got, err := outputPath(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}
