package location

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveChild(t *testing.T) {
	l := New()
	assert.Equal(t, "/a.txt", l.ResolveChild("a.txt"))

	l.Navigate("/docs")
	assert.Equal(t, "/docs/a.txt", l.ResolveChild("a.txt"))
	assert.Equal(t, "/other/b.txt", l.ResolveChild("/other/b.txt"))
}

func TestResolveChild_AbsoluteIsIdempotent(t *testing.T) {
	l := New()
	l.Navigate("/docs/reports")
	for _, name := range []string{"/a.txt", "/docs/x", "/", "/deep/er/path"} {
		once := l.ResolveChild(name)
		assert.Equal(t, once, l.ResolveChild(once), name)
		assert.Equal(t, name, once)
	}
}

func TestResolveChild_RelativeThenAbsolute(t *testing.T) {
	l := New()
	l.Navigate("/docs")
	first := l.ResolveChild("notes.md")
	assert.Equal(t, first, l.ResolveChild(first))
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"":            "/",
		"/":           "/",
		"docs":        "/docs",
		"/docs/":      "/docs",
		"//docs//a/":  "/docs/a",
		"/docs/../x":  "/x",
		"/docs/./a":   "/docs/a",
		"/../../etc/": "/etc",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "Normalize(%q)", in)
	}
}

func TestNavigateNormalizes(t *testing.T) {
	l := New()
	l.Navigate("docs/")
	assert.Equal(t, "/docs", l.Current())

	l.Reset()
	assert.Equal(t, Root, l.Current())
}

func TestParentAndBase(t *testing.T) {
	assert.Equal(t, "/", Parent("/docs"))
	assert.Equal(t, "/docs", Parent("/docs/a"))
	assert.Equal(t, "/", Parent("/"))

	assert.Equal(t, "a.txt", Base("/docs/a.txt"))
	assert.Equal(t, "a.txt", Base("a.txt"))
	assert.Equal(t, "docs", Base("/docs/"))
	assert.Equal(t, "/", Base("/"))
}
