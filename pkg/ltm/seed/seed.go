// Package seed supplies the default bodies for the two LTM root entries
// that must always exist, identity and behavior (spec.md §3). Defaults
// are authored as markdown with YAML frontmatter and parsed with
// goldmark-meta, the same embed+frontmatter shape kodelet's pkg/fragments
// uses for its recipe files, narrowed to the two fields an LTM seed
// entry needs: a title and a set of tags.
package seed

import (
	"bytes"
	"embed"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
)

//go:embed defaults
var defaultsFS embed.FS

// Seed is a parsed default entry: a title, a tag set, and a body with
// its frontmatter block stripped.
type Seed struct {
	Title string
	Body  string
	Tags  []string
}

var md = goldmark.New(goldmark.WithExtensions(meta.Meta))

// For returns the parsed default seed for slug ("identity" or
// "behavior"), or ok=false if slug has no embedded default.
func For(slug string) (Seed, bool, error) {
	raw, err := defaultsFS.ReadFile("defaults/" + slug + ".md")
	if err != nil {
		return Seed{}, false, nil
	}

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert(raw, &buf, parser.WithContext(pctx)); err != nil {
		return Seed{}, false, errors.Wrapf(err, "seed.For(%s): parse frontmatter", slug)
	}

	s := Seed{Title: slug}
	if data := meta.Get(pctx); data != nil {
		if title, ok := data["title"].(string); ok {
			s.Title = title
		}
		if tags, ok := data["tags"].([]interface{}); ok {
			for _, t := range tags {
				if str, ok := t.(string); ok {
					s.Tags = append(s.Tags, str)
				}
			}
		}
	}
	s.Body = strings.TrimSpace(stripFrontmatter(string(raw)))
	return s, true, nil
}

// stripFrontmatter removes a leading "---\n...\n---\n" YAML block, if
// present, returning the remaining markdown body verbatim.
func stripFrontmatter(content string) string {
	const delim = "---"
	if !strings.HasPrefix(content, delim) {
		return content
	}
	rest := content[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx == -1 {
		return content
	}
	return rest[idx+len("\n"+delim):]
}
