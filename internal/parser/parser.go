// Package parser splits frontmatter from markdown and reads publishing
// metadata out of it.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var headingRe = regexp.MustCompile(`(?m)^#\s{1,100}(\S.*)$`)

// Meta is the frontmatter subset the publishing pipeline reads.
type Meta struct {
	Title     string
	Cover     string
	Author    string
	Digest    string
	SourceURL string
}

// Result holds the output of parsing a markdown file.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Title       string
	Meta        Meta
}

// Parse extracts frontmatter, body and metadata from raw markdown bytes.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}
	meta := Meta{
		Title:     String(fm, "title"),
		Cover:     String(fm, "cover"),
		Author:    String(fm, "author"),
		Digest:    firstNonEmpty(String(fm, "digest"), String(fm, "description")),
		SourceURL: firstNonEmpty(String(fm, "source_url"), String(fm, "source")),
	}
	title := meta.Title
	if title == "" {
		title = HeadingTitle(body)
	}
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Title:       title,
		Meta:        meta,
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep the whole file as body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// String returns a scalar frontmatter value as a trimmed string.
func String(fm map[string]interface{}, key string) string {
	if fm == nil {
		return ""
	}
	switch v := fm[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case int, int64, float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}

// HeadingTitle returns the text of the first level-one heading, or "".
func HeadingTitle(body string) string {
	m := headingRe.FindStringSubmatch(body)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
