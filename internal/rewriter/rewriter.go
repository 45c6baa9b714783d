// Package rewriter turns vault-flavoured markdown into portable markdown.
//
// Passes run in order over the whole text:
//
//  1. strip %%comments%%
//  2. wiki links become standard links
//  3. embeds are expanded
//  4. standard image paths are canonicalised
//  5. inline #tags are removed (optional)
//
// Each pass locates every match against its input first and splices the
// replacements in one go, so replacement text never shifts later matches.
package rewriter

import (
	"context"
	"encoding/base64"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/starford/quill/internal/models"
	"github.com/starford/quill/internal/textspan"
)

// Resolver maps link text to a vault file.
type Resolver interface {
	Resolve(nameOrPath string, source models.FileHandle) (models.FileHandle, bool)
}

// FileReader reads resolved files.
type FileReader interface {
	ReadBytes(f models.FileHandle) ([]byte, error)
	ReadText(f models.FileHandle) (string, error)
}

// Options toggles optional behaviour.
type Options struct {
	// RemoveTags deletes inline #tags.
	RemoveTags bool
	// InlineImages embeds images as base64 data URIs instead of vault paths.
	InlineImages bool
}

// Rewriter applies the rewrite passes.
type Rewriter struct {
	resolver Resolver
	reader   FileReader
	opts     Options
	logger   *slog.Logger
}

// New creates a Rewriter.
func New(res Resolver, reader FileReader, opts Options, logger *slog.Logger) *Rewriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Rewriter{resolver: res, reader: reader, opts: opts, logger: logger}
}

// WithOptions returns a copy of rw using opts.
func (rw *Rewriter) WithOptions(opts Options) *Rewriter {
	c := *rw
	c.opts = opts
	return &c
}

// Options returns the active options.
func (rw *Rewriter) Options() Options { return rw.opts }

var (
	commentRe  = regexp.MustCompile(`(?s)%%.*?%%`)
	wikiLinkRe = regexp.MustCompile(`(!?)\[\[([^\]|]+)(?:\|([^\]]+))?\]\]`)
	embedRe    = regexp.MustCompile(`!\[\[([^\]]+)\]\]`)
	imageRe    = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)
	tagRe      = regexp.MustCompile(`(^|\s)#[\w\x{4E00}-\x{9FFF}-]+`)
)

// Rewrite runs every pass over text, which belongs to source. It only
// fails when ctx is cancelled.
func (rw *Rewriter) Rewrite(ctx context.Context, text string, source models.FileHandle) (string, error) {
	passes := []func(string, models.FileHandle) string{
		stripComments,
		rw.rewriteWikiLinks,
		rw.expandEmbeds,
		rw.canonicalizeImages,
	}
	if rw.opts.RemoveTags {
		passes = append(passes, func(s string, _ models.FileHandle) string { return stripTags(s) })
	}
	for _, pass := range passes {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		text = pass(text, source)
	}
	return text, nil
}

func stripComments(text string, _ models.FileHandle) string {
	return commentRe.ReplaceAllString(text, "")
}

func stripTags(text string) string {
	return tagRe.ReplaceAllString(text, "$1")
}

// scanWikiLinks finds [[target|alias]] links. Embeds are left to scanEmbeds.
func scanWikiLinks(text string) []models.Reference {
	var refs []models.Reference
	for _, m := range wikiLinkRe.FindAllStringSubmatchIndex(text, -1) {
		if m[3] > m[2] { // preceded by "!"
			continue
		}
		ref := models.Reference{
			Raw:    text[m[0]:m[1]],
			Target: text[m[4]:m[5]],
			Kind:   models.KindWikiLink,
			Start:  m[0],
			End:    m[1],
		}
		if m[6] >= 0 {
			ref.Alias = text[m[6]:m[7]]
		}
		refs = append(refs, ref)
	}
	return refs
}

func scanEmbeds(text string) []models.Reference {
	var refs []models.Reference
	for _, m := range embedRe.FindAllStringSubmatchIndex(text, -1) {
		ref := models.Reference{
			Raw:    text[m[0]:m[1]],
			Target: text[m[2]:m[3]],
			Kind:   models.KindEmbed,
			Start:  m[0],
			End:    m[1],
		}
		if i := strings.IndexByte(ref.Target, '|'); i >= 0 {
			ref.Target, ref.Alias = ref.Target[:i], ref.Target[i+1:]
		}
		refs = append(refs, ref)
	}
	return refs
}

// scanImageLinks finds ![alt](src) images. Alias holds the alt text.
func scanImageLinks(text string) []models.Reference {
	var refs []models.Reference
	for _, m := range imageRe.FindAllStringSubmatchIndex(text, -1) {
		refs = append(refs, models.Reference{
			Raw:    text[m[0]:m[1]],
			Target: text[m[4]:m[5]],
			Alias:  text[m[2]:m[3]],
			Kind:   models.KindImage,
			Start:  m[0],
			End:    m[1],
		})
	}
	return refs
}

func (rw *Rewriter) rewriteWikiLinks(text string, source models.FileHandle) string {
	var edits []textspan.Edit
	for _, ref := range scanWikiLinks(text) {
		display := ref.Target
		if ref.Alias != "" {
			display = ref.Alias
		}
		repl := display
		name, fragment := splitFragment(ref.Target)
		if f, ok := rw.resolver.Resolve(name, source); ok {
			dest := encodePath(f.Path)
			if fragment != "" {
				dest += "#" + encodePath(fragment)
			}
			repl = "[" + display + "](" + dest + ")"
		}
		edits = append(edits, textspan.Edit{Start: ref.Start, End: ref.End, Text: repl})
	}
	return textspan.Apply(text, edits)
}

func (rw *Rewriter) expandEmbeds(text string, source models.FileHandle) string {
	var edits []textspan.Edit
	for _, ref := range scanEmbeds(text) {
		name, _ := splitFragment(ref.Target)

		f, ok := rw.resolver.Resolve(name, source)
		if !ok {
			rw.logger.Debug("rewriter: unresolved embed", slog.String("target", name), slog.String("source", source.Path))
			continue
		}
		repl, ok := rw.embedReplacement(f)
		if !ok {
			continue
		}
		edits = append(edits, textspan.Edit{Start: ref.Start, End: ref.End, Text: repl})
	}
	return textspan.Apply(text, edits)
}

func (rw *Rewriter) embedReplacement(f models.FileHandle) (string, bool) {
	switch {
	case f.IsImage():
		return "![" + f.Basename + "](" + rw.imageDest(f) + ")", true
	case f.IsDocument():
		content, err := rw.reader.ReadText(f)
		if err != nil {
			rw.logger.Warn("rewriter: embed read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			return "", false
		}
		return content, true
	default:
		return "[" + f.Name() + "](" + encodePath(f.Path) + ")", true
	}
}

func (rw *Rewriter) canonicalizeImages(text string, source models.FileHandle) string {
	var edits []textspan.Edit
	for _, ref := range scanImageLinks(text) {
		src := ref.Target
		if isExternal(src) {
			continue
		}
		name := src
		if decoded, err := url.PathUnescape(src); err == nil {
			name = decoded
		}
		f, ok := rw.resolver.Resolve(name, source)
		if !ok || !f.IsImage() {
			continue
		}
		dest := rw.imageDest(f)
		if dest == src {
			continue
		}
		edits = append(edits, textspan.Edit{Start: ref.Start, End: ref.End, Text: "![" + ref.Alias + "](" + dest + ")"})
	}
	return textspan.Apply(text, edits)
}

// imageDest is the link destination for an image: its encoded vault path,
// or a data URI when inlining is enabled and the file can be read.
func (rw *Rewriter) imageDest(f models.FileHandle) string {
	if rw.opts.InlineImages {
		data, err := rw.reader.ReadBytes(f)
		if err == nil {
			return "data:" + mimeType(f.Extension) + ";base64," + base64.StdEncoding.EncodeToString(data)
		}
		rw.logger.Warn("rewriter: inline image read failed", slog.String("path", f.Path), slog.String("error", err.Error()))
	}
	return encodePath(f.Path)
}

func isExternal(src string) bool {
	s := strings.ToLower(strings.TrimSpace(src))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "data:")
}

func splitFragment(target string) (string, string) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		return target[:i], target[i+1:]
	}
	return target, ""
}

var imageMIME = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

func mimeType(ext string) string {
	if m, ok := imageMIME[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok {
		return m
	}
	return "application/octet-stream"
}

// encodePath percent-encodes a vault path for use as a link destination.
// Slashes and URI-safe punctuation are kept; parentheses are encoded so the
// result is safe inside markdown link syntax.
func encodePath(p string) string {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		if uriSafe(c) {
			b.WriteByte(c)
			continue
		}
		const hex = "0123456789ABCDEF"
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func uriSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("-_.~/!*':@&=+$,;", c) >= 0
}
