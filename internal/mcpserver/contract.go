package mcpserver

// MarkupContract describes the vault markup the renderer and publisher
// understand. LLM consumers should follow it when writing notes.
const MarkupContract = `# quill Markup Contract

Notes are Markdown files (` + "`" + `.md` + "`" + `, UTF-8) inside the vault. Before rendering, vault markup
is rewritten to standard Markdown in this order:

1. ` + "`" + `%%comment%%` + "`" + ` spans are removed (they may span lines).
2. ` + "`" + `[[target]]` + "`" + ` and ` + "`" + `[[target|shown text]]` + "`" + ` become links when the target resolves.
   Unresolved links keep only their text. ` + "`" + `[[target#Heading]]` + "`" + ` links to a heading.
3. ` + "`" + `![[target]]` + "`" + ` embeds:
   - images (png, jpg, jpeg, gif, svg, webp, bmp) become ` + "`" + `![name](path)` + "`" + `;
   - notes (` + "`" + `.md` + "`" + `) are replaced by their raw text, one level deep only;
   - other files become a plain link;
   - an unresolved embed is left unchanged.
   ` + "`" + `![[pic.png|300]]` + "`" + ` size suffixes are ignored.
4. ` + "`" + `![alt](path)` + "`" + ` images with vault paths are normalised to the file's vault path.
5. Inline ` + "`" + `#tags` + "`" + ` are removed when tag removal is enabled.

## Resolution

A target is looked up by link text (file name, extension optional for notes), then as an exact
vault path, then in the attachment folder, then by bare file name anywhere in the vault.

## Frontmatter used for publishing

` + "```" + `markdown
---
title: Article title        # falls back to the first "# heading", then the file name
author: Jane                # falls back to the account or global default author
digest: One-line summary
cover: assets/cover.png     # vault path, ![[name]] or https URL; else the first library image
source_url: https://example.com/original
---
` + "```" + `

## Not rendered

Mermaid diagrams, math formulas and infographic blocks pass through as code or text and are
reported as warnings.

## Images

Local and remote images are uploaded to the platform when publishing. Images already hosted on
the platform CDN are kept as-is. Use the ` + "`" + `save_image` + "`" + ` tool to add an image to the vault and paste
the returned embed markup.
`
