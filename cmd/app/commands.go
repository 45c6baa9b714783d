package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/starford/quill/internal"
	"github.com/starford/quill/internal/index"
	"github.com/starford/quill/internal/mcpserver"
	"github.com/starford/quill/internal/preview"
)

// withComponents loads the config, opens the vault and runs fn. Logs go to
// stderr so stdout stays free for command output.
func withComponents(ctx context.Context, cmd *cli.Command, fn func(context.Context, *internal.Config, *internal.Components, *slog.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	level := cfg.App.LogLevel
	if !cmd.Bool("verbose") {
		level = slog.LevelWarn
	}
	logger := internal.NewLogger(os.Stderr, level)
	slog.SetDefault(logger)

	c, err := internal.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, cfg, c, logger)
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Log at the configured level instead of warnings only",
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeOutput(out string, data string) error {
	if out == "" || out == "-" {
		_, err := io.WriteString(os.Stdout, data)
		return err
	}
	return os.WriteFile(out, []byte(data), 0o644)
}

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "Render a vault note (or stdin with -) to HTML",
		ArgsUsage: "<path|->",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Write HTML to this file"},
			&cli.BoolFlag{Name: "json", Usage: "Print title, html and warnings as JSON"},
			&cli.BoolFlag{Name: "remove-tags", Usage: "Strip inline #tags"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return fmt.Errorf("render: path is required")
			}
			return withComponents(ctx, cmd, func(ctx context.Context, cfg *internal.Config, c *internal.Components, logger *slog.Logger) error {
				opts := c.Service.RewriteOptions()
				if cmd.Bool("remove-tags") {
					opts.RemoveTags = true
				}

				var title, html string
				var warnings []string
				if target == "-" {
					data, err := io.ReadAll(os.Stdin)
					if err != nil {
						return fmt.Errorf("render: read stdin: %w", err)
					}
					r, err := c.Service.RenderText(ctx, string(data), &opts)
					if err != nil {
						return err
					}
					title, html, warnings = r.Title, r.HTML, r.Warnings
				} else {
					r, err := c.Service.RenderFile(ctx, target, nil)
					if err != nil {
						return err
					}
					title, html, warnings = r.Title, r.HTML, r.Warnings
				}

				for _, w := range warnings {
					logger.Warn("render: unrendered content", slog.String("warning", w))
				}
				if cmd.Bool("json") {
					return printJSON(os.Stdout, map[string]any{
						"title":    title,
						"html":     html,
						"warnings": warnings,
					})
				}
				return writeOutput(cmd.String("out"), html)
			})
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "Create a draft of a note in every enabled (or each selected) account",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.StringSliceFlag{Name: "account", Aliases: []string{"a"}, Usage: "Account name or app id; repeatable"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return fmt.Errorf("publish: path is required")
			}
			return withComponents(ctx, cmd, func(ctx context.Context, _ *internal.Config, c *internal.Components, _ *slog.Logger) error {
				results, err := c.Service.Publish(ctx, target, cmd.StringSlice("account"))
				if err != nil {
					return err
				}
				if err := printJSON(os.Stdout, results); err != nil {
					return err
				}
				failed := 0
				for _, r := range results {
					if !r.Success {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("publish: %d of %d accounts failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

const previewPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body>
%s
</body></html>
`

func previewCommand() *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Re-render a note to an HTML file whenever the vault changes",
		ArgsUsage: "<path>",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "preview.html", Usage: "HTML file to keep current"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return fmt.Errorf("preview: path is required")
			}
			out := cmd.String("out")
			return withComponents(ctx, cmd, func(ctx context.Context, cfg *internal.Config, c *internal.Components, logger *slog.Logger) error {
				ctx, stop := context.WithCancel(ctx)
				defer stop()

				sink := func(u preview.Update) {
					page := fmt.Sprintf(previewPage, path.Base(u.Source), u.HTML)
					if err := os.WriteFile(out, []byte(page), 0o644); err != nil {
						logger.Error("preview: write", slog.String("error", err.Error()))
						return
					}
					fmt.Fprintf(os.Stderr, "rendered %s (version %d)\n", u.Source, u.Version)
				}
				session := preview.NewSession(ctx, c.Service.PreviewRender, sink,
					preview.WithDebounce(cfg.Preview.Debounce),
					preview.WithLogger(logger),
				)
				defer session.Close()

				session.RenderNow(target)
				// Embedded notes and images affect the output, so any change re-renders.
				return index.Watch(ctx, c.DB, c.Store, c.Store.Root(), logger, func(string, string) {
					session.Notify(target)
				})
			})
		},
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve quill tools over MCP stdio",
		Flags: []cli.Flag{verboseFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return withComponents(ctx, cmd, func(_ context.Context, cfg *internal.Config, c *internal.Components, logger *slog.Logger) error {
				srv := mcpserver.New(c.Service, c.Store,
					mcpserver.WithImporter(c.Importer),
					mcpserver.WithFetcher(c.Fetcher),
					mcpserver.WithAttachmentDir(cfg.Vault.UploadDir()),
					mcpserver.WithLogger(logger),
				)
				return srv.ServeStdio()
			})
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Convert a web page to Markdown",
		ArgsUsage: "<url>",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.BoolFlag{Name: "save", Usage: "Write the note into the vault"},
			&cli.StringFlag{Name: "dir", Usage: "Vault folder for saved notes"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			rawURL := cmd.Args().First()
			if rawURL == "" {
				return fmt.Errorf("import: url is required")
			}
			return withComponents(ctx, cmd, func(ctx context.Context, _ *internal.Config, c *internal.Components, logger *slog.Logger) error {
				doc, err := c.Importer.Import(ctx, rawURL)
				if err != nil {
					return err
				}
				if !cmd.Bool("save") {
					return writeOutput("", doc.Markdown)
				}
				p := path.Join(strings.Trim(cmd.String("dir"), "/"), doc.Filename)
				if c.Store.Exists(p) {
					return fmt.Errorf("import: %s already exists", p)
				}
				if err := c.Store.Write(p, []byte(doc.Markdown)); err != nil {
					return err
				}
				logger.Info("import: saved", slog.String("path", p), slog.String("via", doc.Via))
				fmt.Println(p)
				return nil
			})
		},
	}
}

func polishCommand() *cli.Command {
	return &cli.Command{
		Name:      "polish",
		Usage:     "Polish a note with the configured language model",
		ArgsUsage: "<path|->",
		Flags: []cli.Flag{
			verboseFlag(),
			&cli.BoolFlag{Name: "write", Aliases: []string{"w"}, Usage: "Replace the note with the polished text"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			target := cmd.Args().First()
			if target == "" {
				return fmt.Errorf("polish: path is required")
			}
			return withComponents(ctx, cmd, func(ctx context.Context, _ *internal.Config, c *internal.Components, _ *slog.Logger) error {
				if c.Polisher == nil {
					return errors.New("polish: polish.endpoint is not configured")
				}
				var data []byte
				var err error
				if target == "-" {
					data, err = io.ReadAll(os.Stdin)
				} else {
					data, err = c.Store.Read(target)
				}
				if err != nil {
					return fmt.Errorf("polish: read: %w", err)
				}
				polished, err := c.Polisher.Polish(ctx, string(data))
				if err != nil {
					return err
				}
				if cmd.Bool("write") && target != "-" {
					return c.Store.Write(target, []byte(polished))
				}
				return writeOutput("", polished)
			})
		},
	}
}
