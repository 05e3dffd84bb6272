package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/asheshgoplani/pr-viewer/internal/archive"
)

// Table column widths for PR listings
const (
	tableColID     = 8
	tableColTitle  = 48
	tableColAuthor = 18
	tableColStatus = 10
)

func runEntries(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "entries")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if _, err := parseArgs(fs, args, commandUsage("entries"), 0, 0); err != nil {
		return err
	}

	names, err := env.sess.ListEntries()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteByte('\n')
	}
	return env.output(*jsonOutput).Print(b.String(), names)
}

func runIndex(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "index")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if _, err := parseArgs(fs, args, commandUsage("index"), 0, 0); err != nil {
		return err
	}

	entries, err := env.sess.IndexDocument()
	if err != nil {
		return err
	}
	return env.output(*jsonOutput).Print(formatEntries(entries), entries)
}

// formatEntries renders PR entries as a table.
func formatEntries(entries []archive.PrIndexEntry) string {
	if len(entries) == 0 {
		return "No pull requests.\n"
	}
	var b strings.Builder
	header := padRight("ID", tableColID) + " " +
		padRight("TITLE", tableColTitle) + " " +
		padRight("AUTHOR", tableColAuthor) + " " +
		padRight("STATUS", tableColStatus) + " CREATED"
	b.WriteString(headerStyle.Render(header))
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render(strings.Repeat("-", tableColID+tableColTitle+tableColAuthor+tableColStatus+14)))
	b.WriteByte('\n')
	for _, e := range entries {
		status := padRight(e.Status, tableColStatus)
		if st, ok := statusStyles[strings.ToLower(e.Status)]; ok {
			status = st.Render(status)
		}
		created := e.CreationDate
		if len(created) > 10 {
			created = created[:10]
		}
		fmt.Fprintf(&b, "%s %s %s %s %s\n",
			padRight(fmt.Sprint(e.ID), tableColID),
			padRight(e.Title, tableColTitle),
			padRight(e.CreatedBy, tableColAuthor),
			status,
			created)
	}
	fmt.Fprintf(&b, "\nTotal: %d pull requests\n", len(entries))
	return b.String()
}

func runCat(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "cat")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	rest, err := parseArgs(fs, args, commandUsage("cat"), 1, 1)
	if err != nil {
		return err
	}

	text, err := env.sess.ReadFile(rest[0])
	if err != nil {
		return err
	}
	if !strings.HasSuffix(text, "\n") && text != "" && !*jsonOutput {
		text += "\n"
	}
	return env.output(*jsonOutput).Print(text, map[string]string{"path": rest[0], "content": text})
}

func runExtract(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "extract")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	rest, err := parseArgs(fs, args, commandUsage("extract"), 1, 1)
	if err != nil {
		return err
	}

	location, err := env.sess.ExtractFile(rest[0])
	if err != nil {
		return err
	}
	return env.output(*jsonOutput).Print(location+"\n", map[string]string{"path": rest[0], "location": location})
}

func runImage(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "image")
	outPath := fs.String("o", "", "Write to file instead of stdout")
	rest, err := parseArgs(fs, args, commandUsage("image"), 1, 1)
	if err != nil {
		return err
	}

	data, err := env.sess.ReadImage(rest[0])
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = env.stdout.Write(data)
		return err
	}
	if dir := filepath.Dir(*outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	fmt.Fprintf(env.stderr, "%s %s (%s)\n", addedStyle.Render("✓"), *outPath, formatSize(int64(len(data))))
	return nil
}

func runSearch(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "search")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	limit := fs.Int("limit", 0, "Show at most n results (0 = all)")
	rest, err := parseArgs(fs, args, commandUsage("search"), 1, -1)
	if err != nil {
		return err
	}

	results, err := env.sess.Search(ctx, strings.Join(rest, " "))
	if err != nil {
		return err
	}
	if *limit > 0 && len(results) > *limit {
		results = results[:*limit]
	}
	return env.output(*jsonOutput).Print(formatEntries(results), results)
}

func runStats(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "stats")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if _, err := parseArgs(fs, args, commandUsage("stats"), 0, 0); err != nil {
		return err
	}

	st := env.sess.Stats()
	human := fmt.Sprintf("Archive:        %s\nDecodes:        %d\nCache hits:     %d\nCache misses:   %d\nExtractions:    %d\nCached entries: %d\n",
		env.sess.ArchivePath(), st.Decodes, st.CacheHits, st.CacheMisses, st.Extractions, st.CachedEntries)
	return env.output(*jsonOutput).Print(human, st)
}

func runOpen(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "open")
	rest, err := parseArgs(fs, args, "open <archive>", 1, 1)
	if err != nil {
		return err
	}
	entries, err := env.sess.SetArchive(ctx, expandArg(rest[0]))
	if err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s opened %s (%d pull requests)\n", addedStyle.Render("✓"), rest[0], len(entries))
	return nil
}

func runOpenImages(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "images")
	rest, err := parseArgs(fs, args, "images <archive>", 1, 1)
	if err != nil {
		return err
	}
	if err := env.sess.SetImagesArchive(expandArg(rest[0])); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s opened images %s\n", addedStyle.Render("✓"), rest[0])
	return nil
}
