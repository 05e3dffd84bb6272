package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/asheshgoplani/pr-viewer/internal/git"
	"github.com/asheshgoplani/pr-viewer/internal/session"
)

func expandArg(p string) string { return session.ExpandPath(p) }

func runCommit(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "commit")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	rest, err := parseArgs(fs, args, commandUsage("commit"), 1, 1)
	if err != nil {
		return err
	}

	meta, err := env.sess.CommitMetadata(rest[0])
	if err != nil {
		return err
	}
	return env.output(*jsonOutput).Print(formatCommit(meta), meta)
}

func formatCommit(m *git.CommitMetadata) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("commit " + m.ID))
	b.WriteByte('\n')
	for _, p := range m.Parents {
		fmt.Fprintf(&b, "Parent:    %s\n", p)
	}
	fmt.Fprintf(&b, "Author:    %s <%s>  %s\n", m.Author.Name, m.Author.Email, m.Author.When.Format(time.RFC1123Z))
	fmt.Fprintf(&b, "Committer: %s <%s>  %s\n", m.Committer.Name, m.Committer.Email, m.Committer.When.Format(time.RFC1123Z))
	b.WriteByte('\n')
	for _, line := range strings.Split(strings.TrimRight(m.Message, "\n"), "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func runLines(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "lines")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	rest, err := parseArgs(fs, args, commandUsage("lines"), 4, 4)
	if err != nil {
		return err
	}
	start, err := parseLine("start", rest[2])
	if err != nil {
		return err
	}
	end, err := parseLine("end", rest[3])
	if err != nil {
		return err
	}

	lines, err := env.sess.FileLinesAtRevision(rest[0], rest[1], start, end)
	if err != nil {
		return err
	}
	width := len(fmt.Sprint(start + len(lines) - 1))
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%s  %s\n", dimStyle.Render(fmt.Sprintf("%*d", width, start+i)), l)
	}
	return env.output(*jsonOutput).Print(b.String(), lines)
}

func runDiff(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "diff")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	rest, err := parseArgs(fs, args, commandUsage("diff"), 5, 5)
	if err != nil {
		return err
	}
	start, err := parseLine("start", rest[3])
	if err != nil {
		return err
	}
	end, err := parseLine("end", rest[4])
	if err != nil {
		return err
	}

	lines, err := env.sess.FileDiffBetweenRevisions(rest[0], rest[1], rest[2], start, end)
	if err != nil {
		return err
	}
	if len(lines) == 0 && !*jsonOutput {
		fmt.Fprintln(env.stdout, dimStyle.Render("No changes near the requested lines."))
		return nil
	}
	return env.output(*jsonOutput).Print(formatDiffLines(lines), lines)
}

// formatDiffLines renders lines with old/new line-number gutters.
func formatDiffLines(lines []git.DiffLine) string {
	var b strings.Builder
	for _, l := range lines {
		gutter := fmt.Sprintf("%5s %5s", lineNo(l.OldLine), lineNo(l.NewLine))
		text := l.Origin + " " + l.Content
		switch l.Origin {
		case git.OriginAdded:
			text = addedStyle.Render(text)
		case git.OriginDeleted:
			text = deletedStyle.Render(text)
		}
		fmt.Fprintf(&b, "%s %s\n", dimStyle.Render(gutter), text)
	}
	return b.String()
}

func lineNo(n int) string {
	if n == 0 {
		return ""
	}
	return fmt.Sprint(n)
}

func runTreeDiff(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "tree-diff")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	patch := fs.Bool("patch", false, "Print changed lines, not just file names")
	rest, err := parseArgs(fs, args, commandUsage("tree-diff"), 2, 3)
	if err != nil {
		return err
	}
	pattern := ""
	if len(rest) == 3 {
		pattern = rest[2]
	}

	diffs, err := env.sess.TreeDiffBetweenRevisions(ctx, rest[0], rest[1], pattern)
	if err != nil {
		return err
	}

	var b strings.Builder
	if len(diffs) == 0 {
		b.WriteString("No changes.\n")
	}
	for _, d := range diffs {
		name := d.NewPath
		if d.Status == git.StatusRenamed || d.Status == git.StatusCopied {
			name = d.OldPath + " -> " + d.NewPath
		} else if name == "" {
			name = d.OldPath
		}
		suffix := ""
		if d.Binary {
			suffix = dimStyle.Render(" (binary)")
		}
		fmt.Fprintf(&b, "%s %s%s\n", statusLabel(d.Status), name, suffix)
		if *patch && len(d.Lines) > 0 {
			b.WriteString(formatDiffLines(d.Lines))
		}
	}
	return env.output(*jsonOutput).Print(b.String(), diffs)
}

func statusLabel(s git.Status) string {
	label := s.String()
	switch s {
	case git.StatusAdded:
		return addedStyle.Render(label)
	case git.StatusDeleted:
		return deletedStyle.Render(label)
	default:
		return label
	}
}

func runOpenRepo(_ context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "repo")
	rest, err := parseArgs(fs, args, "repo <path>", 1, 1)
	if err != nil {
		return err
	}
	if err := env.sess.SetRepository(expandArg(rest[0])); err != nil {
		return err
	}
	fmt.Fprintf(env.stdout, "%s opened repository %s\n", addedStyle.Render("✓"), rest[0])
	return nil
}
