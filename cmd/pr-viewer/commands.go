package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/asheshgoplani/pr-viewer/internal/session"
)

// need describes which sources a command opens before running.
type need uint8

const (
	needArchive need = 1 << iota
	needImages
	needRepo
	// want* open the source only when one is configured.
	wantArchive
	wantImages
	wantRepo
)

// cmdEnv is what a command runs against.
type cmdEnv struct {
	sess    *session.Session
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	globals globalFlags
}

// output returns a CLIOutput bound to env's streams.
func (e *cmdEnv) output(jsonMode bool) *CLIOutput {
	return NewCLIOutput(e.stdout, e.stderr, jsonMode)
}

type command struct {
	name    string
	aliases []string
	usage   string
	summary string
	needs   need
	// shellOnly commands are not offered on the command line.
	shellOnly bool
	run       func(ctx context.Context, env *cmdEnv, args []string) error
}

var commands []*command

func init() {
	commands = []*command{
		{name: "entries", aliases: []string{"ls"}, usage: "entries [--json]", summary: "List archive entry names", needs: needArchive, run: runEntries},
		{name: "index", usage: "index [--json]", summary: "Show the PR index", needs: needArchive, run: runIndex},
		{name: "cat", usage: "cat <path> [--json]", summary: "Print a text entry", needs: needArchive, run: runCat},
		{name: "extract", usage: "extract <path> [--json]", summary: "Extract an entry to the workspace", needs: needArchive, run: runExtract},
		{name: "image", usage: "image <path> [-o file]", summary: "Write an image entry", needs: needImages, run: runImage},
		{name: "search", aliases: []string{"s"}, usage: "search <query> [--json] [--limit n]", summary: "Search PRs by id, title or author", needs: needArchive, run: runSearch},
		{name: "stats", usage: "stats [--json]", summary: "Show archive cache counters", needs: needArchive, run: runStats},
		{name: "commit", usage: "commit <rev> [--json]", summary: "Show commit metadata", needs: needRepo, run: runCommit},
		{name: "lines", usage: "lines <path> <rev> <start> <end> [--json]", summary: "Print file lines at a revision", needs: needRepo, run: runLines},
		{name: "diff", usage: "diff <path> <from> <to> <start> <end> [--json]", summary: "Diff a file near a line window", needs: needRepo, run: runDiff},
		{name: "tree-diff", usage: "tree-diff <from> <to> [pattern] [--json]", summary: "List changed files between revisions", needs: needRepo, run: runTreeDiff},
		{name: "shell", usage: "shell [--watch]", summary: "Interactive session", needs: wantArchive | wantImages | wantRepo, run: runShell},
		{name: "open", usage: "open <archive>", summary: "Select a PR archive", shellOnly: true, run: runOpen},
		{name: "images", usage: "images <archive>", summary: "Select an images archive", shellOnly: true, run: runOpenImages},
		{name: "repo", usage: "repo <path>", summary: "Select a git repository", shellOnly: true, run: runOpenRepo},
	}
}

// lookupCommand finds a command by name or alias.
func lookupCommand(name string) (*command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
		for _, a := range c.aliases {
			if a == name {
				return c, true
			}
		}
	}
	return nil, false
}

// newFlagSet returns a FlagSet that reports errors instead of exiting.
func newFlagSet(env *cmdEnv, name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

// parseArgs parses args into fs and checks the positional count.
func parseArgs(fs *flag.FlagSet, args []string, usage string, minArgs, maxArgs int) ([]string, error) {
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		return nil, usagef("usage: %s", usage)
	}
	rest := fs.Args()
	if len(rest) < minArgs || (maxArgs >= 0 && len(rest) > maxArgs) {
		return nil, usagef("usage: %s", usage)
	}
	return rest, nil
}

// parseLine parses a 1-based line number argument.
func parseLine(name, s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, usagef("%s must be a number, got %q", name, s)
	}
	return n, nil
}

func commandUsage(name string) string {
	if c, ok := lookupCommand(name); ok {
		return fmt.Sprintf("pr-viewer %s", c.usage)
	}
	return name
}
