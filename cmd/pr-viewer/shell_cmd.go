package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/asheshgoplani/pr-viewer/internal/session"
)

const shellPrompt = "pr-viewer> "

// runShell reads commands from stdin and runs them against one session, so
// caches and the search index survive between commands.
func runShell(ctx context.Context, env *cmdEnv, args []string) error {
	fs := newFlagSet(env, "shell")
	watch := fs.Bool("watch", false, "Reload the archive when its file changes")
	if _, err := parseArgs(fs, args, commandUsage("shell"), 0, 0); err != nil {
		return err
	}

	shellCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if *watch || session.ResolveDefaults("", "", "").Watch {
		startWatcher(shellCtx, env)
	}

	interactive := isTerminal(env.stdin)
	if interactive {
		fmt.Fprintf(env.stdout, "PR Viewer v%s. Type 'help' for commands, 'quit' to leave.\n", Version)
	}

	scanner := bufio.NewScanner(env.stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(env.stdout, shellPrompt)
		}
		if !scanner.Scan() {
			break
		}
		err := dispatchShellLine(shellCtx, env, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			NewCLIOutput(env.stdout, env.stderr, false).Error(err)
		}
		if shellCtx.Err() != nil {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	return nil
}

// dispatchShellLine runs one input line on its own goroutine and waits for
// it or for ctx.
func dispatchShellLine(ctx context.Context, env *cmdEnv, line string) error {
	words, err := splitCommandLine(strings.TrimSpace(line))
	if err != nil {
		return usagef("%v", err)
	}
	if len(words) == 0 || strings.HasPrefix(words[0], "#") {
		return nil
	}

	switch words[0] {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		printShellHelp(env.stdout)
		return nil
	case "shell":
		return usagef("already in a shell")
	}

	cmd, ok := lookupCommand(words[0])
	if !ok {
		return usagef("unknown command %q (try 'help')", words[0])
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				cliLog.Error("shell_command_panic",
					slog.String("command", cmd.name),
					slog.Any("panic", r))
				done <- fmt.Errorf("%s: internal error: %v", cmd.name, r)
			}
		}()
		done <- cmd.run(ctx, env, words[1:])
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// startWatcher reloads the archive in the background when it is rewritten.
func startWatcher(ctx context.Context, env *cmdEnv) {
	if env.sess.ArchivePath() == "" {
		fmt.Fprintln(env.stderr, dimStyle.Render("watch: no archive selected"))
		return
	}
	go func() {
		err := env.sess.WatchArchive(ctx, func(err error) {
			if err != nil {
				fmt.Fprintf(env.stderr, "\n%s reload failed: %v\n", errorStyle.Render("!"), err)
				return
			}
			fmt.Fprintf(env.stderr, "\n%s archive reloaded\n", addedStyle.Render("✓"))
		})
		if err != nil {
			cliLog.Warn("archive_watch_failed", slog.String("error", err.Error()))
		}
	}()
}

func printShellHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		if c.name == "shell" {
			continue
		}
		fmt.Fprintf(w, "  %-38s %s\n", c.usage, c.summary)
	}
	fmt.Fprintf(w, "  %-38s %s\n", "help", "Show this help")
	fmt.Fprintf(w, "  %-38s %s\n", "quit", "Leave the shell")
}

// isTerminal reports whether r is an interactive terminal.
func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// errQuit ends the interactive shell.
var errQuit = errors.New("quit")
