package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/pr-viewer/internal/logging"
	"github.com/asheshgoplani/pr-viewer/internal/session"
)

const Version = "0.4.0"

var cliLog = logging.ForComponent(logging.CompCLI)

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures lipgloss color profile based on terminal capabilities.
func initColorProfile() {
	// PRVIEWER_COLOR: truecolor, 256, 16, none
	if colorEnv := os.Getenv("PRVIEWER_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}
	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}
	// Otherwise keep termenv's detection, which drops color when stdout is
	// not a terminal.
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
}

// globalFlags are accepted before the subcommand.
type globalFlags struct {
	archive string
	images  string
	repo    string
}

// extractGlobalFlags pulls -a/--archive, -i/--images and -r/--repo from the
// front of args, returning the remaining args.
func extractGlobalFlags(args []string) (globalFlags, []string) {
	var g globalFlags
	targets := map[string]*string{
		"a": &g.archive, "archive": &g.archive,
		"i": &g.images, "images": &g.images,
		"r": &g.repo, "repo": &g.repo,
	}

	i := 0
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			break
		}
		name := strings.TrimLeft(arg, "-")
		value, hasValue := "", false
		if k, v, ok := strings.Cut(name, "="); ok {
			name, value, hasValue = k, v, true
		}
		target, ok := targets[name]
		if !ok {
			break
		}
		if !hasValue {
			if i+1 >= len(args) {
				break
			}
			i++
			value = args[i]
		}
		*target = value
		i++
	}
	return g, args[i:]
}

func main() {
	if err := session.LoadEnvFile(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	globals, args := extractGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printHelp(os.Stdout)
		return
	}

	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("PR Viewer v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp(os.Stdout)
		return
	}

	cmd, ok := lookupCommand(args[0])
	if !ok || cmd.shellOnly {
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		printHelp(os.Stderr)
		os.Exit(2)
	}

	shutdown := setupLogging()
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := run(ctx, globals, cmd, args[1:], os.Stdin, os.Stdout, os.Stderr)
	if code != 0 {
		shutdown()
		os.Exit(code)
	}
}

// setupLogging initializes structured logging from config.toml and routes
// the standard logger through it. The returned func flushes and closes logs.
func setupLogging() func() {
	debug := session.DebugEnabled()
	settings := session.GetLogSettings()
	cfg := settings.LoggingConfig(debug)
	if debug && cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: cannot create log dir: %v\n", err)
			cfg.LogDir = ""
		}
	}
	logging.Init(cfg)
	log.SetOutput(logging.NewBridgeWriter(logging.CompCLI))
	log.SetFlags(0)

	if debug {
		cliLog.Info("cli_started", slog.Int("pid", os.Getpid()), slog.String("version", Version))

		// SIGUSR1 dumps the ring buffer for post-mortem debugging
		usr1Chan := make(chan os.Signal, 1)
		signal.Notify(usr1Chan, syscall.SIGUSR1)
		go func() {
			for range usr1Chan {
				dumpPath := filepath.Join(settings.Dir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
				if err := logging.DumpRingBuffer(dumpPath); err != nil {
					cliLog.Error("crash_dump_failed", slog.String("error", err.Error()))
				} else {
					cliLog.Info("crash_dump_written", slog.String("path", dumpPath))
				}
			}
		}()
	}

	done := false
	return func() {
		if done {
			return
		}
		done = true
		logging.Shutdown()
	}
}

// run opens the session cmd needs and executes it, returning an exit code.
func run(ctx context.Context, g globalFlags, cmd *command, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	sess, err := openSession(ctx, g, cmd.needs)
	if err != nil {
		NewCLIOutput(stdout, stderr, wantsJSON(args)).Error(err)
		return exitCode(err)
	}
	defer sess.Close()

	env := &cmdEnv{sess: sess, stdin: stdin, stdout: stdout, stderr: stderr, globals: g}
	if err := cmd.run(ctx, env, args); err != nil {
		NewCLIOutput(stdout, stderr, wantsJSON(args)).Error(err)
		return exitCode(err)
	}
	return 0
}

// wantsJSON reports whether args request --json output.
func wantsJSON(args []string) bool {
	for _, a := range args {
		if a == "--" {
			return false
		}
		if a == "--json" || a == "-json" || a == "--json=true" || a == "-json=true" {
			return true
		}
	}
	return false
}

// openSession creates a session and selects the archives and repository the
// command needs, opening them in parallel.
func openSession(ctx context.Context, g globalFlags, needs need) (*session.Session, error) {
	defaults := session.ResolveDefaults(g.archive, g.images, g.repo)
	openArchive := needs&needArchive != 0 || (needs&wantArchive != 0 && defaults.ArchivePath != "")
	openImages := needs&needImages != 0 || (needs&wantImages != 0 && defaults.ImagesPath != "")
	openRepo := needs&needRepo != 0 || (needs&wantRepo != 0 && defaults.RepoPath != "")

	switch {
	case openArchive && defaults.ArchivePath == "":
		return nil, usagef("no archive given: use -a <path>, %s or [archive] path in config.toml", session.EnvArchive)
	case openImages && defaults.ImagesPath == "":
		return nil, usagef("no images archive given: use -i <path>, %s or [archive] images_path in config.toml", session.EnvImages)
	case openRepo && defaults.RepoPath == "":
		return nil, usagef("no repository given: use -r <path>, %s or [repository] path in config.toml", session.EnvRepo)
	}

	opts := session.DefaultOptions()
	opts.WorkspaceDir = defaults.WorkspaceDir
	sess := session.New(opts)

	eg, egCtx := errgroup.WithContext(ctx)
	if openArchive {
		eg.Go(func() error {
			_, err := sess.SetArchive(egCtx, session.ExpandPath(defaults.ArchivePath))
			return err
		})
	}
	if openImages {
		eg.Go(func() error {
			return sess.SetImagesArchive(session.ExpandPath(defaults.ImagesPath))
		})
	}
	if openRepo {
		eg.Go(func() error {
			return sess.SetRepository(session.ExpandPath(defaults.RepoPath))
		})
	}

	start := time.Now()
	if err := eg.Wait(); err != nil {
		sess.Close()
		return nil, err
	}
	cliLog.Debug("session_opened",
		slog.String("session", sess.ID()),
		slog.Duration("elapsed", time.Since(start)))
	return sess, nil
}

func printHelp(w io.Writer) {
	fmt.Fprintf(w, "PR Viewer v%s\n", Version)
	fmt.Fprintln(w, "Browse archived pull requests, search them, and diff git revisions")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: pr-viewer [-a archive] [-i images] [-r repo] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global Options:")
	fmt.Fprintln(w, "  -a, --archive <path>   PR archive (.zip, .tar.gz, .tgz)")
	fmt.Fprintln(w, "  -i, --images <path>    Images archive (.zip, .tar.gz, .tgz)")
	fmt.Fprintln(w, "  -r, --repo <path>      Git repository")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range commands {
		if c.shellOnly {
			continue
		}
		fmt.Fprintf(w, "  %-38s %s\n", c.usage, c.summary)
	}
	fmt.Fprintf(w, "  %-38s %s\n", "version", "Show version")
	fmt.Fprintf(w, "  %-38s %s\n", "help", "Show this help")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Data commands accept --json.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  pr-viewer -a prs.zip search parser        # Find PRs about the parser")
	fmt.Fprintln(w, "  pr-viewer -a prs.zip cat prs/42.diff      # Print one PR's diff")
	fmt.Fprintln(w, "  pr-viewer -r . diff main.go HEAD~1 HEAD 10 20")
	fmt.Fprintln(w, "  pr-viewer -a prs.zip -r . shell           # Interactive session")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Environment Variables:")
	fmt.Fprintln(w, "  PRVIEWER_ARCHIVE     Default PR archive")
	fmt.Fprintln(w, "  PRVIEWER_IMAGES      Default images archive")
	fmt.Fprintln(w, "  PRVIEWER_REPO        Default repository")
	fmt.Fprintln(w, "  PRVIEWER_HOME        Config directory (default ~/.pr-viewer)")
	fmt.Fprintln(w, "  PRVIEWER_DEBUG       Write debug.log")
	fmt.Fprintln(w, "  PRVIEWER_COLOR       Color mode: truecolor, 256, 16, none")
}
