// Command orb is a portable Ruby project manager: it installs
// interpreters, resolves and installs gem dependency graphs, and runs
// tools in isolated per-project or per-tool environments.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/contriboss/orb/internal/logger"
)

var (
	version     = "0.1.0"
	buildCommit = "unknown"
	buildTime   = "unknown"
)

var errStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

func main() {
	// When the binary is invoked through a ruby/irb symlink, skip the
	// command dispatcher entirely and act as the interpreter front.
	switch filepath.Base(os.Args[0]) {
	case "ruby", "irb":
		if err := runShim(filepath.Base(os.Args[0]), os.Args[1:]); err != nil {
			exitWithError(err)
		}
		return
	}

	if len(os.Args) < 2 {
		printHelp()
		return
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "--help", "-h", "help":
		printHelp()
	case "--version", "-V", "-v", "version":
		printVersion()
	case "lock":
		if err := runLockCommand(args); err != nil {
			exitWithError(err)
		}
	case "install":
		if err := runInstallCommand(args); err != nil {
			exitWithError(err)
		}
	case "fetch":
		if err := runFetchCommand(args); err != nil {
			exitWithError(err)
		}
	case "check":
		if err := runCheckCommand(args); err != nil {
			exitWithError(err)
		}
	case "exec":
		if err := runExecCommand(args); err != nil {
			exitWithError(err)
		}
	case "x", "run":
		if err := runToolCommand(args); err != nil {
			exitWithError(err)
		}
	case "ruby":
		if err := runRubyCommand(args); err != nil {
			exitWithError(err)
		}
	case "cache":
		if err := runCacheCommand(args); err != nil {
			exitWithError(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "orb: unknown command %q\n\n", cmd)
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`orb - portable Ruby project manager

Usage:
  orb lock                      Resolve the Gemfile and write Gemfile.lock
  orb install                   Install the locked gems into the project env
  orb fetch                     Download gem archives into the cache
  orb check                     Verify the environment matches the lockfile
  orb exec <prog> [args...]     Run a program inside the project env
  orb x <gem>[@ver] [-- args]   Run a tool gem in an ephemeral env
  orb ruby install <version>    Install a Ruby interpreter
  orb ruby list                 List installed interpreters
  orb cache info                Show archive cache statistics
  orb cache prune               Drop stale archives from the cache
  orb version                   Print version information

Options for x:
  --ruby <version>              Pin the interpreter (prefix allowed)

Environment:
  ORB_GEMFILE, ORB_VENDOR_DIR, ORB_CACHE_DIR, ORB_DATA_DIR, ORB_LOG_LEVEL
`)
}

func printVersion() {
	fmt.Printf("orb %s (%s, built %s)\n", version, shortHash(buildCommit), buildTime)
}

func shortHash(commit string) string {
	if len(commit) > 9 {
		return commit[:9]
	}
	return commit
}

func exitWithError(err error) {
	logger.Debug("command failed", "error", err)
	fmt.Fprintf(os.Stderr, "%s %v\n", errStyle.Render("orb:"), err)
	os.Exit(1)
}
