package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contriboss/orb/internal/cache"
	"github.com/contriboss/orb/internal/config"
	"github.com/contriboss/orb/internal/logger"
	"github.com/contriboss/orb/internal/rubyinstall"
	"github.com/contriboss/orb/internal/runner"
)

func setupLogging(verbose bool) {
	logger.SetupLogger(verbose)
}

// runToolCommand is the ephemeral runner front: orb x <gem>[@ver].
func runToolCommand(args []string) error {
	inv, err := runner.ParseArgs(args)
	if err != nil {
		return err
	}

	r := &runner.Runner{}
	return r.Run(context.Background(), inv)
}

func runRubyCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("ruby needs a subcommand: install, list")
	}

	rubiesDir, err := config.RubiesDir(nil)
	if err != nil {
		return err
	}

	switch args[0] {
	case "install":
		if len(args) < 2 {
			return errors.New("ruby install needs a version")
		}
		installer := rubyinstall.NewInstaller(rubiesDir)
		if err := installer.Install(context.Background(), args[1]); err != nil {
			return err
		}
		fmt.Printf("Installed ruby %s\n", args[1])
		return nil

	case "list":
		installed := rubyinstall.Installed(rubiesDir)
		if len(installed) == 0 {
			fmt.Println("No rubies installed")
			return nil
		}
		for _, v := range installed {
			fmt.Println(v)
		}
		return nil
	}

	return fmt.Errorf("unknown ruby subcommand %q", args[0])
}

func runCacheCommand(args []string) error {
	cacheDir, err := config.GemCacheDir(nil)
	if err != nil {
		return err
	}

	sub := "info"
	if len(args) > 0 {
		sub = args[0]
	}

	switch sub {
	case "info":
		stats, err := cache.CollectStats(cacheDir)
		if err != nil {
			return err
		}
		fmt.Printf("Cache: %s\n", cacheDir)
		fmt.Printf("Archives: %d (%s)\n", stats.Files, cache.HumanBytes(stats.TotalSize))
		return nil

	case "prune":
		maxAge := 30 * 24 * time.Hour
		removed, err := cache.Prune(cacheDir, maxAge)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d archives (%s)\n", removed.Files, cache.HumanBytes(removed.TotalSize))
		return nil
	}

	return fmt.Errorf("unknown cache subcommand %q", sub)
}
