package geminstall

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeBinstubs creates a Ruby wrapper in envDir/bin for every
// executable the gem ships, so project tools run against the
// environment's gems without a gem home.
func writeBinstubs(envDir, gemDir string, meta *Metadata) error {
	if len(meta.Executables) == 0 {
		return nil
	}

	binDir := filepath.Join(envDir, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	envRoot, err := filepath.Abs(envDir)
	if err != nil {
		return err
	}

	for _, execName := range meta.Executables {
		original := filepath.Join(gemDir, meta.Bindir, execName)
		if _, err := os.Stat(original); err != nil {
			// Some gems list executables they do not ship for every
			// platform; skip quietly.
			continue
		}
		absOriginal, err := filepath.Abs(original)
		if err != nil {
			return err
		}
		binstubPath := filepath.Join(binDir, execName)
		if err := writeBinstub(binstubPath, absOriginal, execName, envRoot); err != nil {
			return fmt.Errorf("failed to create binstub for %s: %w", execName, err)
		}
	}

	return nil
}

// writeBinstub creates a Ruby wrapper script (binstub) for a gem executable
func writeBinstub(binstubPath, originalExec, execName, envRoot string) error {
	var binstub strings.Builder
	binstub.WriteString("#!/usr/bin/env ruby\n")
	binstub.WriteString("# frozen_string_literal: true\n")
	binstub.WriteString("\n")
	binstub.WriteString("#\n")
	binstub.WriteString("# This file was generated by orb.\n")
	binstub.WriteString("#\n")
	binstub.WriteString(fmt.Sprintf("# The application '%s' is installed as part of a gem, and\n", execName))
	binstub.WriteString("# this file is here to facilitate running it.\n")
	binstub.WriteString("#\n")
	binstub.WriteString("\n")
	binstub.WriteString(fmt.Sprintf("env_root = %q\n", envRoot))
	binstub.WriteString("\n")
	binstub.WriteString("# Put every gem's declared require paths on the load path\n")
	binstub.WriteString("Dir.glob(File.join(env_root, \"gems\", \"*\")).each do |gem_dir|\n")
	binstub.WriteString("  marker = File.join(gem_dir, \".require_paths\")\n")
	binstub.WriteString("  paths = File.exist?(marker) ? File.readlines(marker, chomp: true) : [\"lib\"]\n")
	binstub.WriteString("  paths.each do |rel|\n")
	binstub.WriteString("    dir = File.join(gem_dir, rel)\n")
	binstub.WriteString("    $LOAD_PATH.unshift(dir) if File.directory?(dir) && !$LOAD_PATH.include?(dir)\n")
	binstub.WriteString("  end\n")
	binstub.WriteString("end\n")
	binstub.WriteString("\n")
	binstub.WriteString(fmt.Sprintf("load %q\n", originalExec))

	return os.WriteFile(binstubPath, []byte(binstub.String()), 0o755)
}
