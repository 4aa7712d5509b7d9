package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard starting from base
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== tman Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := *base
	validator := NewValidator()

	// Registry
	fmt.Fprintln(w.out, "Registry (a url or a local directory is required):")
	for {
		raw, err := w.ask("Registry URL", cfg.Registry.URL)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateRegistryURL(raw); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Registry.URL = raw
		break
	}

	if cfg.Registry.URL == "" {
		for {
			dir, err := w.ask("Local registry directory", cfg.Registry.LocalDir)
			if err != nil {
				return nil, err
			}
			if dir == "" {
				fmt.Fprintln(w.out, "Error: a local directory is required when no url is set")
				continue
			}
			cfg.Registry.LocalDir = dir
			break
		}
	}

	fmt.Fprintln(w.out)

	// Target platform
	fmt.Fprintln(w.out, "Target platform (empty matches every package):")
	os, err := w.ask("OS (linux/mac/win)", string(cfg.Supports.OS))
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateOS(manifest.OS(os)); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, leaving os unset\n", err)
		os = ""
	}
	cfg.Supports.OS = manifest.OS(os)

	arch, err := w.ask("Arch (x86/x64/arm/arm64)", string(cfg.Supports.Arch))
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateArch(manifest.Arch(arch)); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, leaving arch unset\n", err)
		arch = ""
	}
	cfg.Supports.Arch = manifest.Arch(arch)

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintln(w.out, "Logging:")
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		level = "info"
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return &cfg, nil
}

func (w *Wizard) ask(prompt, current string) (string, error) {
	fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}
