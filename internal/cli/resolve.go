package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/pkg/manifest"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/resolver"
	"github.com/TEN-framework/ten-framework-sub001/pkg/semver"
)

var resolveExtra string

var resolveCmd = &cobra.Command{
	Use:   "resolve <app-dir>",
	Short: "Resolve the dependency candidates of an app",
	Long: `Resolve walks the dependency closure of the app at <app-dir> against the
configured registry, the installed packages and manifest-lock.json, and prints
the candidate versions of every package with their supports score.`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveExtra, "extra", "", "extra dependency as type:name@requirement, e.g. extension:ext_a@^1.0.0")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	in := resolver.Input{Support: e.cfg.Supports}
	if resolveExtra != "" {
		dep, err := parseExtraDep(resolveExtra)
		if err != nil {
			return err
		}
		in.ExtraDep = &dep
	}

	reg, err := e.registry()
	if err != nil {
		return err
	}

	pkgs, err := e.cache().Load(args[0])
	if err != nil {
		return fmt.Errorf("failed to load app: %w", err)
	}
	locked, err := resolver.LoadLock(pkgs.BaseDir)
	if err != nil {
		return err
	}
	in.Roots = []*pkginfo.PkgInfo{pkgs.App}
	in.Installed = pkgs.Installed()
	in.Locked = locked

	r := resolver.New(reg, e.logger)
	r.SetObserver(e.metrics)

	candidates, err := r.Resolve(cmd.Context(), in)
	if err != nil {
		return err
	}

	printCandidates(cmd.OutOrStdout(), candidates, locked)
	return nil
}

// parseExtraDep parses type:name@requirement; a missing requirement accepts
// every version
func parseExtraDep(raw string) (manifest.Dependency, error) {
	ident, req, _ := strings.Cut(raw, "@")
	kind, name, ok := strings.Cut(ident, ":")
	if !ok || name == "" {
		return manifest.Dependency{}, fmt.Errorf("invalid extra dependency %q (want type:name@requirement)", raw)
	}

	t, err := manifest.ParsePkgType(kind)
	if err != nil {
		return manifest.Dependency{}, err
	}
	dep := manifest.Dependency{Type: t, Name: name}
	if req != "" {
		dep.VersionReq, err = semver.ParseRequirement(req)
		if err != nil {
			return manifest.Dependency{}, err
		}
	}
	return dep, nil
}

func printCandidates(w io.Writer, candidates resolver.Candidates, locked map[manifest.TypeAndName]*pkginfo.PkgInfo) {
	header := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	for _, tn := range candidates.Keys() {
		header.Fprintln(w, tn.String())
		for _, p := range candidates.Sorted(tn) {
			source := "registry"
			switch {
			case locked[tn] == p:
				source = "locked"
			case p.IsLocalDependency:
				source = "local"
			case p.IsInstalled:
				source = "installed"
			}
			fmt.Fprintf(w, "  %-12s score=%d  %-9s %s\n", p.Manifest.Version, p.CompatibleScore, source, dim.Sprint(shortHash(p.Hash)))
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
