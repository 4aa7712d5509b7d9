package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
	"github.com/TEN-framework/ten-framework-sub001/pkg/registry"
)

var publishCmd = &cobra.Command{
	Use:   "publish <pkg-dir>",
	Short: "Publish a package to the configured registry",
	Long: `Publish uploads the package at <pkg-dir>: its manifest.json and, when
present, the package.tpkg archive next to it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	p, err := pkginfo.NewLoader(e.logger).LoadPackage(args[0])
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(args[0], registry.PackageFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read package content: %w", err)
	}

	reg, err := e.registry()
	if err != nil {
		return err
	}
	url, err := reg.UploadPackage(cmd.Context(), content, p)
	if err != nil {
		return err
	}

	color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Published %s\n", p.BasicInfo())
	fmt.Fprintln(cmd.OutOrStdout(), url)
	return nil
}
