package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/internal/config"
	"github.com/TEN-framework/ten-framework-sub001/pkg/registry"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the effective configuration",
	Long:  `Show the effective tman configuration and how many packages the configured registry holds.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	out := cmd.OutOrStdout()
	key := color.New(color.FgHiBlack)
	line := func(k, v string) {
		fmt.Fprintf(out, "%s %s\n", key.Sprintf("%-10s", k+":"), v)
	}

	line("Config", config.NewLoader(cfgFile).GetConfigPath())
	line("Registry", registryLabel(e.cfg.Registry))
	line("Platform", e.cfg.Supports.String())
	line("Log level", e.cfg.Logging.Level)

	reg, err := e.registry()
	if err != nil {
		line("Packages", color.YellowString("unavailable (%v)", err))
		return nil
	}
	entries, err := reg.GetPackageList(cmd.Context(), registry.Query{})
	if err != nil {
		line("Packages", color.RedString("error (%v)", err))
		return nil
	}
	line("Packages", fmt.Sprintf("%d", len(entries)))
	return nil
}

func registryLabel(rc config.RegistryConfig) string {
	switch {
	case rc.URL != "":
		return rc.URL
	case rc.LocalDir != "":
		return "local " + rc.LocalDir
	}
	return "none"
}
