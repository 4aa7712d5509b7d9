package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/TEN-framework/ten-framework-sub001/pkg/compat"
	"github.com/TEN-framework/ten-framework-sub001/pkg/designer"
	"github.com/TEN-framework/ten-framework-sub001/pkg/pkginfo"
)

var (
	checkWatch       bool
	checkMetricsAddr string
)

var checkCmd = &cobra.Command{
	Use:   "check <app-dir>",
	Short: "Check the predefined graphs of an app",
	Long: `Check runs the graph compatibility checker over every connection of every
predefined graph in the app at <app-dir> and reports each incompatible
message flow. With --watch it re-checks whenever a manifest or property file
of the app changes.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().BoolVar(&checkWatch, "watch", false, "re-check on file changes until interrupted (default from designer.watch)")
	checkCmd.Flags().StringVar(&checkMetricsAddr, "metrics-addr", "", "serve metrics on this address while watching, when metrics are enabled")
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := cmd.Context()
	cache := e.cache()
	store := e.graphStore(cache)

	infos, err := store.Load(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	failed := checkGraphs(ctx, out, store, infos)

	watch := checkWatch || (!cmd.Flags().Changed("watch") && e.cfg.Designer.Watch)
	if !watch {
		if failed > 0 {
			return fmt.Errorf("%d of %d graphs failed the compatibility check", failed, len(infos))
		}
		return nil
	}

	if checkMetricsAddr != "" && e.metrics != nil {
		srv := &http.Server{Addr: checkMetricsAddr, Handler: e.metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				e.logger.Error().Err(err).Str("addr", checkMetricsAddr).Msg("Metrics server failed")
			}
		}()
		defer srv.Close()
	}

	watcher, err := pkginfo.NewWatcher(cache, pkginfo.WatcherConfig{
		OnRefresh: func(appDir string, err error) {
			if err != nil {
				e.logger.Warn().Err(err).Str("app", appDir).Msg("App reload failed")
				return
			}
			if err := store.Refresh(appDir); err != nil {
				e.logger.Warn().Err(err).Str("app", appDir).Msg("Graph reload failed")
				return
			}
			checkGraphs(ctx, out, store, store.Graphs())
		},
	}, e.logger)
	if err != nil {
		return err
	}
	appDir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	if err := watcher.Watch(appDir); err != nil {
		return err
	}
	watcher.Start()
	defer watcher.Stop()

	e.logger.Info().Str("app", args[0]).Msg("Watching for changes")
	<-ctx.Done()
	return nil
}

// checkGraphs prints the outcome for each graph and returns how many failed
func checkGraphs(ctx context.Context, w io.Writer, store *designer.Store, infos []designer.GraphInfo) int {
	ok := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	failed := 0
	for _, info := range infos {
		err := store.Check(ctx, info.ID)
		if err == nil {
			ok.Fprintf(w, "✓ %s\n", info.Name)
			continue
		}

		failed++
		bad.Fprintf(w, "✗ %s\n", info.Name)
		var ce *compat.CheckError
		if !errors.As(err, &ce) {
			fmt.Fprintf(w, "  %v\n", err)
			continue
		}
		for _, issue := range ce.Issues {
			fmt.Fprintf(w, "  %s\n", issue)
		}
	}
	return failed
}
