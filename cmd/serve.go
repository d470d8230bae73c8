package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the page API with live change events",
	Long: `Sync the site, watch its templates, and serve the page API. Every page or
snippet save is broadcast to WebSocket clients on /ws.

Examples:
  pagegraph serve
  pagegraph serve --port 3000 --no-watch`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().String("host", "localhost", "host to bind to")
	serveCmd.Flags().Bool("no-watch", false, "do not watch template files")
	addFlagValidation(serveCmd.Flags(), "port", validatePort)

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	report, err := a.pages.Sync(ctx, a.siteID, a.syncOptions())
	printSyncReport(out, report)
	if err != nil && report == nil {
		return err
	}

	noWatch, _ := cmd.Flags().GetBool("no-watch")
	if !noWatch {
		fw, err := a.startWatcher(ctx, out)
		if err != nil {
			return err
		}
		defer fw.Stop()
	}

	srv, err := a.container.GetServer()
	if err != nil {
		return err
	}
	headColor.Fprintf(out, "Serving site %s on http://%s\n", a.siteID, srv.Addr())
	return srv.Start(ctx)
}
