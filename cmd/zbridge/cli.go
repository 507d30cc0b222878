package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zbridge-dev/zbridge/internal/config"
	"github.com/zbridge-dev/zbridge/internal/obs"
	"github.com/zbridge-dev/zbridge/internal/server"
)

// Build information variables, set by compiler via -ldflags
var (
	version   = "dev"
	gitCommit = "unknown"
	buildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "zbridge",
	Short: "zbridge - OpenAI/Anthropic compatible proxy for the Z.AI chat service",
	Long: `zbridge accepts OpenAI Chat Completions and Anthropic Messages requests,
forwards them to the Z.AI upstream, and streams the reply back re-encoded
in the caller's dialect, including thinking content and tool calls.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		if verbose {
			logrus.SetLevel(logrus.TraceLevel)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("zbridge\n")
			fmt.Printf("Version:    %s\n", version)
			fmt.Printf("Git Commit: %s\n", gitCommit)
			fmt.Printf("Build Time: %s\n", buildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewAppConfig()
			if err != nil {
				return err
			}
			verbose, _ := cmd.Flags().GetBool("verbose")
			obs.SetupLogging(cfg.LogLevel, cfg.LogFile, cfg.DebugMode || verbose)

			srv := server.NewServer(cfg, server.WithVersion(version))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case sig := <-quit:
				logrus.Infof("received %s, shutting down", sig)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return srv.Shutdown(ctx)
			}
		},
	}
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
