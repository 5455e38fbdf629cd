package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/api"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/driver"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/peer"
	"github.com/cuemby/relay/pkg/satp"
	"github.com/cuemby/relay/pkg/services/datatransfer"
	"github.com/cuemby/relay/pkg/services/eventpublish"
	"github.com/cuemby/relay/pkg/services/eventsubscribe"
	"github.com/cuemby/relay/pkg/services/network"
	"github.com/cuemby/relay/pkg/storage"
	"github.com/cuemby/relay/pkg/subscription"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - cross-domain interoperability gateway",
	Long: `Relay couples two otherwise independent permissioned ledgers: local
clients pull signed views of remote state, subscribe to remote events, and
drive asset-transfer sessions against a peer gateway, while a paired driver
process executes the ledger-side work.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Options{
		Level: logLevel,
		JSON:  logJSON,
	})
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the relay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServer(configPath)
	},
}

func init() {
	serverCmd.Flags().String("config", "config.yaml", "Path to relay configuration file")
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	resolver := config.NewResolver(cfg)
	logger := log.WithComponent("main")

	local, err := storage.NewBoltStore(resolver.DBPath())
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer local.Close()
	remote, err := storage.NewBoltStore(resolver.RemoteDBPath())
	if err != nil {
		return fmt.Errorf("failed to open remote store: %w", err)
	}
	defer remote.Close()

	classifier, err := subscription.LoadClassifier(resolver.DriverErrorConstantsPath())
	if err != nil {
		return err
	}
	subs := subscription.NewManager(local, classifier)

	drivers := driver.NewClient()
	defer drivers.Close()
	peers := peer.NewClient()
	defer peers.Close()

	satpService := satp.NewService(
		resolver, local,
		satp.DefaultValidator(),
		satp.InsecureSigner{Name: resolver.LocalName()},
		peers, drivers,
	)
	services := api.Services{
		Network:        network.NewService(resolver, local, remote, subs, peers, drivers, satpService),
		DataTransfer:   datatransfer.NewService(resolver, local, remote, drivers, peers),
		EventSubscribe: eventsubscribe.NewService(resolver, remote, subs, drivers, peers),
		EventPublish:   eventpublish.NewService(resolver, remote, subs, drivers, peers),
		SATP:           satpService,
	}

	server, err := api.NewServer(resolver, services)
	if err != nil {
		return err
	}

	if metricsAddr := resolver.MetricsAddr(); metricsAddr != "" {
		go func() {
			if err := metrics.Serve(metricsAddr); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	// Serve until interrupted.
	errCh := make(chan error, 1)
	addr, _, _, _ := resolver.Listen()
	go func() {
		errCh <- server.Start(addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		server.Stop()
		return nil
	}
}
