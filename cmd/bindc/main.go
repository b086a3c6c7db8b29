// Package main is the entry point for the bindc server and tools.
package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lemonberrylabs/bindc/pkg/api"
	grpcapi "github.com/lemonberrylabs/bindc/pkg/api/grpc"
	"github.com/lemonberrylabs/bindc/pkg/compiler"
	"github.com/lemonberrylabs/bindc/pkg/config"
	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/schema"
	"github.com/lemonberrylabs/bindc/pkg/statistics"
	"github.com/lemonberrylabs/bindc/pkg/store"
	"github.com/lemonberrylabs/bindc/web"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:           "bindc",
	Short:         "Binding expression compiler",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, gRPC and web UI servers",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.Version = version + " (commit=" + commit + ", built=" + date + ")"
	rootCmd.SetVersionTemplate("bindc version {{.Version}}\n")

	rootCmd.PersistentFlags().String("config", envOrDefault("BINDC_CONFIG", ""), "YAML config file (env BINDC_CONFIG)")
	rootCmd.PersistentFlags().String("schema", "", "Directory of view-model YAML files (env SCHEMA_DIR)")

	serveCmd.Flags().Int("port", 0, "HTTP server port (default 8787, env PORT)")
	serveCmd.Flags().Int("grpc-port", 0, "gRPC server port (default 8788, env GRPC_PORT)")
	serveCmd.Flags().String("host", "", "Bind address (default 0.0.0.0, env BINDC_HOST)")
	serveCmd.Flags().String("roles", "", "Comma-separated roles required for secured view models (env AUTH_ROLES)")
	serveCmd.Flags().String("statistics-folder", "", "Folder for compilation statistics (env STATISTICS_FOLDER)")

	rootCmd.AddCommand(serveCmd, compileCmd, evalCmd, symbolsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment, then applies any flags
// the command defines and the user set.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if v, _ := flags.GetString("schema"); v != "" {
		cfg.SchemaDir = v
	}
	if v, _ := flags.GetInt("port"); v != 0 {
		cfg.Port = v
	}
	if v, _ := flags.GetInt("grpc-port"); v != 0 {
		cfg.GRPCPort = v
	}
	if v, _ := flags.GetString("host"); v != "" {
		cfg.Host = v
	}
	if v, _ := flags.GetString("roles"); v != "" {
		cfg.Roles = v
	}
	if v, _ := flags.GetString("statistics-folder"); v != "" {
		cfg.StatisticsFolder = v
	}
	return cfg, nil
}

// loadStore registers every view model found in dir.
func loadStore(dir string) (*store.Store, error) {
	s := store.New()
	if dir == "" {
		return s, nil
	}
	docs, err := schema.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	if err := s.RegisterDocuments(docs); err != nil {
		return nil, err
	}
	return s, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	s, err := loadStore(cfg.SchemaDir)
	if err != nil {
		return fmt.Errorf("loading view models: %w", err)
	}

	stats := statistics.GetProvider(cfg.Statistics())
	comp := compiler.New(
		compiler.WithCache(store.NewBindingCache(cfg.CacheSize)),
		compiler.WithRecorder(stats),
	)
	pipeline := filters.Pipeline{cfg.Authorize()}

	server := api.New(s,
		api.WithCompiler(comp),
		api.WithFilters(pipeline),
		api.WithAuthScheme(cfg.AuthScheme),
		api.WithAccessLog(),
	)

	// Register the web UI (non-fatal if template parsing fails)
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("Warning: web UI disabled due to template error: %v", r)
			}
		}()
		ui := web.New(s, comp, stats)
		ui.Register(server.App())
	}()

	// Start gRPC server
	grpcServer := grpcapi.New(s,
		grpcapi.WithCompiler(comp),
		grpcapi.WithFilters(pipeline),
		grpcapi.WithAuthScheme(cfg.AuthScheme),
	)
	go func() {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr())
		if err := grpcServer.Serve(cfg.GRPCAddr()); err != nil {
			log.Fatalf("gRPC server error: %v", err)
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down bindc...")
		grpcServer.GracefulStop()
		if err := server.Shutdown(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
		if err := stats.Flush(); err != nil {
			log.Printf("Warning: failed to write statistics: %v", err)
		}
	}()

	log.Printf("bindc listening on %s (%d view model(s))", cfg.Addr(), len(s.List()))
	if fp, ok := stats.(*statistics.FolderProvider); ok {
		log.Printf("Statistics folder: %s", fp.Folder())
	}
	if cfg.SchemaDir == "" {
		log.Printf("No schema directory specified; no view models registered")
	}
	return server.Listen(cfg.Addr())
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
