// cmd/mnemo is the entry point for the memory service: it can run as the
// long-lived HTTP/SSE server, act as a one-shot client of a running server
// (status), or drive export/import of a JSON snapshot.
//
// Startup sequence for `mnemo server`:
//  1. Load configuration from environment variables (and an optional YAML
//     overlay).
//  2. Build the configured embedding provider.
//  3. Open the SQLite store and apply pending migrations.
//  4. Start the HTTP/SSE surface and, if enabled, mDNS advertisement.
//  5. Block until SIGINT/SIGTERM, then shut down gracefully.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/mnemo/internal/backup"
	"github.com/scrypster/mnemo/internal/config"
	"github.com/scrypster/mnemo/internal/coordinator"
	"github.com/scrypster/mnemo/internal/discovery"
	"github.com/scrypster/mnemo/internal/embedding"
	"github.com/scrypster/mnemo/internal/httpapi"
	"github.com/scrypster/mnemo/internal/store"
	"github.com/scrypster/mnemo/internal/store/remotestore"
	"github.com/scrypster/mnemo/internal/store/sqlitestore"
	"github.com/scrypster/mnemo/internal/syncfile"
)

const apiVersion = "1"

func main() {
	log.SetPrefix("mnemo: ")

	root := &cobra.Command{
		Use:   "mnemo",
		Short: "A content-addressed semantic memory service",
	}

	var overlayPath string
	root.PersistentFlags().StringVar(&overlayPath, "config", "", "path to an optional YAML config overlay")

	root.AddCommand(
		newServerCmd(&overlayPath),
		newStatusCmd(&overlayPath),
		newExportCmd(&overlayPath),
		newImportCmd(&overlayPath),
	)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(overlayPath string) *config.Config {
	cfg, err := config.Load(overlayPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func newServerCmd(overlayPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP/SSE memory server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(*overlayPath)
		},
	}
}

func runServer(overlayPath string) error {
	cfg := loadConfig(overlayPath)

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to build embedding provider: %w", err)
	}

	st, err := sqlitestore.Open(cfg.Storage.DatabasePath, cfg.Storage.SQLitePragmas, embedder)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr, _, err := httpapi.Start(ctx, cfg, st)
	if err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	log.Printf("listening on %s", addr)

	if cfg.Discovery.MDNSEnabled {
		go discovery.Advertise(ctx, cfg.Discovery.ServiceName, cfg.HTTP.Port, apiVersion,
			false, cfg.Security.Mode != "development")
	}

	if cfg.Storage.BackupsPath != "" {
		backupSvc, err := backup.NewBackupService(backup.BackupConfig{
			DBPath:        cfg.Storage.DatabasePath,
			BackupDir:     cfg.Storage.BackupsPath,
			VerifyBackups: true,
		})
		if err != nil {
			log.Printf("backup service disabled: %v", err)
		} else {
			go func() {
				if err := backupSvc.Start(ctx); err != nil && err != context.Canceled {
					log.Printf("backup service stopped: %v", err)
				}
			}()
		}
	}

	<-ctx.Done()
	log.Println("shutting down")
	return nil
}

func newStatusCmd(overlayPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report whether a server is reachable, and in which mode this process would run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*overlayPath)
			mode, err := coordinator.Detect(cmd.Context(), coordinator.Config{
				Host:      cfg.HTTP.Host,
				Port:      cfg.HTTP.Port,
				AutoStart: false,
			})
			if err != nil {
				return err
			}
			fmt.Printf("mode: %s\n", mode)
			return nil
		},
	}
}

// openStoreForCLI picks a remote client when a server is already running,
// otherwise opens the embedded store directly — the same mode decision the
// coordinator makes for any other process, just without auto-starting one.
func openStoreForCLI(ctx context.Context, cfg *config.Config) (store.Store, error) {
	mode, err := coordinator.Detect(ctx, coordinator.Config{
		Host:      cfg.HTTP.Host,
		Port:      cfg.HTTP.Port,
		AutoStart: false,
	})
	if err != nil {
		return nil, err
	}

	if mode == coordinator.ModeHTTPClient {
		return remotestore.New(fmt.Sprintf("http://%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)), nil
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	return sqlitestore.Open(cfg.Storage.DatabasePath, cfg.Storage.SQLitePragmas, embedder)
}

func newExportCmd(overlayPath *string) *cobra.Command {
	var output string
	var includeEmbeddings bool
	var tags []string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories to a portable JSON snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*overlayPath)
			st, err := openStoreForCLI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			exporter := syncfile.NewExporter(st)
			result, err := exporter.ExportToJSON(cmd.Context(), output, includeEmbeddings, tags)
			if err != nil {
				return err
			}
			fmt.Printf("exported %d memories to %s\n", result.ExportedCount, result.OutputFile)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "mnemo-export.json", "output file path")
	cmd.Flags().BoolVar(&includeEmbeddings, "include-embeddings", false, "include embedding vectors in the export")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "only export memories carrying one of these tags")
	return cmd
}

func newImportCmd(overlayPath *string) *cobra.Command {
	var dryRun bool
	var noDedup bool
	var noSourceTags bool

	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import memories from one or more JSON export snapshots",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*overlayPath)
			st, err := openStoreForCLI(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			importer := syncfile.NewImporter(st)
			stats, err := importer.ImportFromJSON(cmd.Context(), args, !noDedup, !noSourceTags, dryRun)
			if err != nil {
				return err
			}
			fmt.Printf("imported %d/%d memories (%d duplicates skipped, %d errors)\n",
				stats.Imported, stats.TotalProcessed, stats.DuplicatesSkipped, stats.Errors)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "analyze without writing")
	cmd.Flags().BoolVar(&noDedup, "no-dedup", false, "disable content-hash deduplication")
	cmd.Flags().BoolVar(&noSourceTags, "no-source-tags", false, "don't tag imported memories with their origin machine")
	return cmd
}
