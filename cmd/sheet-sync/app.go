package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/sheet-sync/internal/auth"
	"github.com/alexjbarnes/sheet-sync/internal/config"
	"github.com/alexjbarnes/sheet-sync/internal/mcpserver"
	"github.com/alexjbarnes/sheet-sync/internal/notify"
	"github.com/alexjbarnes/sheet-sync/internal/reconcile"
	"github.com/alexjbarnes/sheet-sync/internal/records"
	"github.com/alexjbarnes/sheet-sync/internal/scheduler"
	"github.com/alexjbarnes/sheet-sync/internal/schema"
	"github.com/alexjbarnes/sheet-sync/internal/server"
	"github.com/alexjbarnes/sheet-sync/internal/sheets"
	"github.com/alexjbarnes/sheet-sync/internal/state"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// startupTimeout bounds sheet discovery and schema resolution.
const startupTimeout = time.Minute

// app holds the wired components shared by serve and sync.
type app struct {
	state   *state.State
	records *records.Store
	sheet   sheets.Store
	csv     *sheets.CSVStore
	schema  schema.Schema
	ref     string
	coord   *scheduler.Coordinator
}

func (a *app) Close() {
	if a.records != nil {
		a.records.Close()
	}

	if a.state != nil {
		a.state.Close()
	}
}

// build opens every store, resolves the schema and wires the reconciler
// and coordinator. The caller must Close the result.
func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{}

	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.state, err = state.LoadAt(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	a.sheet, a.ref, err = openSheet(startCtx, cfg)
	if err != nil {
		return nil, err
	}

	if c, ok := a.sheet.(*sheets.CSVStore); ok {
		a.csv = c
	}

	opts, err := schema.Options{
		KeyColumn:       cfg.KeyColumn,
		TimestampColumn: cfg.TimestampColumn,
		DefaultHeaders:  cfg.DefaultHeaders,
	}.WithFile(cfg.SchemaFile)
	if err != nil {
		return nil, err
	}

	a.schema, err = schema.Resolve(startCtx, a.sheet, sheets.HeaderRef(a.ref), a.state, opts)
	if err != nil {
		return nil, fmt.Errorf("resolving schema: %w", err)
	}

	logger.Info("schema resolved",
		slog.String("range", a.ref),
		slog.String("key", a.schema.Key),
		slog.String("timestamp", a.schema.Timestamp),
		slog.Int("fields", len(a.schema.Fields)),
	)

	a.records, err = records.Open(cfg.DBPath, cfg.TableName, cfg.StoreTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening record store: %w", err)
	}

	if err := a.records.EnsureSchema(startCtx, a.schema); err != nil {
		return nil, fmt.Errorf("preparing record table: %w", err)
	}

	rec := reconcile.NewReconciler(a.records, a.sheet, a.state, a.schema, a.ref,
		logger.With(slog.String("component", "reconciler")))

	a.coord = scheduler.New(rec, scheduler.Config{
		Interval:    cfg.SyncInterval,
		PassTimeout: cfg.PassTimeout,
	}, logger.With(slog.String("component", "scheduler")))

	return a, nil
}

// openSheet returns the configured sheet backend and the range to sync.
func openSheet(ctx context.Context, cfg *config.Config) (sheets.Store, string, error) {
	if cfg.SheetBackend == config.BackendCSV {
		ref := cfg.SheetRange
		if ref == "" {
			ref = sheets.TabRef("Sheet1")
		}

		return sheets.NewCSVStore(cfg.SheetFile), ref, nil
	}

	opts := []option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}
	if cfg.GoogleCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GoogleCredentialsFile))
	}

	gs, err := sheets.NewGoogleStore(ctx, cfg.SheetID, opts...)
	if err != nil {
		return nil, "", err
	}

	if cfg.SheetRange != "" {
		if _, err := sheets.ParseRef(cfg.SheetRange); err != nil {
			return nil, "", fmt.Errorf("SHEET_RANGE: %w", err)
		}

		return gs, cfg.SheetRange, nil
	}

	title, err := gs.FirstSheetTitle(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("discovering first tab: %w", err)
	}

	return gs, sheets.TabRef(title), nil
}

// serve runs the daemon until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := cfg.Users()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.coord.Run(gctx)
	})

	g.Go(func() error {
		return runHTTP(gctx, cfg, a, users, logger.With(slog.String("service", "http")))
	})

	if a.csv != nil {
		w := sheets.NewWatcher(a.csv, a.coord.Trigger, logger.With(slog.String("component", "watcher")))

		g.Go(func() error {
			return ignoreCanceled(w.Watch(gctx))
		})
	}

	if cfg.NotifyURL != "" {
		l := notify.NewListener(cfg.NotifyURL, cfg.NotifyChannel, cfg.TableName, a.coord.Trigger,
			logger.With(slog.String("component", "notify")))

		g.Go(func() error {
			return ignoreCanceled(l.Listen(gctx))
		})
	}

	return g.Wait()
}

func runHTTP(ctx context.Context, cfg *config.Config, a *app, users auth.Users, logger *slog.Logger) error {
	var mcpHandler http.Handler

	if cfg.EnableMCP {
		mcpServer := mcp.NewServer(
			&mcp.Implementation{Name: "sheet-sync", Version: Version},
			nil,
		)
		mcpserver.RegisterTools(mcpServer, mcpserver.Deps{
			Records:    a.records,
			Sync:       a.coord,
			Watermarks: a.state,
			Schema:     a.schema,
		})

		mcpHandler = mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return mcpServer
		}, nil)
	}

	handler := server.NewMux(server.MuxConfig{
		Records:    a.records,
		Sync:       a.coord,
		Watermarks: a.state,
		Schema:     a.schema,
		Users:      users,
		MCPHandler: mcpHandler,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("starting HTTP server",
		slog.String("listen", cfg.ListenAddr),
		slog.Bool("mcp", cfg.EnableMCP),
		slog.Int("users", len(users)),
	)

	// Shutdown when context is cancelled.
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
