package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"sharedview.org/internal/auth"
	"sharedview.org/internal/config"
	"sharedview.org/internal/dashboard"
	"sharedview.org/internal/httpapi"
	"sharedview.org/internal/obs"
	"sharedview.org/internal/token"
	"sharedview.org/internal/visuals"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.InitLogger("info").Fatal("load config", zap.Error(err))
	}
	logger := obs.InitLogger(cfg.App.LogLevel)
	defer func() { _ = logger.Sync() }()

	obs.Init()
	obs.InitBuildInfo(cfg.App.Version, string(cfg.App.Edition))

	var (
		db         *sql.DB
		directory  auth.Directory
		views      visuals.Table
		dashboards dashboard.Table
		tokens     token.Store
	)
	if dsn := cfg.Postgres.DSN; dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
		db.SetConnMaxLifetime(30 * time.Minute)

		directory = auth.NewPGDirectory(db)
		views = visuals.NewPGTable(db)
		dashboards = dashboard.NewPGTable(db)
		tokens = token.NewPGStore(db)
		logger.Info("using postgres stores")
	} else {
		mem := seedMemoryStores(logger)
		directory, views, dashboards, tokens = mem.directory, mem.views, mem.dashboards, mem.tokens
		logger.Info("using in-memory stores")
	}

	source := &dashboard.VisualSource{Views: views, Dashboards: dashboards}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	registry, err := builtinRegistry(ctx, source)
	cancel()
	if err != nil {
		logger.Fatal("enumerate builtin visuals", zap.Error(err))
	}

	resolver := visuals.NewResolver(source, directory, registry)
	authority := dashboard.NewTokenAuthority(tokens, dashboards,
		dashboard.WithEdition(cfg.App.Edition))

	api := httpapi.New(httpapi.Deps{
		Directory:  directory,
		Registry:   registry,
		Resolver:   resolver,
		Dashboards: dashboards,
		Views:      views,
		Authority:  authority,
		Tokens:     tokens,
		ReadyProbe: httpapi.ReadyProbe{DB: db},
		Version:    cfg.App.Version,
		Edition:    cfg.App.Edition,
		SessionTTL: time.Duration(cfg.Auth.SessionTTLMinutes) * time.Minute,
		Debug:      cfg.App.Debug,
		RateBurst:  cfg.Rate.Burst,
		RatePerSec: cfg.Rate.PerSec,
	})

	srv := &http.Server{
		Addr:              cfg.App.Addr(),
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting sharedview-api",
		zap.String("version", cfg.App.Version),
		zap.String("edition", string(cfg.App.Edition)),
		zap.String("addr", srv.Addr))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if db != nil {
		_ = db.Close()
	}
	logger.Info("stopped")
}

// builtinRegistry declares the per-visual permission of every builtin visual
// so the collision guard of the visibility resolution can consult it.
func builtinRegistry(ctx context.Context, source visuals.Source) (*auth.PermissionRegistry, error) {
	var keys []string
	for _, kind := range []string{visuals.KindViews, visuals.KindDashboards} {
		all, err := source.All(ctx, kind)
		if err != nil {
			return nil, err
		}
		for key := range all {
			if key.Owner.IsBuiltin() {
				keys = append(keys, auth.BuiltinVisualPermission(visuals.PermPrefix(kind), key.Name))
			}
		}
	}
	return auth.NewPermissionRegistry(keys), nil
}

type memoryStores struct {
	directory  *auth.MemoryDirectory
	views      *visuals.MemoryTable
	dashboards *dashboard.MemoryTable
	tokens     *token.MemoryStore
}

// seedMemoryStores mirrors the SQL seeds for DSN-less runs: the shipped role
// model, the builtin visuals, and one admin account to log in with.
func seedMemoryStores(logger *zap.Logger) memoryStores {
	ctx := context.Background()

	dir := auth.NewMemoryDirectory()
	dir.GrantDefaultRolePermissions(visuals.KindViews)
	dir.GrantDefaultRolePermissions(visuals.KindDashboards)
	for _, role := range []string{"admin", "user", "guest"} {
		dir.GrantRolePermission(role, auth.BuiltinVisualPermission("view", "allhosts"))
		dir.GrantRolePermission(role, auth.BuiltinVisualPermission("view", "allservices"))
		dir.GrantRolePermission(role, auth.BuiltinVisualPermission("dashboard", "main"))
	}

	password := os.Getenv("SHAREDVIEW_DEMO_PASSWORD")
	if password == "" {
		password = "admin"
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		logger.Fatal("hash demo password", zap.Error(err))
	}
	now := time.Now().UTC()
	dir.PutUser(auth.User{
		ID:           "admin",
		Email:        "admin@sharedview.local",
		PasswordHash: hash,
		Status:       auth.UserStatusActive,
		Roles:        []string{"admin"},
		CreatedAt:    now,
		UpdatedAt:    now,
	})

	views := visuals.NewMemoryTable()
	for _, v := range []visuals.Visual{
		{Owner: auth.BuiltinOwner, Name: "allhosts", Title: "All hosts", Public: visuals.Publication{Public: true}},
		{Owner: auth.BuiltinOwner, Name: "allservices", Title: "All services", Public: visuals.Publication{Public: true}},
	} {
		if err := views.Put(ctx, visuals.KindViews, v); err != nil {
			logger.Fatal("seed views", zap.Error(err))
		}
	}

	dashboards := dashboard.NewMemoryTable()
	if err := dashboards.Put(ctx, dashboard.Dashboard{
		Visual: visuals.Visual{
			Owner:  auth.BuiltinOwner,
			Name:   "main",
			Title:  "Main dashboard",
			Public: visuals.Publication{Public: true},
		},
		Widgets: []dashboard.Widget{
			{Type: dashboard.WidgetLinkedView, Name: "allhosts"},
			{Type: dashboard.WidgetStaticText, Text: "Welcome"},
		},
	}); err != nil {
		logger.Fatal("seed dashboards", zap.Error(err))
	}
	// an admin-owned dashboard so sharing can be exercised out of the box
	if err := dashboards.Put(ctx, dashboard.Dashboard{
		Visual: visuals.Visual{
			Owner:  "admin",
			Name:   "overview",
			Title:  "Overview",
			Public: visuals.Publication{Public: true},
		},
		Widgets: []dashboard.Widget{
			{Type: dashboard.WidgetLinkedView, Name: "allhosts"},
			{Type: dashboard.WidgetLinkedView, Name: "allservices"},
		},
	}); err != nil {
		logger.Fatal("seed dashboards", zap.Error(err))
	}

	return memoryStores{
		directory:  dir,
		views:      views,
		dashboards: dashboards,
		tokens:     token.NewMemoryStore(),
	}
}
