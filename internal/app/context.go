package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"hourline/internal/config"
	"hourline/internal/db"
	"hourline/internal/engine"
	"hourline/internal/migrate"
)

// Options control how a workspace is opened.
type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/hourline.yml.
	ConfigPath string
	Observer   engine.UseCaseObserver
	Now        func() time.Time
}

// Workspace is an opened hourline workspace: migrated database, config and a
// loaded engine.
type Workspace struct {
	Path   string
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
}

func (w *Workspace) Close() error {
	if w == nil || w.DB == nil {
		return nil
	}
	return w.DB.Close()
}

// ErrAlreadyInitialized is returned by Init when the config file exists.
var ErrAlreadyInitialized = errors.New("workspace already initialized")

// Init writes a default config and creates the database. An empty id falls
// back to the workspace directory name.
func Init(ctx context.Context, workspace, id string, force bool) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	if strings.TrimSpace(id) == "" {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return "", err
		}
		id = filepath.Base(abs)
	}
	path := config.Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%w: %s exists", ErrAlreadyInitialized, path)
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if _, err := migrate.Apply(ctx, conn); err != nil {
		return "", fmt.Errorf("migrate: %w", err)
	}
	return path, nil
}

// Open migrates the workspace database, loads config (defaults when the file
// is absent) and hydrates the engine from storage.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	ws := opts.Workspace
	if ws == "" {
		ws = "."
	}
	cfg, err := loadConfig(ws, opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: ws})
	if err != nil {
		return nil, err
	}
	if _, err := migrate.Apply(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	var engOpts []engine.Option
	if opts.Now != nil {
		engOpts = append(engOpts, engine.WithClock(opts.Now))
	}
	if opts.Observer != nil {
		engOpts = append(engOpts, engine.WithObserver(opts.Observer))
	}
	eng := engine.New(conn, cfg, engOpts...)
	if err := eng.Load(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return &Workspace{Path: ws, DB: conn, Config: cfg, Engine: eng}, nil
}

func loadConfig(workspace, override string) (*config.Config, error) {
	if override != "" {
		return config.FromFile(override)
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return nil, err
		}
		cfg = config.Default(filepath.Base(abs))
	}
	return cfg, nil
}
