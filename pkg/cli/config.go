package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/m-mizutani/atelier/pkg/adapter"
	"github.com/m-mizutani/atelier/pkg/history"
	"github.com/m-mizutani/atelier/pkg/interfaces"
	"github.com/m-mizutani/atelier/pkg/model"
	"github.com/m-mizutani/atelier/pkg/policy"
	"github.com/m-mizutani/atelier/pkg/repository"
	"github.com/m-mizutani/atelier/pkg/tool"
	"github.com/m-mizutani/atelier/pkg/usecase/generation"
	"github.com/m-mizutani/atelier/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

const (
	backendSQLite    = "sqlite"
	backendMemory    = "memory"
	backendFirestore = "firestore"
)

// config holds configuration values
type config struct {
	// History backend
	backend  string
	dataDir  string
	project  string
	database string
	bucket   string

	toolsConfig string

	// Logging
	logLevel  string
	logFormat string

	// Adapters
	geminiAPIKey   string
	geminiProject  string
	geminiLocation string
	geminiModel    string

	policyDir string
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Aliases:     []string{"b"},
			Usage:       "History backend (sqlite, memory, firestore)",
			Value:       backendSQLite,
			Sources:     cli.EnvVars("ATELIER_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory of local history databases",
			Sources:     cli.EnvVars("ATELIER_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID for Firestore backend",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for history payloads of Firestore backend",
			Sources:     cli.EnvVars("ATELIER_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "tools-config",
			Usage:       "YAML file to override or add tool definitions",
			Sources:     cli.EnvVars("ATELIER_TOOLS_CONFIG"),
			Destination: &cfg.toolsConfig,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("ATELIER_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("ATELIER_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-api-key",
			Usage:       "Gemini API key. Vertex AI is used when empty",
			Sources:     cli.EnvVars("GEMINI_API_KEY"),
			Destination: &cfg.geminiAPIKey,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini image generation model",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego policies to check generation requests",
			Sources:     cli.EnvVars("ATELIER_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
	}
}

// setupLogger installs the logger configured by flags and returns ctx
// carrying it
func (cfg *config) setupLogger(ctx context.Context, c *cli.Command) (context.Context, error) {
	logCfg := logging.Config{Level: cfg.logLevel, Format: cfg.logFormat}
	if err := logCfg.Validate(); err != nil {
		return ctx, err
	}

	logger := logging.New(logCfg, errWriter(c))
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// newRegistry returns built-in tools with overrides of tools-config
func (cfg *config) newRegistry() (*tool.Registry, error) {
	registry := tool.Builtin()
	if err := registry.LoadFile(cfg.toolsConfig); err != nil {
		return nil, err
	}
	return registry, nil
}

func errWriter(c *cli.Command) io.Writer {
	if w := c.Root().ErrWriter; w != nil {
		return w
	}
	return os.Stderr
}

func (cfg *config) dataDirectory() (string, error) {
	if cfg.dataDir != "" {
		return cfg.dataDir, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return "", goerr.Wrap(err, "no data directory is available, set --data-dir", goerr.T(model.TagUnsupported))
	}
	return filepath.Join(base, "atelier"), nil
}

// newStores creates history stores over the selected backend. The returned
// function releases the backend.
func (cfg *config) newStores(ctx context.Context) (*history.Stores[*model.GenerationRecord], func(), error) {
	opener, closer, err := cfg.newOpener(ctx)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStores[*model.GenerationRecord](opener), closer, nil
}

func (cfg *config) newOpener(ctx context.Context) (interfaces.Opener, func(), error) {
	logger := logging.From(ctx)

	switch cfg.backend {
	case backendMemory:
		return repository.NewMemory(), func() {}, nil

	case "", backendSQLite:
		dir, err := cfg.dataDirectory()
		if err != nil {
			return nil, nil, err
		}
		db := repository.NewSQLite(dir)
		return db, func() {
			if err := db.Close(); err != nil {
				logger.Warn("failed to close history database", logging.ErrAttr(err))
			}
		}, nil

	case backendFirestore:
		if cfg.project == "" {
			return nil, nil, goerr.New("project is required for firestore backend")
		}
		if cfg.database == "" {
			return nil, nil, goerr.New("database is required for firestore backend")
		}

		payloads, err := cfg.newPayloadStorage(ctx)
		if err != nil {
			return nil, nil, err
		}

		fs, err := repository.NewFirestore(ctx, cfg.project, cfg.database, payloads)
		if err != nil {
			return nil, nil, goerr.Wrap(err, "failed to create firestore backend")
		}
		return fs, func() {
			if err := fs.Close(); err != nil {
				logger.Warn("failed to close firestore client", logging.ErrAttr(err))
			}
		}, nil

	default:
		return nil, nil, goerr.New("unknown history backend", goerr.V("backend", cfg.backend))
	}
}

// newPayloadStorage keeps payloads in the bucket, or in the data directory
// when no bucket is given
func (cfg *config) newPayloadStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.bucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.bucket, "atelier")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage")
		}
		return storage, nil
	}

	dir, err := cfg.dataDirectory()
	if err != nil {
		return nil, err
	}
	return adapter.NewFileStorage(filepath.Join(dir, "payloads"))
}

// newGenerator creates the image generator. An API key selects the Gemini
// API, otherwise Vertex AI is used.
func (cfg *config) newGenerator(ctx context.Context) (interfaces.ImageGenerator, error) {
	var opts []adapter.GeminiOption
	if cfg.geminiModel != "" {
		opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
	}

	if cfg.geminiAPIKey != "" {
		gemini, err := adapter.NewGeminiWithAPIKey(ctx, cfg.geminiAPIKey, opts...)
		if err != nil {
			return nil, err
		}
		return adapter.NewImageGenerator(gemini), nil
	}

	if cfg.geminiProject == "" {
		return nil, goerr.New("gemini-project or gemini-api-key is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.New("gemini-location is required")
	}
	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
	if err != nil {
		return nil, err
	}
	return adapter.NewImageGenerator(gemini), nil
}

// newGeneration creates the generation usecase with the configured
// generator and policy
func (cfg *config) newGeneration(ctx context.Context, stores *history.Stores[*model.GenerationRecord]) (*generation.UseCase, error) {
	generator, err := cfg.newGenerator(ctx)
	if err != nil {
		return nil, err
	}

	p, err := policy.Load(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	return generation.New(generator, stores, generation.WithPolicy(p)), nil
}
