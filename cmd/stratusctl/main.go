// Command stratusctl is the operator CLI: schema migrations and bootstrap of
// organizations, users and access tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lalithlochan/stratus/internal/config"
	"github.com/lalithlochan/stratus/internal/db"
	"github.com/lalithlochan/stratus/internal/observ"
	"github.com/lalithlochan/stratus/internal/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stratusctl",
		Short: "Operate a stratus deployment",
		Long: `Operate a stratus deployment.

Connection settings come from the same environment variables (and .env file)
as the API server: STORE_DRIVER, DATABASE_URL or DB_*, SQLITE_PATH, JWT_SECRET.

Examples:
  stratusctl migrate
  stratusctl org create "Acme Corp"
  stratusctl user create --org <org-id> --email ana@acme.test --name Ana --role admin
  stratusctl token <user-id>
`,
		SilenceUsage: true,
	}

	cmd.AddCommand(migrateCmd())
	cmd.AddCommand(orgCmd())
	cmd.AddCommand(userCmd())
	cmd.AddCommand(tokenCmd())

	return cmd
}

// adminStore is what the bootstrap commands write through.
type adminStore interface {
	CreateOrganization(ctx context.Context, org *db.Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*db.Organization, error)
	CreateUser(ctx context.Context, u *db.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*db.User, error)
}

// env loads configuration and a quiet logger for a command.
func env() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := observ.NewLogger(cfg.Env, "warn", "stratusctl")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (adminStore, func(), error) {
	if cfg.StoreDriver == config.DriverSQLite {
		s, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, func() { s.Close() }, nil
	}

	database, err := db.New(ctx, postgresConfig(cfg), logger)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	return db.NewRepository(database, logger), database.Close, nil
}

func postgresConfig(cfg *config.Config) db.Config {
	return db.Config{
		URL:      cfg.DatabaseURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: 2,
	}
}
