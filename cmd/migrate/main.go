package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"credits/internal/config"
	"credits/internal/db"
	"credits/internal/logging"

	"github.com/sirupsen/logrus"
)

const downMarker = "-- +migrate Down"

func main() {
	boot := logging.New("info")
	config.LoadEnv(boot)
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.WithError(err).Fatal("failed to connect database")
	}
	defer database.Close()

	dir := "migrations"
	if len(os.Args) > 1 {
		dir = os.Args[1]
	}
	applied, err := migrate(context.Background(), database, dir, logger)
	if err != nil {
		logger.WithError(err).Fatal("migration failed")
	}
	logger.WithField("applied", applied).Info("migrations complete")
}

type migrator interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
}

// migrate applies the Up section of every *.sql file in dir that is not yet
// recorded in schema_migrations, in filename order.
func migrate(ctx context.Context, database migrator, dir string, logger logrus.FieldLogger) (int, error) {
	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		return 0, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		filename := filepath.Base(file)
		var exists bool
		if err := database.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = $1)`, filename); err != nil {
			return applied, fmt.Errorf("read migration state: %w", err)
		}
		if exists {
			continue
		}
		content, err := os.ReadFile(file)
		if err != nil {
			return applied, err
		}
		for _, stmt := range splitSQL(upSection(string(content))) {
			if _, err := database.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("apply %s: %w", filename, err)
			}
		}
		if _, err := database.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, filename); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", filename, err)
		}
		logger.WithField("file", filename).Info("applied migration")
		applied++
	}
	return applied, nil
}

func upSection(content string) string {
	up, _, _ := strings.Cut(content, downMarker)
	return up
}

// splitSQL breaks a script on lines containing ';'. Comment lines are
// dropped; statements spanning several lines are kept together.
func splitSQL(sqlText string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(sqlText))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.Contains(line, ";") {
			statements = append(statements, current.String())
			current.Reset()
		}
	}
	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}
