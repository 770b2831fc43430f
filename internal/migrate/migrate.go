// Package migrate applies the embedded schema migrations with goose.
package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/and161185/emol/migrations"
)

var setup sync.Once

// gooseLogger routes goose output through zap.
type gooseLogger struct{ s *zap.SugaredLogger }

func (l gooseLogger) Printf(format string, v ...any) { l.s.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.s.Fatalf(format, v...) }

func open(dsn string, log *zap.Logger) (*sql.DB, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var err error
	setup.Do(func() {
		goose.SetBaseFS(migrations.FS)
		goose.SetLogger(gooseLogger{s: log.Named("goose").Sugar()})
		err = goose.SetDialect("postgres")
	})
	if err != nil {
		return nil, err
	}
	return sql.Open("pgx", dsn)
}

// Up runs all pending migrations and logs the resulting schema version.
func Up(ctx context.Context, dsn string, log *zap.Logger) error {
	db, err := open(dsn, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, err := goose.GetDBVersionContext(ctx, db)
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if log != nil {
		log.Info("schema ready", zap.Int64("version", v))
	}
	return nil
}

// Version reports the applied schema version without migrating.
func Version(ctx context.Context, dsn string) (int64, error) {
	db, err := open(dsn, nil)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return goose.GetDBVersionContext(ctx, db)
}
