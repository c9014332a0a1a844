package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Session is the store view of a single status check.
type Session interface {
	Models() ModelRepository
	Labels() LabelRepository
	// WithinTx runs fn against repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(labels LabelRepository, models ModelRepository) error) error
}

// ConnSession pins one pooled connection until Close.
type ConnSession struct {
	conn   *sqlx.Conn
	models ModelRepository
	labels LabelRepository
	logger *zap.Logger
}

// OpenSession takes a connection from the pool.
func OpenSession(ctx context.Context, db *sqlx.DB, logger *zap.Logger) (*ConnSession, error) {
	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &ConnSession{
		conn:   conn,
		models: NewModelRepository(conn, logger),
		labels: NewLabelRepository(conn, logger),
		logger: logger,
	}, nil
}

func (s *ConnSession) Models() ModelRepository { return s.models }

func (s *ConnSession) Labels() LabelRepository { return s.labels }

func (s *ConnSession) WithinTx(ctx context.Context, fn func(LabelRepository, ModelRepository) error) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(NewLabelRepository(tx, s.logger), NewModelRepository(tx, s.logger)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close returns the connection to the pool.
func (s *ConnSession) Close() error {
	return s.conn.Close()
}
