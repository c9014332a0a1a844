package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrUnknownCustomer is returned when no connection string is configured for a customer.
var ErrUnknownCustomer = errors.New("no database configured for customer")

// ErrRegistryClosed is returned by DB after Close.
var ErrRegistryClosed = errors.New("database registry closed")

// DSNLookup resolves a customer id to its connection string.
type DSNLookup func(customerID string) (string, bool)

// Opener opens a database handle for a connection string.
type Opener func(ctx context.Context, dsn string) (*sqlx.DB, error)

// Registry hands out one shared pool per customer database, opened on first use.
// Connecting happens outside mu, so a slow database only delays its own customer.
type Registry struct {
	mu      sync.Mutex
	lookup  DSNLookup
	open    Opener
	dbs     map[string]*sqlx.DB
	closed  bool
	dialing singleflight.Group
	logger  *zap.Logger
}

// NewRegistry creates a registry backed by PostgreSQL pools.
func NewRegistry(lookup DSNLookup, opts PoolOptions, logger *zap.Logger) *Registry {
	return NewRegistryWithOpener(lookup, func(ctx context.Context, dsn string) (*sqlx.DB, error) {
		return NewPostgresDB(ctx, dsn, opts, logger)
	}, logger)
}

// NewRegistryWithOpener creates a registry using a custom opener.
func NewRegistryWithOpener(lookup DSNLookup, open Opener, logger *zap.Logger) *Registry {
	return &Registry{
		lookup: lookup,
		open:   open,
		dbs:    make(map[string]*sqlx.DB),
		logger: logger,
	}
}

// DB returns the pool of a customer, connecting if needed. Concurrent first
// requests for the same database share one connect attempt; a failed attempt
// is not remembered.
func (r *Registry) DB(ctx context.Context, customerID string) (*sqlx.DB, error) {
	dsn, ok := r.lookup(customerID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCustomer, customerID)
	}

	if db, err := r.cached(dsn); db != nil || err != nil {
		return db, err
	}

	v, err, _ := r.dialing.Do(dsn, func() (interface{}, error) {
		if db, err := r.cached(dsn); db != nil || err != nil {
			return db, err
		}

		db, err := r.open(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to customer database: %w", err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			db.Close()
			return nil, ErrRegistryClosed
		}
		r.dbs[dsn] = db
		r.logger.Info("Opened customer database", zap.String("customer_id", customerID))
		return db, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*sqlx.DB), nil
}

func (r *Registry) cached(dsn string) (*sqlx.DB, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	return r.dbs[dsn], nil
}

// Close closes every pool opened so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true

	var errs []error
	for dsn, db := range r.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(r.dbs, dsn)
	}
	return errors.Join(errs...)
}

// ClosableSession is a Session that must be closed once the request ends.
type ClosableSession interface {
	Session
	Close() error
}

// Session opens a store session on the customer's database.
func (r *Registry) Session(ctx context.Context, customerID string) (ClosableSession, error) {
	db, err := r.DB(ctx, customerID)
	if err != nil {
		return nil, err
	}
	session, err := OpenSession(ctx, db, r.logger)
	if err != nil {
		return nil, err
	}
	return session, nil
}
