// Package orm exposes a Prisma-style query interface (findUnique, findMany,
// create, update, count, ...) over a rowstore.Client.
//
// The store only understands single-table filters, one ordering column,
// offset ranges and shallow embeds, so the interface is limited to what
// translates onto that: equality filters with one level of dotted paths,
// one level of includes, and one ordering field.
package orm

import (
	"context"
	"errors"
	"fmt"
	"log"

	"medeasy/pharmacy/internal/rowstore"
)

var (
	// ErrInvalidKey is returned when a write is keyed by a field it cannot use.
	ErrInvalidKey = errors.New("orm: invalid unique key")

	// ErrAtomicUnsupported is returned by Atomic when the store has no transactions.
	ErrAtomicUnsupported = errors.New("orm: store does not support transactions")
)

// Client holds one Model per entity over a single store. It keeps no
// per-call state and is safe for concurrent use.
type Client struct {
	store      rowstore.Client
	models     map[Entity]*Model
	logger     *log.Logger
	logQueries bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger used for query logging.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithQueryLog logs every request before it is sent.
func WithQueryLog(enabled bool) Option {
	return func(c *Client) { c.logQueries = enabled }
}

// New builds a client over store.
func New(store rowstore.Client, opts ...Option) *Client {
	c := &Client{store: store, logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.models = make(map[Entity]*Model, len(tables))
	for e, table := range tables {
		c.models[e] = &Model{entity: e, table: table, client: c}
	}
	return c
}

// Model returns the handler for e. It panics for an unmapped entity.
func (c *Client) Model(e Entity) *Model {
	m, ok := c.models[e]
	if !ok {
		panic(fmt.Sprintf("orm: no model for entity %q", string(e)))
	}
	return m
}

// Store returns the underlying row-store client.
func (c *Client) Store() rowstore.Client { return c.store }

// Transaction runs fn with this same client. It groups calls only: there is
// no isolation, and writes made before fn fails are not rolled back. Use
// Atomic when the store can provide a real transaction.
func (c *Client) Transaction(ctx context.Context, fn func(ctx context.Context, tx *Client) error) error {
	return fn(ctx, c)
}

// Atomic runs fn inside a store transaction, committing when fn returns nil
// and rolling back otherwise. It returns ErrAtomicUnsupported without calling
// fn when the store does not implement rowstore.Transactor.
func (c *Client) Atomic(ctx context.Context, fn func(ctx context.Context, tx *Client) error) error {
	tr, ok := c.store.(rowstore.Transactor)
	if !ok {
		return ErrAtomicUnsupported
	}
	tx, err := tr.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, c.with(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			c.logger.Printf("[ORM] rollback failed: %v", rbErr)
		}
		return err
	}
	return tx.Commit()
}

// Unit runs fn atomically when the store supports it and as a plain
// Transaction otherwise.
func (c *Client) Unit(ctx context.Context, fn func(ctx context.Context, tx *Client) error) error {
	if c.SupportsAtomic() {
		return c.Atomic(ctx, fn)
	}
	return c.Transaction(ctx, fn)
}

// SupportsAtomic reports whether Atomic can be used with this client's store.
func (c *Client) SupportsAtomic() bool {
	_, ok := c.store.(rowstore.Transactor)
	return ok
}

func (c *Client) with(store rowstore.Client) *Client {
	return New(store, WithLogger(c.logger), WithQueryLog(c.logQueries))
}
