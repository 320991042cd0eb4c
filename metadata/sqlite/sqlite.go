package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/shruggr/chainsync/metadata"
	"github.com/shruggr/chainsync/models"
)

var _ metadata.Store = (*Store)(nil)

// Store is a SQLite-backed implementation of metadata.Store
type Store struct {
	db *sql.DB
}

// Config holds configuration for SQLite
type Config struct {
	DBPath string // Path to SQLite database file
}

// New creates a new SQLite-backed metadata store
func New(config *Config) (*Store, error) {
	if config.DBPath == "" {
		return nil, fmt.Errorf("DBPath is required")
	}

	db, err := sql.Open("sqlite3", config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	// one writer at a time; also keeps ":memory:" databases on a single connection
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	// Initialize schema
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the necessary tables
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS blocks (
		block_hash   BLOB PRIMARY KEY,
		parent_hash  BLOB NOT NULL,
		chain_length INTEGER NOT NULL,
		epoch        INTEGER NOT NULL,
		slot         INTEGER NOT NULL,
		header       BLOB NOT NULL,
		created_at   INTEGER DEFAULT (strftime('%s', 'now'))
	);

	CREATE INDEX IF NOT EXISTS idx_blocks_parent ON blocks(parent_hash);
	CREATE INDEX IF NOT EXISTS idx_blocks_chain_length ON blocks(chain_length);

	CREATE TABLE IF NOT EXISTS tags (
		name       TEXT PRIMARY KEY,
		block_hash BLOB NOT NULL,
		updated_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// PutBlock indexes an applied block
func (s *Store) PutBlock(ctx context.Context, meta *metadata.BlockMeta) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO blocks (block_hash, parent_hash, chain_length, epoch, slot, header)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		meta.BlockHash[:], meta.ParentHash[:], meta.ChainLength, meta.Date.Epoch, meta.Date.Slot, meta.Header,
	)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return fmt.Errorf("%w: %s", metadata.ErrBlockExists, meta.BlockHash)
	}
	if err != nil {
		return fmt.Errorf("failed to insert block: %w", err)
	}

	return nil
}

// GetBlockByHash retrieves block metadata by header hash
func (s *Store) GetBlockByHash(ctx context.Context, hash models.HeaderHash) (*metadata.BlockMeta, error) {
	var meta metadata.BlockMeta
	var blockHash, parentHash []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT block_hash, parent_hash, chain_length, epoch, slot, header
		 FROM blocks WHERE block_hash = ?`,
		hash[:],
	).Scan(&blockHash, &parentHash, &meta.ChainLength, &meta.Date.Epoch, &meta.Date.Slot, &meta.Header)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query block by hash: %w", err)
	}

	copy(meta.BlockHash[:], blockHash)
	copy(meta.ParentHash[:], parentHash)

	return &meta, nil
}

// PutTag points a named tag at a block
func (s *Store) PutTag(ctx context.Context, name string, hash models.HeaderHash) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tags (name, block_hash) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET block_hash = excluded.block_hash, updated_at = strftime('%s', 'now')`,
		name, hash[:],
	)
	if err != nil {
		return fmt.Errorf("failed to set tag %s: %w", name, err)
	}
	return nil
}

// GetTag resolves a named tag
func (s *Store) GetTag(ctx context.Context, name string) (*models.HeaderHash, error) {
	var raw []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT block_hash FROM tags WHERE name = ?`,
		name,
	).Scan(&raw)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query tag %s: %w", name, err)
	}

	var hash models.HeaderHash
	copy(hash[:], raw)
	return &hash, nil
}

// Close releases all database resources
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
