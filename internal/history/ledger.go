// Package history keeps an advisory record of completed generations. It is
// not the source of truth for artifacts: losing a row never loses an image.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/samber/do"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("history record not found")

type Record struct {
	ID          int64     `json:"id"`
	Prompt      string    `json:"prompt"`
	SourceURL   string    `json:"sourceURL"`
	DurableURL  string    `json:"durableURL"`
	MetadataURI string    `json:"metadataURI,omitempty"`
	FileName    string    `json:"fileName"`
	Size        string    `json:"size"`
	Seed        int64     `json:"seed"`
	CreatedAt   time.Time `json:"createdAt"`
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS generations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT NOT NULL,
			source_url TEXT NOT NULL,
			durable_url TEXT NOT NULL,
			metadata_uri TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL,
			size TEXT NOT NULL DEFAULT '1024x1024',
			seed INTEGER NOT NULL DEFAULT 42,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS generations_created_at ON generations (created_at DESC, id DESC)`,
	},
	"pgx": {
		`CREATE TABLE IF NOT EXISTS generations (
			id BIGSERIAL PRIMARY KEY,
			prompt TEXT NOT NULL,
			source_url TEXT NOT NULL,
			durable_url TEXT NOT NULL,
			metadata_uri TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL,
			size TEXT NOT NULL DEFAULT '1024x1024',
			seed BIGINT NOT NULL DEFAULT 42,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS generations_created_at ON generations (created_at DESC, id DESC)`,
	},
}

const columns = `id, prompt, source_url, durable_url, metadata_uri, file_name, size, seed, created_at`

// Ledger is opened lazily: the first call to any method connects and
// creates the schema. A failed open is retried by the next call.
type Ledger struct {
	driver string
	dsn    string

	mu sync.Mutex
	db *sql.DB
}

func New(driver, dsn string) *Ledger {
	return &Ledger{driver: driver, dsn: dsn}
}

func NewLedger(i *do.Injector) (*Ledger, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return New(cfg.Ledger.Driver, cfg.Ledger.DSN), nil
}

func (l *Ledger) init(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db != nil {
		return nil
	}

	// the schema outlives whichever request happened to open it
	db, err := l.open(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	l.db = db
	return nil
}

func (l *Ledger) open(ctx context.Context) (*sql.DB, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("ledger").With("driver", l.driver)

	stmts, ok := schemas[l.driver]
	if !ok {
		return nil, fmt.Errorf("unsupported ledger driver %q", l.driver)
	}
	if l.driver == "sqlite" && l.dsn != ":memory:" && !strings.HasPrefix(l.dsn, "file:") {
		if err := os.MkdirAll(filepath.Dir(l.dsn), 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	db, err := sql.Open(l.driver, l.dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if l.driver == "sqlite" {
		// one connection keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create ledger schema: %w", err)
		}
	}

	log.Info("ledger initialized")
	return db, nil
}

func (l *Ledger) Append(ctx context.Context, r Record) (int64, error) {
	if err := l.init(ctx); err != nil {
		return 0, err
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	var id int64
	err := l.db.QueryRowContext(ctx, l.rebind(`
		INSERT INTO generations (prompt, source_url, durable_url, metadata_uri, file_name, size, seed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		r.Prompt, r.SourceURL, r.DurableURL, r.MetadataURI, r.FileName, r.Size, r.Seed, r.CreatedAt.UnixMilli(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert history record: %w", err)
	}

	log.FromContextOrDiscard(ctx).WithGroup("ledger").Info("history record saved", "id", id, "file", r.FileName)
	return id, nil
}

// ListRecent returns at most limit records, newest first.
func (l *Ledger) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		return []Record{}, nil
	}
	if err := l.init(ctx); err != nil {
		return nil, err
	}

	rows, err := l.db.QueryContext(ctx, l.rebind(`
		SELECT `+columns+`
		FROM generations
		ORDER BY created_at DESC, id DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		r, err := scan(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (l *Ledger) Get(ctx context.Context, id int64) (Record, error) {
	if err := l.init(ctx); err != nil {
		return Record{}, err
	}

	r, err := scan(l.db.QueryRowContext(ctx, l.rebind(`SELECT `+columns+` FROM generations WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return r, err
}

func (l *Ledger) Delete(ctx context.Context, id int64) error {
	if err := l.init(ctx); err != nil {
		return err
	}

	res, err := l.db.ExecContext(ctx, l.rebind(`DELETE FROM generations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete history record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	log.FromContextOrDiscard(ctx).WithGroup("ledger").Info("history record deleted", "id", id)
	return nil
}

// Shutdown closes the handle if it was ever opened.
func (l *Ledger) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (Record, error) {
	var (
		r       Record
		created int64
	)
	if err := s.Scan(&r.ID, &r.Prompt, &r.SourceURL, &r.DurableURL, &r.MetadataURI, &r.FileName, &r.Size, &r.Seed, &created); err != nil {
		return Record{}, err
	}
	r.CreatedAt = time.UnixMilli(created)
	return r, nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (l *Ledger) rebind(query string) string {
	if l.driver != "pgx" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
