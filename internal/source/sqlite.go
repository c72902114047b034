package source

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "scanbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsSQL string

const defaultBusyTimeout = 5 * time.Second

var requiredColumns = []string{"symbol", "name", "price"}

// StockRow is the primary store's native record.
type StockRow struct {
	Symbol    string
	Name      string
	Price     *float64
	Sector    string
	UpdatedAt time.Time
}

// Store is the primary SQLite provider. Insert and Count are safe for
// concurrent callers.
type Store struct {
	db   *sql.DB
	path string
	log  logx.Logger
}

func openDB(ctx context.Context, path string, busy time.Duration, readOnly bool) (*sql.DB, error) {
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	dsn := path
	if readOnly {
		dsn = readOnlyDSN(path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer; one connection serializes callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds())); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite busy_timeout: %w", err)
	}
	if readOnly {
		return db, nil
	}
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")
	return db, nil
}

// readOnlyDSN turns a file path into a URI filename opened with mode=ro.
func readOnlyDSN(path string) string {
	u := url.URL{Path: path}
	return "file:" + u.EscapedPath() + "?mode=ro"
}

// probePrimary reports whether path is a readable SQLite database. The file
// is opened read-only and left as found.
func probePrimary(ctx context.Context, path string, busy time.Duration) error {
	db, err := openDB(ctx, path, busy, true)
	if err != nil {
		return err
	}
	st := &Store{db: db, path: path, log: logx.Nop()}
	defer st.Close()
	return st.Ping(ctx)
}

// OpenPrimary opens an existing primary store without touching its schema.
func OpenPrimary(ctx context.Context, path string, busy time.Duration, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	db, err := openDB(ctx, path, busy, false)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path, log: log}, nil
}

// InitPrimary creates (or upgrades) the primary store at path.
func InitPrimary(ctx context.Context, path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	st, err := OpenPrimary(ctx, path, 0, log)
	if err != nil {
		return nil, err
	}
	if _, err := st.db.ExecContext(ctx, migrationsSQL); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	st.log.Info("primary store ready", logx.String("path", path))
	return st, nil
}

func (s *Store) Kind() Kind { return KindPrimary }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping runs a trivial query, which also fails on files that are not SQLite
// databases.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	var n int
	return s.db.QueryRowContext(ctx, `SELECT count(*) FROM sqlite_master`).Scan(&n)
}

// Insert upserts one row by symbol.
func (s *Store) Insert(ctx context.Context, r StockRow) error {
	sym := strings.TrimSpace(r.Symbol)
	if sym == "" {
		return fmt.Errorf("%w: symbol required", ErrValidation)
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now()
	}
	var price any
	if r.Price != nil {
		price = *r.Price
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stocks(symbol, name, price, sector, updated_at) VALUES(?,?,?,?,?)
		 ON CONFLICT(symbol) DO UPDATE SET name=excluded.name, price=excluded.price,
		   sector=excluded.sector, updated_at=excluded.updated_at`,
		sym, strings.TrimSpace(r.Name), price, nullStr(r.Sector), r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM stocks`).Scan(&n)
	return n, err
}

// validateSchema requires the stocks table with its candidate columns.
func (s *Store) validateSchema(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('stocks')`)
	if err != nil {
		return fmt.Errorf("%w: inspect stocks table: %v", ErrValidation, err)
	}
	defer rows.Close()

	have := map[string]bool{}
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return err
		}
		have[strings.ToLower(col)] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(have) == 0 {
		return fmt.Errorf("%w: table stocks not found in %s", ErrValidation, s.path)
	}
	for _, c := range requiredColumns {
		if !have[c] {
			return fmt.Errorf("%w: table stocks lacks column %q", ErrValidation, c)
		}
	}
	return nil
}

// LoadFiltered reads every row ordered by symbol and applies f.
func (s *Store) LoadFiltered(ctx context.Context, f Filter) ([]Candidate, error) {
	if err := s.validateSchema(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, name, price FROM stocks ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	total := 0
	for rows.Next() {
		var (
			r     StockRow
			name  sql.NullString
			price sql.NullFloat64
		)
		if err := rows.Scan(&r.Symbol, &name, &price); err != nil {
			return nil, err
		}
		r.Name = name.String
		if price.Valid {
			p := price.Float64
			r.Price = &p
		}
		total++
		if !f.Keep(r.Price) {
			continue
		}
		out = append(out, fromStockRow(r))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.log.Debug("primary loaded", logx.Int("rows", total), logx.Int("kept", len(out)), logx.String("filter", f.String()))
	return out, nil
}

func fromStockRow(r StockRow) Candidate {
	return Candidate{
		Symbol:      strings.TrimSpace(r.Symbol),
		DisplayName: strings.TrimSpace(r.Name),
		Price:       r.Price,
	}
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
