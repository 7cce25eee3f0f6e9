package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"emi-offers/internal/offers"
)

// Column names follow the legacy offers.db layout so existing databases open
// unchanged.
const sqliteOfferColumns = `TradingDate,
        TradingPeriod,
        Site,
        ParticipantCode,
        PointOfConnection,
        Unit,
        ProductType,
        ProductClass,
        ReserveType,
        ProductDescription,
        UTCSubmissionDate,
        UTCSubmissionTime,
        SubmissionOrder,
        Tranche,
        MaximumRampUpMegawattsPerHour,
        MaximumRampDownMegawattsPerHour,
        PartiallyLoadedSpinningReservePercent,
        MaximumOutputMegawatts,
        ForecastOfGenerationPotentialMegawatts,
        Megawatts,
        DollarsPerMegawattHour,
        FileLastModified`

const (
	sqliteUpsertOfferSQL = `INSERT OR REPLACE INTO offers (
        ` + sqliteOfferColumns + `
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`

	sqliteUpsertFileSQL = `INSERT INTO offer_files (
        TradingDate,
        RemoteName,
        FileLastModified,
        RecordCount,
        ContentHash,
        RunID,
        IngestedAt
    ) VALUES (?,?,?,?,?,?,?)
    ON CONFLICT (TradingDate) DO UPDATE
    SET
        RemoteName       = excluded.RemoteName,
        FileLastModified = excluded.FileLastModified,
        RecordCount      = excluded.RecordCount,
        ContentHash      = excluded.ContentHash,
        RunID            = excluded.RunID,
        IngestedAt       = excluded.IngestedAt;`

	sqliteFileMarkerSQL    = `SELECT FileLastModified FROM offer_files WHERE TradingDate = ?;`
	sqliteDerivedMarkerSQL = `SELECT MAX(FileLastModified) FROM offers WHERE TradingDate = ?;`

	sqliteSelectOffersSQL = `SELECT
        ` + sqliteOfferColumns + `
    FROM offers`
	sqliteOrderOffersSQL = ` ORDER BY TradingDate, TradingPeriod, PointOfConnection, Unit, Tranche;`

	sqliteLatestDateSQL = `SELECT MAX(TradingDate) FROM offers;`

	sqliteListFilesSQL = `SELECT
        TradingDate,
        RemoteName,
        FileLastModified,
        RecordCount,
        ContentHash,
        RunID,
        IngestedAt
    FROM offer_files
    ORDER BY TradingDate DESC
    LIMIT ?;`
)

// legacyTimeLayouts are accepted when reading timestamps written by older
// tooling that stored naive ISO strings.
var legacyTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// SQLiteOptions tune the SQLite backend.
type SQLiteOptions struct {
	BusyTimeout time.Duration
	AutoMigrate bool
}

// SQLiteStore persists offers in a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string, opts SQLiteOptions) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, busy))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time keeps per-file transactions serialised.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if opts.AutoMigrate {
		if err := migrateSQLite(db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Reconcile upserts every offer of in and records its freshness marker in a
// single transaction.
func (s *SQLiteStore) Reconcile(ctx context.Context, in Ingestion) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}

	rows := in.stamped()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertOfferSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare offer upsert: %w", err)
	}
	defer stmt.Close()

	for _, o := range rows {
		if _, err := stmt.ExecContext(ctx, sqliteOfferArgs(o)...); err != nil {
			return 0, fmt.Errorf("upsert offer %s: %w", o.Key(), err)
		}
	}

	if _, err := tx.ExecContext(ctx, sqliteUpsertFileSQL,
		in.File.DateString(),
		in.File.Name,
		formatStoredTime(in.File.LastModified),
		len(rows),
		in.ContentHash,
		in.RunID,
		formatStoredTime(s.now()),
	); err != nil {
		return 0, fmt.Errorf("record offer file: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit reconcile: %w", err)
	}
	return len(rows), nil
}

// FreshnessFor returns the lastModified of the file most recently reconciled
// for tradingDate. Dates ingested before offer_files existed fall back to the
// newest stamp on their rows.
func (s *SQLiteStore) FreshnessFor(ctx context.Context, tradingDate time.Time) (time.Time, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return time.Time{}, false, err
	}
	date := tradingDate.Format(offers.DateLayout)

	var marker string
	err = db.QueryRowContext(ctx, sqliteFileMarkerSQL, date).Scan(&marker)
	switch {
	case err == nil:
		t, perr := parseStoredTime(marker)
		if perr != nil {
			return time.Time{}, false, fmt.Errorf("parse freshness marker for %s: %w", date, perr)
		}
		return t, true, nil
	case !errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, fmt.Errorf("read freshness marker: %w", err)
	}

	var derived sql.NullString
	if err := db.QueryRowContext(ctx, sqliteDerivedMarkerSQL, date).Scan(&derived); err != nil {
		return time.Time{}, false, fmt.Errorf("derive freshness marker: %w", err)
	}
	if !derived.Valid {
		return time.Time{}, false, nil
	}
	t, err := parseStoredTime(derived.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse derived marker for %s: %w", date, err)
	}
	return t, true, nil
}

// ListByDate lists every offer for a trading date.
func (s *SQLiteStore) ListByDate(ctx context.Context, date time.Time) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by date",
		sqliteSelectOffersSQL+` WHERE TradingDate = ?`+sqliteOrderOffersSQL,
		date.Format(offers.DateLayout))
}

// ListByTradingPeriod lists the offers of one half-hour period.
func (s *SQLiteStore) ListByTradingPeriod(ctx context.Context, date time.Time, period int) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by period",
		sqliteSelectOffersSQL+` WHERE TradingDate = ? AND TradingPeriod = ?`+sqliteOrderOffersSQL,
		date.Format(offers.DateLayout), period)
}

// ListByUnit lists every stored offer of a generating unit.
func (s *SQLiteStore) ListByUnit(ctx context.Context, unit string) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by unit",
		sqliteSelectOffersSQL+` WHERE Unit = ?`+sqliteOrderOffersSQL, unit)
}

// ListByPointOfConnection lists every stored offer at a grid connection point.
func (s *SQLiteStore) ListByPointOfConnection(ctx context.Context, poc string) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by point of connection",
		sqliteSelectOffersSQL+` WHERE PointOfConnection = ?`+sqliteOrderOffersSQL, poc)
}

// LatestTradingDate reports the newest trading date with stored offers.
func (s *SQLiteStore) LatestTradingDate(ctx context.Context) (time.Time, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return time.Time{}, false, err
	}
	var latest sql.NullString
	if err := db.QueryRowContext(ctx, sqliteLatestDateSQL).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest trading date: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	date, err := offers.ParseDate(latest.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse latest trading date: %w", err)
	}
	return date, true, nil
}

// ListFiles lists the freshness markers, newest trading date first.
func (s *SQLiteStore) ListFiles(ctx context.Context, limit int) ([]FileRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := db.QueryContext(ctx, sqliteListFilesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list offer files: %w", err)
	}
	defer rows.Close()

	records := make([]FileRecord, 0)
	for rows.Next() {
		var rec FileRecord
		var date, modified, ingestedAt string
		if err := rows.Scan(&date, &rec.RemoteName, &modified, &rec.RecordCount, &rec.ContentHash, &rec.RunID, &ingestedAt); err != nil {
			return nil, err
		}
		if rec.TradingDate, err = offers.ParseDate(date); err != nil {
			return nil, fmt.Errorf("parse trading date: %w", err)
		}
		if rec.FileLastModified, err = parseStoredTime(modified); err != nil {
			return nil, fmt.Errorf("parse file last modified: %w", err)
		}
		if rec.IngestedAt, err = parseStoredTime(ingestedAt); err != nil {
			return nil, fmt.Errorf("parse ingested at: %w", err)
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (s *SQLiteStore) queryOffers(ctx context.Context, op, query string, args ...any) ([]offers.Offer, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]offers.Offer, 0)
	for rows.Next() {
		o, scanErr := scanSQLiteOffer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("%s: %w", op, scanErr)
		}
		result = append(result, o)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return result, nil
}

func sqliteOfferArgs(o offers.Offer) []any {
	return []any{
		o.TradingDate.Format(offers.DateLayout),
		o.TradingPeriod,
		o.Site,
		o.ParticipantCode,
		o.PointOfConnection,
		o.Unit,
		o.ProductType,
		o.ProductClass,
		o.ReserveType,
		o.ProductDescription,
		o.UTCSubmissionDate,
		o.UTCSubmissionTime,
		o.SubmissionOrder,
		o.Tranche,
		sqliteDecimal(o.MaximumRampUpMegawattsPerHour),
		sqliteDecimal(o.MaximumRampDownMegawattsPerHour),
		sqliteDecimal(o.PartiallyLoadedSpinningReservePercent),
		sqliteDecimal(o.MaximumOutputMegawatts),
		sqliteDecimal(o.ForecastOfGenerationPotentialMegawatts),
		sqliteDecimal(o.Megawatts),
		sqliteDecimal(o.DollarsPerMegawattHour),
		formatStoredTime(o.FileLastModified),
	}
}

// sqliteDecimal binds REAL columns; absent values become NULL. Precision is
// limited to float64.
func sqliteDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.InexactFloat64()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteOffer(row rowScanner) (offers.Offer, error) {
	var (
		o                       offers.Offer
		date, modified          string
		participant, prodType   sql.NullString
		prodClass, reserveType  sql.NullString
		description, subDate    sql.NullString
		subTime                 sql.NullString
		submissionOrder         sql.NullInt64
		rampUp, rampDown, plsr  sql.NullFloat64
		maxOutput, forecast, mw sql.NullFloat64
		price                   sql.NullFloat64
	)
	if err := row.Scan(
		&date,
		&o.TradingPeriod,
		&o.Site,
		&participant,
		&o.PointOfConnection,
		&o.Unit,
		&prodType,
		&prodClass,
		&reserveType,
		&description,
		&subDate,
		&subTime,
		&submissionOrder,
		&o.Tranche,
		&rampUp,
		&rampDown,
		&plsr,
		&maxOutput,
		&forecast,
		&mw,
		&price,
		&modified,
	); err != nil {
		return offers.Offer{}, err
	}

	var err error
	if o.TradingDate, err = offers.ParseDate(date); err != nil {
		return offers.Offer{}, fmt.Errorf("parse trading date: %w", err)
	}
	if o.FileLastModified, err = parseStoredTime(modified); err != nil {
		return offers.Offer{}, fmt.Errorf("parse file last modified: %w", err)
	}

	o.ParticipantCode = participant.String
	o.ProductType = prodType.String
	o.ProductClass = prodClass.String
	o.ReserveType = reserveType.String
	o.ProductDescription = description.String
	o.UTCSubmissionDate = subDate.String
	o.UTCSubmissionTime = subTime.String
	o.SubmissionOrder = int(submissionOrder.Int64)

	o.MaximumRampUpMegawattsPerHour = nullDecimalFromFloat(rampUp)
	o.MaximumRampDownMegawattsPerHour = nullDecimalFromFloat(rampDown)
	o.PartiallyLoadedSpinningReservePercent = nullDecimalFromFloat(plsr)
	o.MaximumOutputMegawatts = nullDecimalFromFloat(maxOutput)
	o.ForecastOfGenerationPotentialMegawatts = nullDecimalFromFloat(forecast)
	o.Megawatts = nullDecimalFromFloat(mw)
	o.DollarsPerMegawattHour = nullDecimalFromFloat(price)

	return o, nil
}

func nullDecimalFromFloat(f sql.NullFloat64) decimal.NullDecimal {
	if !f.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(decimal.NewFromFloat(f.Float64))
}

// storedTimeLayout is fixed width so MAX() over the text column orders
// chronologically.
const storedTimeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(storedTimeLayout)
}

func parseStoredTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

var (
	_ OfferStore = (*SQLiteStore)(nil)
)
