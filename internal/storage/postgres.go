package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"emi-offers/internal/offers"
)

// pgBatchSize bounds the statements queued per round trip inside a reconcile
// transaction.
const pgBatchSize = 1000

const pgOfferColumns = `trading_date,
        trading_period,
        site,
        participant_code,
        point_of_connection,
        unit,
        product_type,
        product_class,
        reserve_type,
        product_description,
        utc_submission_date,
        utc_submission_time,
        submission_order,
        tranche,
        max_ramp_up_mw_per_hour,
        max_ramp_down_mw_per_hour,
        plsr_percent,
        max_output_mw,
        forecast_generation_mw,
        megawatts,
        dollars_per_mwh,
        file_last_modified`

const (
	pgUpsertOfferSQL = `INSERT INTO offers (
        ` + pgOfferColumns + `
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
    )
    ON CONFLICT (trading_date, trading_period, point_of_connection, unit, tranche) DO UPDATE
    SET
        site                      = EXCLUDED.site,
        participant_code          = EXCLUDED.participant_code,
        product_type              = EXCLUDED.product_type,
        product_class             = EXCLUDED.product_class,
        reserve_type              = EXCLUDED.reserve_type,
        product_description       = EXCLUDED.product_description,
        utc_submission_date       = EXCLUDED.utc_submission_date,
        utc_submission_time       = EXCLUDED.utc_submission_time,
        submission_order          = EXCLUDED.submission_order,
        max_ramp_up_mw_per_hour   = EXCLUDED.max_ramp_up_mw_per_hour,
        max_ramp_down_mw_per_hour = EXCLUDED.max_ramp_down_mw_per_hour,
        plsr_percent              = EXCLUDED.plsr_percent,
        max_output_mw             = EXCLUDED.max_output_mw,
        forecast_generation_mw    = EXCLUDED.forecast_generation_mw,
        megawatts                 = EXCLUDED.megawatts,
        dollars_per_mwh           = EXCLUDED.dollars_per_mwh,
        file_last_modified        = EXCLUDED.file_last_modified;`

	pgUpsertFileSQL = `INSERT INTO offer_files (
        trading_date,
        remote_name,
        file_last_modified,
        record_count,
        content_hash,
        run_id,
        ingested_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,NOW()
    )
    ON CONFLICT (trading_date) DO UPDATE
    SET
        remote_name        = EXCLUDED.remote_name,
        file_last_modified = EXCLUDED.file_last_modified,
        record_count       = EXCLUDED.record_count,
        content_hash       = EXCLUDED.content_hash,
        run_id             = EXCLUDED.run_id,
        ingested_at        = EXCLUDED.ingested_at;`

	pgFileMarkerSQL    = `SELECT file_last_modified FROM offer_files WHERE trading_date = $1;`
	pgDerivedMarkerSQL = `SELECT MAX(file_last_modified) FROM offers WHERE trading_date = $1;`

	pgSelectOffersSQL = `SELECT
        ` + pgOfferColumns + `
    FROM offers`
	pgOrderOffersSQL = ` ORDER BY trading_date, trading_period, point_of_connection, unit, tranche;`

	pgLatestDateSQL = `SELECT MAX(trading_date) FROM offers;`

	pgListFilesSQL = `SELECT
        trading_date,
        remote_name,
        file_last_modified,
        record_count,
        content_hash,
        run_id,
        ingested_at
    FROM offer_files
    ORDER BY trading_date DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// PostgresStore persists offers in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wires a pgx pool into a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying pool resources.
func (s *PostgresStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

func (s *PostgresStore) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *PostgresStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// The lock dies with the session if this fails.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// Reconcile upserts every offer of in and records its freshness marker in a
// single transaction.
func (s *PostgresStore) Reconcile(ctx context.Context, in Ingestion) (int, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	rows := in.stamped()
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin reconcile: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for start := 0; start < len(rows); start += pgBatchSize {
		end := min(start+pgBatchSize, len(rows))
		batch := &pgx.Batch{}
		for _, o := range rows[start:end] {
			batch.Queue(pgUpsertOfferSQL, pgOfferArgs(o)...)
		}
		if err := sendBatch(ctx, tx, batch); err != nil {
			return 0, fmt.Errorf("upsert offers: %w", err)
		}
	}

	if _, err := tx.Exec(ctx, pgUpsertFileSQL,
		in.File.TradingDate,
		in.File.Name,
		in.File.LastModified.UTC(),
		len(rows),
		in.ContentHash,
		in.RunID,
	); err != nil {
		return 0, fmt.Errorf("record offer file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reconcile: %w", err)
	}
	return len(rows), nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

// FreshnessFor returns the lastModified of the file most recently reconciled
// for tradingDate, falling back to the newest stamp on its rows.
func (s *PostgresStore) FreshnessFor(ctx context.Context, tradingDate time.Time) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}

	var marker time.Time
	err = pool.QueryRow(ctx, pgFileMarkerSQL, tradingDate).Scan(&marker)
	switch {
	case err == nil:
		return marker.UTC(), true, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return time.Time{}, false, fmt.Errorf("read freshness marker: %w", err)
	}

	var derived *time.Time
	if err := pool.QueryRow(ctx, pgDerivedMarkerSQL, tradingDate).Scan(&derived); err != nil {
		return time.Time{}, false, fmt.Errorf("derive freshness marker: %w", err)
	}
	if derived == nil {
		return time.Time{}, false, nil
	}
	return derived.UTC(), true, nil
}

// ListByDate lists every offer for a trading date.
func (s *PostgresStore) ListByDate(ctx context.Context, date time.Time) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by date",
		pgSelectOffersSQL+` WHERE trading_date = $1`+pgOrderOffersSQL, date)
}

// ListByTradingPeriod lists the offers of one half-hour period.
func (s *PostgresStore) ListByTradingPeriod(ctx context.Context, date time.Time, period int) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by period",
		pgSelectOffersSQL+` WHERE trading_date = $1 AND trading_period = $2`+pgOrderOffersSQL, date, period)
}

// ListByUnit lists every stored offer of a generating unit.
func (s *PostgresStore) ListByUnit(ctx context.Context, unit string) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by unit",
		pgSelectOffersSQL+` WHERE unit = $1`+pgOrderOffersSQL, unit)
}

// ListByPointOfConnection lists every stored offer at a grid connection point.
func (s *PostgresStore) ListByPointOfConnection(ctx context.Context, poc string) ([]offers.Offer, error) {
	return s.queryOffers(ctx, "list offers by point of connection",
		pgSelectOffersSQL+` WHERE point_of_connection = $1`+pgOrderOffersSQL, poc)
}

// LatestTradingDate reports the newest trading date with stored offers.
func (s *PostgresStore) LatestTradingDate(ctx context.Context) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, err
	}
	var latest *time.Time
	if err := pool.QueryRow(ctx, pgLatestDateSQL).Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("latest trading date: %w", err)
	}
	if latest == nil {
		return time.Time{}, false, nil
	}
	return dateOnly(*latest), true, nil
}

// ListFiles lists the freshness markers, newest trading date first.
func (s *PostgresStore) ListFiles(ctx context.Context, limit int) ([]FileRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := pool.Query(ctx, pgListFilesSQL, lim)
	if err != nil {
		return nil, fmt.Errorf("list offer files: %w", err)
	}
	defer rows.Close()

	records := make([]FileRecord, 0)
	for rows.Next() {
		var rec FileRecord
		if err := rows.Scan(
			&rec.TradingDate,
			&rec.RemoteName,
			&rec.FileLastModified,
			&rec.RecordCount,
			&rec.ContentHash,
			&rec.RunID,
			&rec.IngestedAt,
		); err != nil {
			return nil, err
		}
		rec.TradingDate = dateOnly(rec.TradingDate)
		rec.FileLastModified = rec.FileLastModified.UTC()
		rec.IngestedAt = rec.IngestedAt.UTC()
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func (s *PostgresStore) queryOffers(ctx context.Context, op, query string, args ...any) ([]offers.Offer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	result := make([]offers.Offer, 0)
	for rows.Next() {
		o, scanErr := scanPgOffer(rows)
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

func pgOfferArgs(o offers.Offer) []any {
	return []any{
		o.TradingDate,
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
		pgDecimal(o.MaximumRampUpMegawattsPerHour),
		pgDecimal(o.MaximumRampDownMegawattsPerHour),
		pgDecimal(o.PartiallyLoadedSpinningReservePercent),
		pgDecimal(o.MaximumOutputMegawatts),
		pgDecimal(o.ForecastOfGenerationPotentialMegawatts),
		pgDecimal(o.Megawatts),
		pgDecimal(o.DollarsPerMegawattHour),
		o.FileLastModified,
	}
}

// pgDecimal binds NUMERIC columns as exact text; absent values become NULL.
func pgDecimal(d decimal.NullDecimal) any {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func scanPgOffer(rows pgx.Rows) (offers.Offer, error) {
	var (
		o        offers.Offer
		order    *int
		numerics [7]*string
		strs     [7]*string
	)
	if err := rows.Scan(
		&o.TradingDate,
		&o.TradingPeriod,
		&o.Site,
		&strs[0],
		&o.PointOfConnection,
		&o.Unit,
		&strs[1],
		&strs[2],
		&strs[3],
		&strs[4],
		&strs[5],
		&strs[6],
		&order,
		&o.Tranche,
		&numerics[0],
		&numerics[1],
		&numerics[2],
		&numerics[3],
		&numerics[4],
		&numerics[5],
		&numerics[6],
		&o.FileLastModified,
	); err != nil {
		return offers.Offer{}, err
	}

	o.TradingDate = dateOnly(o.TradingDate)
	o.FileLastModified = o.FileLastModified.UTC()
	if order != nil {
		o.SubmissionOrder = *order
	}

	for i, dst := range []*string{
		&o.ParticipantCode,
		&o.ProductType,
		&o.ProductClass,
		&o.ReserveType,
		&o.ProductDescription,
		&o.UTCSubmissionDate,
		&o.UTCSubmissionTime,
	} {
		if strs[i] != nil {
			*dst = *strs[i]
		}
	}

	for i, dst := range []*decimal.NullDecimal{
		&o.MaximumRampUpMegawattsPerHour,
		&o.MaximumRampDownMegawattsPerHour,
		&o.PartiallyLoadedSpinningReservePercent,
		&o.MaximumOutputMegawatts,
		&o.ForecastOfGenerationPotentialMegawatts,
		&o.Megawatts,
		&o.DollarsPerMegawattHour,
	} {
		if numerics[i] == nil {
			continue
		}
		d, err := decimal.NewFromString(*numerics[i])
		if err != nil {
			return offers.Offer{}, fmt.Errorf("parse numeric column %d: %w", i, err)
		}
		*dst = decimal.NewNullDecimal(d)
	}

	return o, nil
}

// dateOnly normalises a DATE value to midnight UTC.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var (
	_ OfferStore     = (*PostgresStore)(nil)
	_ AdvisoryLocker = (*PostgresStore)(nil)
)
