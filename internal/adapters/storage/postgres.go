package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = "catalog_sync"

// CatalogStorage зеркало каталогов маркетплейсов в PostgreSQL: по таблице на маркетплейс,
// правила перевода категорий и история прогонов
type CatalogStorage struct {
	pool   *pgxpool.Pool
	tx     tx.TxManager
	logger interfaces.LoggerPort
}

// NewCatalogStorage создает хранилище поверх готового пула
func NewCatalogStorage(ctx context.Context, pool *pgxpool.Pool, logger interfaces.LoggerPort) (*CatalogStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &CatalogStorage{pool: pool, tx: tx.NewTxManager(pool, logger), logger: logger}, nil
}

// Close закрывает соединение с БД
func (s *CatalogStorage) Close() error {
	s.pool.Close()
	return nil
}

// Ping проверяет доступность БД
func (s *CatalogStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// listingsTable имя таблицы листингов маркетплейса
func listingsTable(m models.Marketplace) (string, error) {
	if _, err := models.ParseMarketplace(string(m)); err != nil {
		return "", err
	}
	return pgx.Identifier{schema, "listings_" + string(m)}.Sanitize(), nil
}

// Migrate создает схему, если ее нет
func (s *CatalogStorage) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),
		`CREATE TABLE IF NOT EXISTS catalog_sync.sync_runs (
			run_id      UUID PRIMARY KEY,
			mode        TEXT NOT NULL,
			started_at  TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL,
			exit_code   INT NOT NULL,
			dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
			cancelled   BOOLEAN NOT NULL DEFAULT FALSE,
			report      JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at_idx ON catalog_sync.sync_runs (started_at DESC)`,
		`CREATE TABLE IF NOT EXISTS catalog_sync.category_mappings (
			source          TEXT NOT NULL,
			target          TEXT NOT NULL,
			source_category TEXT NOT NULL,
			target_id       TEXT NOT NULL,
			target_path     TEXT NOT NULL DEFAULT '',
			attribute_names JSONB NOT NULL DEFAULT '{}',
			defaults        JSONB NOT NULL DEFAULT '{}',
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (source, target, source_category)
		)`,
	}
	for _, m := range models.AllMarketplaces() {
		table, err := listingsTable(m)
		if err != nil {
			return err
		}
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS `+table+` (
			stock_code    TEXT PRIMARY KEY,
			item_id       TEXT NOT NULL DEFAULT '',
			barcode       TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL DEFAULT '',
			description   TEXT NOT NULL DEFAULT '',
			quantity      INT NOT NULL,
			sale_price    NUMERIC(14, 2),
			list_price    NUMERIC(14, 2),
			currency      TEXT NOT NULL DEFAULT '',
			attributes    JSONB,
			images        JSONB,
			category_id   TEXT NOT NULL DEFAULT '',
			category_path TEXT NOT NULL DEFAULT '',
			fetched_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	}

	return s.tx.Do(ctx, func(ctx context.Context) error {
		exec := tx.ExecutorFrom(ctx, s.pool)
		for _, stmt := range stmts {
			if _, err := exec.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return nil
	})
}

// Load читает все записи маркетплейса, упорядоченные по stock code
func (s *CatalogStorage) Load(ctx context.Context, m models.Marketplace) ([]models.CatalogRecord, error) {
	table, err := listingsTable(m)
	if err != nil {
		return nil, err
	}
	query := `
		SELECT stock_code, item_id, barcode, title, description, quantity,
		       sale_price::text, list_price::text, currency, attributes, images,
		       category_id, category_path, fetched_at
		FROM ` + table + `
		ORDER BY stock_code`

	rows, err := tx.ExecutorFrom(ctx, s.pool).Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s listings: %w", m, err)
	}
	defer rows.Close()

	var out []models.CatalogRecord
	for rows.Next() {
		var row listingRow
		if err := rows.Scan(&row.StockCode, &row.ItemID, &row.Barcode, &row.Title, &row.Description, &row.Quantity,
			&row.SalePrice, &row.ListPrice, &row.Currency, &row.Attributes, &row.Images,
			&row.CategoryID, &row.CategoryPath, &row.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan listing row: %w", err)
		}
		rec, err := row.record(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate listings: %w", err)
	}
	return out, nil
}

// Upsert записывает записи маркетплейса одной транзакцией
func (s *CatalogStorage) Upsert(ctx context.Context, m models.Marketplace, records []models.CatalogRecord) error {
	if len(records) == 0 {
		return nil
	}
	table, err := listingsTable(m)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO ` + table + ` (stock_code, item_id, barcode, title, description, quantity,
			sale_price, list_price, currency, attributes, images, category_id, category_path, fetched_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10::jsonb, $11::jsonb, $12, $13, $14, NOW())
		ON CONFLICT (stock_code)
		DO UPDATE SET
			item_id = EXCLUDED.item_id,
			barcode = EXCLUDED.barcode,
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			quantity = EXCLUDED.quantity,
			sale_price = EXCLUDED.sale_price,
			list_price = EXCLUDED.list_price,
			currency = EXCLUDED.currency,
			attributes = COALESCE(EXCLUDED.attributes, ` + table + `.attributes),
			images = COALESCE(EXCLUDED.images, ` + table + `.images),
			category_id = COALESCE(NULLIF(EXCLUDED.category_id, ''), ` + table + `.category_id),
			category_path = COALESCE(NULLIF(EXCLUDED.category_path, ''), ` + table + `.category_path),
			fetched_at = EXCLUDED.fetched_at,
			updated_at = NOW()`

	batch := &pgx.Batch{}
	for _, r := range records {
		row, err := newListingRow(r)
		if err != nil {
			return err
		}
		batch.Queue(query, row.StockCode, row.ItemID, row.Barcode, row.Title, row.Description, row.Quantity,
			row.SalePrice, row.ListPrice, row.Currency, row.Attributes, row.Images,
			row.CategoryID, row.CategoryPath, row.FetchedAt)
	}

	return s.tx.Do(ctx, func(ctx context.Context) error {
		br := tx.ExecutorFrom(ctx, s.pool).SendBatch(ctx, batch)
		for range records {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to upsert %s listing: %w", m, err)
			}
		}
		return br.Close()
	})
}

// Delete удаляет записи маркетплейса по stock code
func (s *CatalogStorage) Delete(ctx context.Context, m models.Marketplace, stockCodes []string) error {
	if len(stockCodes) == 0 {
		return nil
	}
	table, err := listingsTable(m)
	if err != nil {
		return err
	}
	if _, err := tx.ExecutorFrom(ctx, s.pool).Exec(ctx, `DELETE FROM `+table+` WHERE stock_code = ANY($1)`, stockCodes); err != nil {
		return fmt.Errorf("failed to delete %s listings: %w", m, err)
	}
	return nil
}

// SaveRun сохраняет итоги прогона в историю
func (s *CatalogStorage) SaveRun(ctx context.Context, snap models.ReportSnapshot) error {
	report, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}
	mode, _ := snap.Choice.Mode()

	query := `
		INSERT INTO catalog_sync.sync_runs (run_id, mode, started_at, finished_at, exit_code, dry_run, cancelled, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
		ON CONFLICT (run_id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			exit_code = EXCLUDED.exit_code,
			report = EXCLUDED.report`
	if _, err := tx.ExecutorFrom(ctx, s.pool).Exec(ctx, query, snap.RunID, string(mode), snap.StartedAt, snap.FinishedAt,
		snap.ExitCode, snap.DryRun, snap.Cancelled, report); err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// LastRun возвращает итоги последнего прогона
func (s *CatalogStorage) LastRun(ctx context.Context) (models.ReportSnapshot, error) {
	var raw []byte
	err := tx.ExecutorFrom(ctx, s.pool).QueryRow(ctx,
		`SELECT report FROM catalog_sync.sync_runs ORDER BY started_at DESC LIMIT 1`).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ReportSnapshot{}, models.ErrNoRuns
		}
		return models.ReportSnapshot{}, fmt.Errorf("failed to get last sync run: %w", err)
	}
	var snap models.ReportSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.ReportSnapshot{}, fmt.Errorf("failed to decode sync run: %w", err)
	}
	return snap, nil
}

// Mapping правило перевода категории; реализует categories.Source
func (s *CatalogStorage) Mapping(ctx context.Context, source, target models.Marketplace, sourceCategory string) (models.CategoryMapping, error) {
	query := `
		SELECT target_id, target_path, attribute_names, defaults
		FROM catalog_sync.category_mappings
		WHERE source = $1 AND target = $2 AND source_category = $3`

	mp := models.CategoryMapping{Source: source, Target: target, SourceCategory: sourceCategory}
	var names, defaults []byte
	err := tx.ExecutorFrom(ctx, s.pool).QueryRow(ctx, query, string(source), string(target), sourceCategory).
		Scan(&mp.TargetID, &mp.TargetPath, &names, &defaults)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.CategoryMapping{}, fmt.Errorf("%w: %s -> %s for %q", models.ErrNoCategoryMapping, source, target, sourceCategory)
		}
		return models.CategoryMapping{}, fmt.Errorf("failed to get category mapping: %w", err)
	}
	if err := unmarshalMap(names, &mp.AttributeNames); err != nil {
		return models.CategoryMapping{}, err
	}
	if err := unmarshalMap(defaults, &mp.Defaults); err != nil {
		return models.CategoryMapping{}, err
	}
	return mp, nil
}

// SaveMappings записывает правила перевода категорий
func (s *CatalogStorage) SaveMappings(ctx context.Context, mappings []models.CategoryMapping) error {
	query := `
		INSERT INTO catalog_sync.category_mappings (source, target, source_category, target_id, target_path, attribute_names, defaults, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, NOW())
		ON CONFLICT (source, target, source_category)
		DO UPDATE SET
			target_id = EXCLUDED.target_id,
			target_path = EXCLUDED.target_path,
			attribute_names = EXCLUDED.attribute_names,
			defaults = EXCLUDED.defaults,
			updated_at = NOW()`

	return s.tx.Do(ctx, func(ctx context.Context) error {
		exec := tx.ExecutorFrom(ctx, s.pool)
		for _, mp := range mappings {
			names, err := marshalMap(mp.AttributeNames)
			if err != nil {
				return err
			}
			defaults, err := marshalMap(mp.Defaults)
			if err != nil {
				return err
			}
			if _, err := exec.Exec(ctx, query, string(mp.Source), string(mp.Target), mp.SourceCategory,
				mp.TargetID, mp.TargetPath, names, defaults); err != nil {
				return fmt.Errorf("failed to save category mapping: %w", err)
			}
		}
		return nil
	})
}

// listingRow строка таблицы листингов
type listingRow struct {
	StockCode    string
	ItemID       string
	Barcode      string
	Title        string
	Description  string
	Quantity     int
	SalePrice    *string
	ListPrice    *string
	Currency     string
	Attributes   []byte
	Images       []byte
	CategoryID   string
	CategoryPath string
	FetchedAt    time.Time
}

func newListingRow(r models.CatalogRecord) (listingRow, error) {
	row := listingRow{
		StockCode:    r.StockCode,
		ItemID:       r.ItemID,
		Barcode:      r.Barcode,
		Title:        r.Title,
		Description:  r.Description,
		Quantity:     r.Quantity,
		SalePrice:    priceText(r.SalePrice),
		ListPrice:    priceText(r.ListPrice),
		Currency:     r.Currency,
		CategoryID:   r.CategoryID,
		CategoryPath: r.CategoryPath,
		FetchedAt:    r.FetchedAt,
	}
	if row.FetchedAt.IsZero() {
		row.FetchedAt = time.Now().UTC()
	}
	var err error
	if len(r.Attributes) > 0 {
		if row.Attributes, err = json.Marshal(r.Attributes); err != nil {
			return listingRow{}, fmt.Errorf("failed to marshal attributes of %s: %w", r.StockCode, err)
		}
	}
	if len(r.Images) > 0 {
		if row.Images, err = json.Marshal(r.Images); err != nil {
			return listingRow{}, fmt.Errorf("failed to marshal images of %s: %w", r.StockCode, err)
		}
	}
	return row, nil
}

func (row listingRow) record(m models.Marketplace) (models.CatalogRecord, error) {
	rec := models.CatalogRecord{
		Marketplace:  m,
		StockCode:    row.StockCode,
		ItemID:       row.ItemID,
		Barcode:      row.Barcode,
		Title:        row.Title,
		Description:  row.Description,
		Quantity:     row.Quantity,
		Currency:     row.Currency,
		CategoryID:   row.CategoryID,
		CategoryPath: row.CategoryPath,
		FetchedAt:    row.FetchedAt,
	}
	var err error
	if rec.SalePrice, err = parsePrice(row.SalePrice); err != nil {
		return rec, fmt.Errorf("listing %s: %w", row.StockCode, err)
	}
	if rec.ListPrice, err = parsePrice(row.ListPrice); err != nil {
		return rec, fmt.Errorf("listing %s: %w", row.StockCode, err)
	}
	if len(row.Attributes) > 0 {
		if err := json.Unmarshal(row.Attributes, &rec.Attributes); err != nil {
			return rec, fmt.Errorf("listing %s attributes: %w", row.StockCode, err)
		}
	}
	if len(row.Images) > 0 {
		if err := json.Unmarshal(row.Images, &rec.Images); err != nil {
			return rec, fmt.Errorf("listing %s images: %w", row.StockCode, err)
		}
	}
	return rec, nil
}

func priceText(p decimal.NullDecimal) *string {
	if !p.Valid {
		return nil
	}
	s := p.Decimal.StringFixed(2)
	return &s
}

func parsePrice(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%w: %q", models.ErrMalformedPrice, *s)
	}
	return decimal.NewNullDecimal(d), nil
}

func marshalMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal map: %w", err)
	}
	return b, nil
}

func unmarshalMap(b []byte, out *map[string]string) error {
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("failed to decode map: %w", err)
	}
	if len(*out) == 0 {
		*out = nil
	}
	return nil
}
