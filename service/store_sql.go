package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/Sonket19/AI-Pitch-Lens/model"
	"github.com/Sonket19/AI-Pitch-Lens/pkg/apperr"
)

const dealsSchema = `
CREATE TABLE IF NOT EXISTS deals (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	filename           TEXT NOT NULL,
	storage_path       TEXT NOT NULL,
	file_url           TEXT NOT NULL DEFAULT '',
	status             TEXT NOT NULL,
	error_message      TEXT NOT NULL DEFAULT '',
	full_text          TEXT NOT NULL DEFAULT '',
	extraction_task_id TEXT NOT NULL DEFAULT '',
	analysis           TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMP NOT NULL,
	updated_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deals_user_created ON deals (user_id, created_at DESC);
`

const dealColumns = `id, user_id, filename, storage_path, file_url, status, error_message,
	full_text, extraction_task_id, analysis, created_at, updated_at`

type dealRow struct {
	ID               string    `db:"id"`
	UserID           string    `db:"user_id"`
	Filename         string    `db:"filename"`
	StoragePath      string    `db:"storage_path"`
	FileURL          string    `db:"file_url"`
	Status           string    `db:"status"`
	ErrorMessage     string    `db:"error_message"`
	FullText         string    `db:"full_text"`
	ExtractionTaskID string    `db:"extraction_task_id"`
	Analysis         string    `db:"analysis"`
	CreatedAt        time.Time `db:"created_at"`
	UpdatedAt        time.Time `db:"updated_at"`
}

func toRow(d *model.Deal) (*dealRow, error) {
	var analysis string
	if len(d.Analysis) > 0 {
		raw, err := json.Marshal(d.Analysis)
		if err != nil {
			return nil, fmt.Errorf("failed to encode analysis: %w", err)
		}
		analysis = string(raw)
	}
	return &dealRow{
		ID:               d.ID,
		UserID:           d.UserID,
		Filename:         d.Filename,
		StoragePath:      d.StoragePath,
		FileURL:          d.FileURL,
		Status:           string(d.Status),
		ErrorMessage:     d.ErrorMessage,
		FullText:         d.FullText,
		ExtractionTaskID: d.ExtractionTaskID,
		Analysis:         analysis,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}, nil
}

func (r *dealRow) toDeal() (*model.Deal, error) {
	d := &model.Deal{
		ID:               r.ID,
		UserID:           r.UserID,
		Filename:         r.Filename,
		StoragePath:      r.StoragePath,
		FileURL:          r.FileURL,
		Status:           model.Status(r.Status),
		ErrorMessage:     r.ErrorMessage,
		FullText:         r.FullText,
		ExtractionTaskID: r.ExtractionTaskID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.Analysis != "" {
		if err := json.Unmarshal([]byte(r.Analysis), &d.Analysis); err != nil {
			return nil, fmt.Errorf("failed to decode analysis of deal %s: %w", r.ID, err)
		}
	}
	return d, nil
}

// SQLStore is a DealStore backed by postgres or sqlite3 through sqlx.
type SQLStore struct {
	db       *sqlx.DB
	driver   string
	notifier ChangeNotifier
	now      func() time.Time
}

var _ DealStore = (*SQLStore)(nil)

// OpenSQLStore connects with driver "postgres" or "sqlite3" and runs the migration.
func OpenSQLStore(ctx context.Context, driver, dsn string, notifier ChangeNotifier) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorage, "failed to connect to %s", driver)
	}
	if driver == "sqlite3" {
		// One connection keeps ":memory:" databases shared and serializes writers.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, driver: driver, notifier: notifier, now: time.Now}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("deal store initialized", "driver", driver)
	return s, nil
}

// Migrate creates the deals table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, dealsSchema); err != nil {
		return apperr.Wrap(err, apperr.CodeStorage, "failed to migrate deals table")
	}
	return nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) Create(ctx context.Context, deal *model.Deal) (string, error) {
	d, err := prepareCreate(deal, s.now())
	if err != nil {
		return "", err
	}
	row, err := toRow(d)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "failed to create deal")
	}

	_, err = s.db.NamedExecContext(ctx, `INSERT INTO deals (`+dealColumns+`) VALUES (:id, :user_id, :filename,
		:storage_path, :file_url, :status, :error_message, :full_text, :extraction_task_id, :analysis,
		:created_at, :updated_at)`, row)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeStorage, "failed to create deal")
	}
	s.notify(d.ID, d)
	return d.ID, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Deal, error) {
	return s.get(ctx, s.db, id, false)
}

func (s *SQLStore) get(ctx context.Context, q sqlx.QueryerContext, id string, forUpdate bool) (*model.Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE id = ?`
	if forUpdate && s.driver == "postgres" {
		query += ` FOR UPDATE`
	}

	var row dealRow
	err := sqlx.GetContext(ctx, q, &row, s.db.Rebind(query), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errDealNotFound(id)
	}
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorage, "failed to load deal %s", id)
	}
	return row.toDeal()
}

func (s *SQLStore) ListRecentByOwner(ctx context.Context, userID string, limit int) ([]*model.Deal, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var rows []dealRow
	query := s.db.Rebind(`SELECT ` + dealColumns + ` FROM deals WHERE user_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, userID, limit); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "failed to list deals")
	}

	return rowsToDeals(rows)
}

func (s *SQLStore) ListByStatus(ctx context.Context, statuses ...model.Status) ([]*model.Deal, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+dealColumns+` FROM deals WHERE status IN (?)
		ORDER BY created_at ASC, id ASC`, statuses)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to build status query")
	}

	var rows []dealRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "failed to list deals")
	}
	return rowsToDeals(rows)
}

func rowsToDeals(rows []dealRow) ([]*model.Deal, error) {
	deals := make([]*model.Deal, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDeal()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeStorage, "failed to list deals")
		}
		deals = append(deals, d)
	}
	return deals, nil
}

func (s *SQLStore) Update(ctx context.Context, id string, fn func(*model.Deal) error) (*model.Deal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStorage, "failed to begin transaction")
	}
	defer tx.Rollback()

	current, err := s.get(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	next, err := applyUpdate(current, fn, s.now())
	if err != nil {
		return nil, err
	}
	row, err := toRow(next)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "failed to update deal")
	}

	_, err = tx.NamedExecContext(ctx, `UPDATE deals SET filename = :filename, storage_path = :storage_path,
		file_url = :file_url, status = :status, error_message = :error_message, full_text = :full_text,
		extraction_task_id = :extraction_task_id, analysis = :analysis, updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorage, "failed to update deal %s", id)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeStorage, "failed to update deal %s", id)
	}

	s.notify(id, next)
	return next.Clone(), nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM deals WHERE id = ?`), id)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeStorage, "failed to delete deal %s", id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errDealNotFound(id)
	}
	s.notify(id, nil)
	return nil
}

func (s *SQLStore) notify(id string, d *model.Deal) {
	if s.notifier != nil {
		s.notifier.Notify(id, d.Clone())
	}
}
