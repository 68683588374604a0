package ocrsession

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/pkg/errors"
)

// PgSessionStore is the Postgres-backed store for multi-node
// deployments. It goes through database/sql on top of the pgx driver.
type PgSessionStore struct {
	DB *sql.DB
}

func NewPgSessionStore(db *sql.DB) *PgSessionStore { return &PgSessionStore{DB: db} }

// OpenPg opens and pings a Postgres pool for the session store.
func OpenPg(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

const pgSchema = `
create table if not exists ocr_sessions (
    id            text primary key,
    name          text not null default '',
    category      text not null default 'general',
    status        text not null default 'active',
    combined_text text not null default '',
    applied       boolean not null default false,
    image_count   integer not null default 0,
    created_at    timestamptz not null,
    updated_at    timestamptz not null
);

create table if not exists ocr_images (
    id            text primary key,
    session_id    text not null references ocr_sessions(id) on delete cascade,
    blob_key      text not null,
    order_index   integer not null,
    status        text not null default 'pending',
    extracted_text text not null default '',
    confidence    double precision not null default 0,
    error_message text not null default '',
    created_at    timestamptz not null,
    updated_at    timestamptz not null
);

create index if not exists ocr_images_session_order
    on ocr_images (session_id, order_index);
`

// EnsureSchema creates the backing tables when they are missing.
func (r *PgSessionStore) EnsureSchema(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, pgSchema)
	return err
}

func (r *PgSessionStore) CreateSession(ctx context.Context, session *OcrSession) error {
	if session.ID == "" {
		session.ID = newID()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	const q = `
insert into ocr_sessions (id, name, category, status, combined_text, applied, image_count, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.DB.ExecContext(ctx, q,
		session.ID, session.Name, session.Category, string(session.Status),
		session.CombinedText, session.Applied, session.ImageCount,
		session.CreatedAt, session.UpdatedAt)
	return err
}

func (r *PgSessionStore) GetSession(ctx context.Context, id string) (*OcrSession, error) {
	const q = `
select id, name, category, status, combined_text, applied, image_count, created_at, updated_at
from ocr_sessions
where id = $1`
	session, err := scanSession(r.DB.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "session %s", id)
	}
	return session, err
}

func (r *PgSessionStore) ListSessions(ctx context.Context) ([]*OcrSession, error) {
	const q = `
select id, name, category, status, combined_text, applied, image_count, created_at, updated_at
from ocr_sessions
order by created_at desc`
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*OcrSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, session)
	}
	return out, rows.Err()
}

func (r *PgSessionStore) UpdateSession(ctx context.Context, session *OcrSession) error {
	session.UpdatedAt = time.Now().UTC()

	const q = `
update ocr_sessions
set name = $2, category = $3, status = $4, combined_text = $5,
    applied = $6, image_count = $7, updated_at = $8
where id = $1`
	res, err := r.DB.ExecContext(ctx, q,
		session.ID, session.Name, session.Category, string(session.Status),
		session.CombinedText, session.Applied, session.ImageCount, session.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "session %s", session.ID)
}

func (r *PgSessionStore) DeleteSession(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `delete from ocr_sessions where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "session %s", id)
}

func (r *PgSessionStore) AddImage(ctx context.Context, unit *ImageUnit) error {
	if unit.ID == "" {
		unit.ID = newID()
	}
	now := time.Now().UTC()
	unit.CreatedAt = now
	unit.UpdatedAt = now

	const q = `
insert into ocr_images (id, session_id, blob_key, order_index, status, extracted_text, confidence, error_message, created_at, updated_at)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.DB.ExecContext(ctx, q,
		unit.ID, unit.SessionID, unit.BlobKey, unit.OrderIndex, string(unit.Status),
		unit.Text, unit.Confidence, unit.ErrorMessage, unit.CreatedAt, unit.UpdatedAt)
	return err
}

func (r *PgSessionStore) GetImage(ctx context.Context, id string) (*ImageUnit, error) {
	const q = `
select id, session_id, blob_key, order_index, status, extracted_text, confidence, error_message, created_at, updated_at
from ocr_images
where id = $1`
	unit, err := scanImage(r.DB.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "image %s", id)
	}
	return unit, err
}

func (r *PgSessionStore) ListImages(ctx context.Context, sessionID string) ([]*ImageUnit, error) {
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	const q = `
select id, session_id, blob_key, order_index, status, extracted_text, confidence, error_message, created_at, updated_at
from ocr_images
where session_id = $1
order by order_index asc`
	rows, err := r.DB.QueryContext(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]*ImageUnit, 0)
	for rows.Next() {
		unit, err := scanImage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

func (r *PgSessionStore) UpdateImage(ctx context.Context, unit *ImageUnit) error {
	unit.UpdatedAt = time.Now().UTC()

	const q = `
update ocr_images
set blob_key = $2, order_index = $3, status = $4, extracted_text = $5,
    confidence = $6, error_message = $7, updated_at = $8
where id = $1`
	res, err := r.DB.ExecContext(ctx, q,
		unit.ID, unit.BlobKey, unit.OrderIndex, string(unit.Status),
		unit.Text, unit.Confidence, unit.ErrorMessage, unit.UpdatedAt)
	if err != nil {
		return err
	}
	return requireRow(res, "image %s", unit.ID)
}

func (r *PgSessionStore) DeleteImage(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `delete from ocr_images where id = $1`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "image %s", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*OcrSession, error) {
	var (
		session OcrSession
		status  string
	)
	err := row.Scan(&session.ID, &session.Name, &session.Category, &status,
		&session.CombinedText, &session.Applied, &session.ImageCount,
		&session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		return nil, err
	}
	session.Status = SessionStatus(status)
	return &session, nil
}

func scanImage(row rowScanner) (*ImageUnit, error) {
	var (
		unit   ImageUnit
		status string
	)
	err := row.Scan(&unit.ID, &unit.SessionID, &unit.BlobKey, &unit.OrderIndex,
		&status, &unit.Text, &unit.Confidence, &unit.ErrorMessage,
		&unit.CreatedAt, &unit.UpdatedAt)
	if err != nil {
		return nil, err
	}
	unit.Status = UnitStatus(status)
	return &unit, nil
}

func requireRow(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.Wrapf(ErrNotFound, format, args...)
	}
	return nil
}
