package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"contactrecon/internal/models"

	"go.uber.org/zap"
)

// reconcileLockKey is the postgres advisory lock serialising reconciliations
const reconcileLockKey int64 = 0x636f6e74616374

const contactColumns = `id, phone_number, email, linked_id, link_precedence, created_at, updated_at, deleted_at`

// SQLStore is a Store backed by a DB
type SQLStore struct {
	db  *DB
	now func() time.Time
}

// NewSQLStore creates a store over db
func NewSQLStore(db *DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Ping checks the connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return classify("ping", s.db.Conn.PingContext(ctx))
}

// Close closes the underlying DB
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// RunInTx runs fn inside a transaction that is serialised against every other
// RunInTx on the same database
func (s *SQLStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	sqlTx, err := s.db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin transaction", err)
	}

	if s.db.Dialect == Postgres {
		if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, reconcileLockKey); err != nil {
			s.rollback(sqlTx)
			return classify("acquire reconcile lock", err)
		}
	}

	if err := fn(&sqlTxn{tx: sqlTx, now: s.now}); err != nil {
		s.rollback(sqlTx)
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return classify("commit transaction", err)
	}
	return nil
}

func (s *SQLStore) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		s.db.logger.Warn("rollback failed", zap.Error(err))
	}
}

type sqlTxn struct {
	tx  *sql.Tx
	now func() time.Time
}

// FindMatching finds all non-deleted contacts sharing the email or phone number
func (t *sqlTxn) FindMatching(ctx context.Context, email, phone *string) ([]models.Contact, error) {
	if email == nil && phone == nil {
		return nil, nil
	}
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE deleted_at IS NULL AND (email = $1 OR phone_number = $2)
			  ORDER BY created_at, id`
	contacts, err := t.queryContacts(ctx, query, email, phone)
	if err != nil {
		return nil, classify("find matching contacts", err)
	}
	return contacts, nil
}

// FindCluster gets the given primaries and every contact linked to them
func (t *sqlTxn) FindCluster(ctx context.Context, rootIDs []int64) ([]models.Contact, error) {
	if len(rootIDs) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(rootIDs))
	args := make([]any, len(rootIDs))
	for i, id := range rootIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	in := strings.Join(placeholders, ", ")
	query := `SELECT ` + contactColumns + `
			  FROM contacts
			  WHERE deleted_at IS NULL AND (id IN (` + in + `) OR linked_id IN (` + in + `))
			  ORDER BY created_at, id`
	contacts, err := t.queryContacts(ctx, query, args...)
	if err != nil {
		return nil, classify("find cluster", err)
	}
	return contacts, nil
}

// Insert creates a new contact row
func (t *sqlTxn) Insert(ctx context.Context, c models.Contact) (models.Contact, error) {
	if err := c.Validate(); err != nil {
		return models.Contact{}, err
	}
	query := `INSERT INTO contacts (phone_number, email, linked_id, link_precedence, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`

	now := t.now().UTC()
	var id int64
	err := t.tx.QueryRowContext(ctx, query, c.PhoneNumber, c.Email, c.LinkedID, c.LinkPrecedence, now, now).Scan(&id)
	if err != nil {
		return models.Contact{}, classify("insert contact", err)
	}

	c.ID = id
	c.CreatedAt = now
	c.UpdatedAt = now
	c.DeletedAt = nil
	return c, nil
}

// Link updates link_precedence and linked_id for every contact in ids
func (t *sqlTxn) Link(ctx context.Context, ids []int64, primaryID int64) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []any{models.Secondary, primaryID, t.now().UTC()}
	for i, id := range ids {
		if id == primaryID {
			return fmt.Errorf("contact %d cannot link to itself", id)
		}
		placeholders[i] = fmt.Sprintf("$%d", i+4)
		args = append(args, id)
	}
	query := `UPDATE contacts SET link_precedence = $1, linked_id = $2, updated_at = $3
			  WHERE deleted_at IS NULL AND id IN (` + strings.Join(placeholders, ", ") + `)`
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("link contacts", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("link contacts", err)
	}
	if n != int64(len(ids)) {
		return fmt.Errorf("link contacts: updated %d of %d rows: %w", n, len(ids), ErrConflict)
	}
	return nil
}

// queryContacts executes a query and returns contacts
func (t *sqlTxn) queryContacts(ctx context.Context, query string, args ...any) ([]models.Contact, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		var phone, email sql.NullString
		var linkedID sql.NullInt64
		var deletedAt sql.NullTime

		err := rows.Scan(&c.ID, &phone, &email, &linkedID, &c.LinkPrecedence, &c.CreatedAt, &c.UpdatedAt, &deletedAt)
		if err != nil {
			return nil, err
		}

		if phone.Valid {
			c.PhoneNumber = &phone.String
		}
		if email.Valid {
			c.Email = &email.String
		}
		if linkedID.Valid {
			c.LinkedID = &linkedID.Int64
		}
		if deletedAt.Valid {
			c.DeletedAt = &deletedAt.Time
		}

		contacts = append(contacts, c)
	}

	return contacts, rows.Err()
}
