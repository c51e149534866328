package database

import (
	"context"
	"errors"

	"contactrecon/internal/models"
)

var (
	// ErrUnavailable wraps any failure to reach or use the underlying store.
	ErrUnavailable = errors.New("contact store unavailable")

	// ErrConflict reports a uniqueness violation, typically from two writers
	// racing to insert the same contact.
	ErrConflict = errors.New("contact store conflict")
)

// Tx is the set of operations the reconciliation engine runs inside one
// transaction. All reads ignore soft-deleted contacts.
type Tx interface {
	// FindMatching returns contacts whose email equals email or whose phone
	// number equals phone. Nil arguments match nothing.
	FindMatching(ctx context.Context, email, phone *string) ([]models.Contact, error)

	// FindCluster returns the contacts with the given ids together with every
	// contact linked to one of them.
	FindCluster(ctx context.Context, rootIDs []int64) ([]models.Contact, error)

	// Insert stores c and returns it with id and timestamps assigned.
	Insert(ctx context.Context, c models.Contact) (models.Contact, error)

	// Link turns every contact in ids into a secondary of primaryID.
	Link(ctx context.Context, ids []int64, primaryID int64) error
}

// Store runs transactions over the persistent contact records. A transaction
// either commits every write made through its Tx or none of them.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
