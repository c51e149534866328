package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"contactrecon/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func steppingClock() func() time.Time {
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func TestMemoryStoreInsertAssignsIDsAndTimestamps(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithClock(steppingClock()))

	var first, second models.Contact
	err := s.RunInTx(ctx, func(tx Tx) error {
		var err error
		first, err = tx.Insert(ctx, models.Contact{Email: strPtr("a@x.com"), LinkPrecedence: models.Primary})
		if err != nil {
			return err
		}
		second, err = tx.Insert(ctx, models.Contact{Email: strPtr("a@x.com"), PhoneNumber: strPtr("555"), LinkedID: &first.ID, LinkPrecedence: models.Secondary})
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.True(t, first.CreatedAt.Before(second.CreatedAt))
	assert.Equal(t, first.CreatedAt, first.UpdatedAt)
	assert.Len(t, s.Contacts(), 2)
}

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(tx Tx) error {
		if _, err := tx.Insert(ctx, models.Contact{Email: strPtr("a@x.com"), LinkPrecedence: models.Primary}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, s.Contacts())

	// ids handed out by a rolled back transaction are reused
	err = s.RunInTx(ctx, func(tx Tx) error {
		c, err := tx.Insert(ctx, models.Contact{Email: strPtr("b@x.com"), LinkPrecedence: models.Primary})
		assert.Equal(t, int64(1), c.ID)
		return err
	})
	require.NoError(t, err)
}

func TestMemoryStoreRejectsDuplicatePairs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	insert := func(email, phone *string) error {
		return s.RunInTx(ctx, func(tx Tx) error {
			_, err := tx.Insert(ctx, models.Contact{Email: email, PhoneNumber: phone, LinkPrecedence: models.Primary})
			return err
		})
	}

	require.NoError(t, insert(strPtr("a@x.com"), nil))
	assert.ErrorIs(t, insert(strPtr("a@x.com"), nil), ErrConflict)
	require.NoError(t, insert(strPtr("a@x.com"), strPtr("555")))

	require.NoError(t, s.MarkDeleted(1))
	assert.NoError(t, insert(strPtr("a@x.com"), nil), "deleted contacts do not block a new pair")
}

func TestMemoryStoreFindMatchingAndCluster(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithClock(steppingClock()))

	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		a, err := tx.Insert(ctx, models.Contact{Email: strPtr("a@x.com"), PhoneNumber: strPtr("111"), LinkPrecedence: models.Primary})
		require.NoError(t, err)
		_, err = tx.Insert(ctx, models.Contact{Email: strPtr("c@x.com"), PhoneNumber: strPtr("111"), LinkedID: &a.ID, LinkPrecedence: models.Secondary})
		require.NoError(t, err)
		_, err = tx.Insert(ctx, models.Contact{Email: strPtr("b@x.com"), LinkPrecedence: models.Primary})
		return err
	}))
	require.NoError(t, s.MarkDeleted(3))

	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		matches, err := tx.FindMatching(ctx, strPtr("c@x.com"), nil)
		require.NoError(t, err)
		require.Len(t, matches, 1)
		assert.Equal(t, int64(2), matches[0].ID)

		matches, err = tx.FindMatching(ctx, strPtr("b@x.com"), strPtr("111"))
		require.NoError(t, err)
		assert.Len(t, matches, 2, "deleted contact 3 is ignored")

		matches, err = tx.FindMatching(ctx, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, matches)

		cluster, err := tx.FindCluster(ctx, []int64{1})
		require.NoError(t, err)
		require.Len(t, cluster, 2)
		assert.Equal(t, int64(1), cluster[0].ID)
		assert.Equal(t, int64(2), cluster[1].ID)
		return nil
	}))
}

func TestMemoryStoreLink(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(WithClock(steppingClock()))

	require.NoError(t, s.RunInTx(ctx, func(tx Tx) error {
		_, err := tx.Insert(ctx, models.Contact{Email: strPtr("a@x.com"), LinkPrecedence: models.Primary})
		require.NoError(t, err)
		_, err = tx.Insert(ctx, models.Contact{Email: strPtr("b@x.com"), LinkPrecedence: models.Primary})
		require.NoError(t, err)
		return tx.Link(ctx, []int64{2}, 1)
	}))

	contacts := s.Contacts()
	require.Len(t, contacts, 2)
	assert.Equal(t, models.Secondary, contacts[1].LinkPrecedence)
	require.NotNil(t, contacts[1].LinkedID)
	assert.Equal(t, int64(1), *contacts[1].LinkedID)
	assert.True(t, contacts[1].UpdatedAt.After(contacts[1].CreatedAt))

	err := s.RunInTx(ctx, func(tx Tx) error { return tx.Link(ctx, []int64{42}, 1) })
	assert.ErrorIs(t, err, ErrConflict)

	err = s.RunInTx(ctx, func(tx Tx) error { return tx.Link(ctx, []int64{1}, 1) })
	assert.Error(t, err)
}

func TestMemoryStoreHonoursCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryStore().RunInTx(ctx, func(tx Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
