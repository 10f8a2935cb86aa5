package persistence_test

import (
	"testing"

	"github.com/dukex/mangotango/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTx struct {
	records  []persistence.Record
	readOnly bool
}

func (tx *memTx) Records() []persistence.Record { return tx.records }

func (tx *memTx) SetRecords(records []persistence.Record) error {
	if tx.readOnly {
		return persistence.ErrReadOnlyTransaction
	}
	tx.records = records

	return nil
}

type item struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func byID(id string) func(*item) bool {
	return func(i *item) bool { return i.ID == id }
}

func TestRecords_CRUD(t *testing.T) {
	tx := &memTx{}

	require.NoError(t, persistence.Insert(tx, "item", &item{ID: "a", Count: 1}))
	require.NoError(t, persistence.Insert(tx, "other", &item{ID: "a", Count: 100}))
	require.NoError(t, persistence.Insert(tx, "item", &item{ID: "b", Count: 2}))

	all, err := persistence.Select[item](tx, "item", nil)
	require.NoError(t, err)
	assert.Equal(t, []*item{{ID: "a", Count: 1}, {ID: "b", Count: 2}}, all)

	n, err := persistence.Update(tx, "item", byID("a"), func(i *item) { i.Count = 10 })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := persistence.First(tx, "item", byID("a"))
	require.NoError(t, err)
	assert.Equal(t, 10, got.Count)

	other, err := persistence.First(tx, "other", byID("a"))
	require.NoError(t, err)
	assert.Equal(t, 100, other.Count)

	n, err = persistence.Delete(tx, "item", byID("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	exists, err := persistence.Exists(tx, "item", byID("a"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Len(t, tx.records, 2)
}

func TestRecords_UpsertIsIdempotent(t *testing.T) {
	tx := &memTx{}

	for range 3 {
		require.NoError(t, persistence.Upsert(tx, "item", &item{ID: "legacy", Count: 7}, byID("legacy")))
	}

	all, err := persistence.Select[item](tx, "item", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRecords_ReadOnlyTransaction(t *testing.T) {
	tx := &memTx{readOnly: true}

	err := persistence.Insert(tx, "item", &item{ID: "a"})
	require.ErrorIs(t, err, persistence.ErrReadOnlyTransaction)

	n, err := persistence.Delete(tx, "item", byID("a"))
	require.NoError(t, err)
	assert.Zero(t, n)
}
