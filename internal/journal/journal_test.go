package journal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/klingdrop/internal/storage"
)

func newTestJournal(t *testing.T) (*Journal, *time.Time) {
	t.Helper()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	j := New(storage.NewMemory())
	j.now = func() time.Time { return now }
	return j, &now
}

func TestRecordID(t *testing.T) {
	id := RecordID("funder", "b", 0)
	assert.Len(t, id, 64)
	assert.Equal(t, id, RecordID("funder", "b", 0))
	assert.NotEqual(t, id, RecordID("funder", "b", 1))
	assert.NotEqual(t, id, RecordID("funder2", "b", 0))
	// The separator keeps field boundaries distinct.
	assert.NotEqual(t, RecordID("ab", "c", 0), RecordID("a", "bc", 0))
}

func TestJournal_PutGet(t *testing.T) {
	j, _ := newTestJournal(t)

	rec := &Record{
		FundingAddress: "funder",
		Receiver:       "receiver",
		TxID:           "b",
		DropSats:       546,
		ChangeSats:     899228,
		State:          StateSubmitted,
	}
	require.NoError(t, j.Put(rec))
	assert.Equal(t, RecordID("funder", "b", 0), rec.ID)

	got, err := j.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Receiver, got.Receiver)
	assert.Equal(t, int64(899228), got.ChangeSats)
	assert.Equal(t, StateSubmitted, got.State)
	assert.True(t, got.CreatedAt.Equal(rec.CreatedAt))
}

func TestJournal_GetMissing(t *testing.T) {
	j, _ := newTestJournal(t)
	_, err := j.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJournal_UpdateKeepsCreatedAt(t *testing.T) {
	j, now := newTestJournal(t)
	created := *now

	require.NoError(t, j.Put(&Record{FundingAddress: "f", TxID: "t", State: StateSubmitted}))

	*now = now.Add(time.Minute)
	require.NoError(t, j.Put(&Record{FundingAddress: "f", TxID: "t", State: StateSigned, Result: "0100"}))

	got, err := j.Get(RecordID("f", "t", 0))
	require.NoError(t, err)
	assert.Equal(t, StateSigned, got.State)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.True(t, got.UpdatedAt.Equal(created.Add(time.Minute)))
}

func TestJournal_List(t *testing.T) {
	j, _ := newTestJournal(t)
	require.NoError(t, j.Put(&Record{FundingAddress: "a", TxID: "1", State: StateSigned}))
	require.NoError(t, j.Put(&Record{FundingAddress: "b", TxID: "2", State: StateFailed}))

	// Unrelated keys in the same database are ignored.
	require.NoError(t, j.db.Put([]byte("other/x"), []byte("junk")))

	recs, err := j.List()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Less(t, recs[0].ID, recs[1].ID)
}

func TestJournal_Badger(t *testing.T) {
	db, err := storage.NewBadger(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	j := New(storage.NewPrefixDB(db, []byte("testnet/")))
	require.NoError(t, j.Put(&Record{FundingAddress: "f", TxID: "t", State: StateBroadcast}))

	recs, err := j.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StateBroadcast, recs[0].State)
}
