package leveldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamer/datamodel/peer"
)

func newBook(t *testing.T) *AddressBook {
	t.Helper()
	book, err := NewAddressBook(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { book.Close() })
	return book
}

func TestPutGet(t *testing.T) {
	book := newBook(t)
	addr := peer.NewAddress("alice-pc", 55555)
	added := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, book.Put(&peer.BookEntry{Address: addr, Label: "Alice", Added: added}))

	e, err := book.Get(addr)
	require.NoError(t, err)
	assert.Equal(t, addr, e.Address)
	assert.Equal(t, "Alice", e.Label)
	assert.True(t, added.Equal(e.Added))

	_, err = book.Get(peer.NewAddress("nobody", 1))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutSetsAddedTime(t *testing.T) {
	book := newBook(t)
	entry := &peer.BookEntry{Address: peer.NewAddress("10.0.0.1", 55555)}
	require.NoError(t, book.Put(entry))
	assert.False(t, entry.Added.IsZero())
}

func TestEnumerateAndDelete(t *testing.T) {
	book := newBook(t)
	a := peer.NewAddress("10.0.0.1", 55555)
	b := peer.NewAddress("10.0.0.2", 55555)
	require.NoError(t, book.Put(&peer.BookEntry{Address: b}))
	require.NoError(t, book.Put(&peer.BookEntry{Address: a}))

	entries, err := book.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, a, entries[0].Address)
	assert.Equal(t, b, entries[1].Address)

	require.NoError(t, book.Delete(a))
	require.NoError(t, book.Delete(a))

	entries, err = book.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, b, entries[0].Address)
}

func TestReopenKeepsEntries(t *testing.T) {
	dir := t.TempDir()
	book, err := NewAddressBook(dir)
	require.NoError(t, err)
	require.NoError(t, book.Put(&peer.BookEntry{Address: peer.NewAddress("bob", 4000)}))
	require.NoError(t, book.Close())

	book, err = NewAddressBook(dir)
	require.NoError(t, err)
	defer book.Close()

	entries, err := book.Enumerate()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, peer.NewAddress("bob", 4000), entries[0].Address)
}
