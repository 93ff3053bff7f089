package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"dex/domain/orderbook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type openEscrow struct{}

func (openEscrow) Transfer(context.Context, ...orderbook.Transfer) error { return nil }

func TestWriteLoadRoundTrip(t *testing.T) {
	book, err := orderbook.NewOrderBook("admin", 16)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = book.Place(ctx, "alice", orderbook.Buy, 10, 100, openEscrow{})
	require.NoError(t, err)
	id, err := book.Place(ctx, "bob", orderbook.Sell, 4, 90, openEscrow{})
	require.NoError(t, err)
	_, err = book.Place(ctx, "bob", orderbook.Sell, 3, 95, openEscrow{})
	require.NoError(t, err)
	_, err = book.Cancel(ctx, "bob", id, openEscrow{})
	require.NoError(t, err)
	_, err = book.Match(ctx, "admin", openEscrow{})
	require.NoError(t, err)

	w := &Writer{Dir: filepath.Join(t.TempDir(), "snap")}
	require.NoError(t, w.Write(Capture(42, book)))

	s, err := Load(w.Path())
	require.NoError(t, err)
	assert.Equal(t, uint64(42), s.Seq)
	assert.Equal(t, "admin", s.Authority)

	restored, err := s.Book(16)
	require.NoError(t, err)
	assert.Equal(t, book.NextID(), restored.NextID())
	assert.Equal(t, book.Orders(), restored.Orders())
}

func TestWriteReplacesPrevious(t *testing.T) {
	book, err := orderbook.NewOrderBook("admin", 4)
	require.NoError(t, err)
	w := &Writer{Dir: t.TempDir()}

	require.NoError(t, w.Write(Capture(1, book)))
	require.NoError(t, w.Write(Capture(2, book)))

	s, err := Load(w.Path())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Seq)

	entries, err := os.ReadDir(w.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.bin"))
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestBookRejectsCorruptImage(t *testing.T) {
	s := &Snapshot{
		Authority: "admin",
		NextID:    1,
		Orders: []OrderEntry{
			{ID: 5, Owner: "alice", Side: uint8(orderbook.Buy), Amount: 1, Price: 1},
		},
	}
	_, err := s.Book(8)
	assert.ErrorIs(t, err, orderbook.ErrCorruptBook)
}
