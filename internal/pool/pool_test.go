package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPushFillsCapacity(t *testing.T) {
	p := New()
	for i := 0; i < Capacity; i++ {
		require.NoError(t, p.Push([]byte{byte(i)}, time.Now(), time.Now(), nil))
	}
	require.Equal(t, Capacity, p.Available())
	require.ErrorIs(t, p.Push([]byte{0xff}, time.Now(), time.Now(), nil), ErrFull)
}

func TestPeekThenRelease(t *testing.T) {
	p := New()
	require.NoError(t, p.Push([]byte("hello"), time.Now(), time.Now(), nil))

	pkt, err := p.PeekNext()
	require.NoError(t, err)
	require.Equal(t, "hello", string(pkt.Data))
	require.Equal(t, 0, p.Available())
	require.Equal(t, 1, p.Blocked())

	n := p.ReleaseFront()
	require.Equal(t, 5, n)
	require.Equal(t, 0, p.Blocked())
}

func TestMoveNextTransfersOwnership(t *testing.T) {
	p := New()
	require.NoError(t, p.Push([]byte("world"), time.Now(), time.Now(), nil))

	owned, err := p.MoveNext()
	require.NoError(t, err)
	require.Equal(t, "world", string(owned.Data))
	require.Equal(t, 1, p.Blocked())

	n := p.ReleaseFront()
	require.Equal(t, 5, n)
}

func TestReleaseFrontEmptyIsNoop(t *testing.T) {
	p := New()
	require.Equal(t, 0, p.ReleaseFront())
}

func TestReleaseSpecificCompacts(t *testing.T) {
	p := New()
	bufs := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc")}
	for _, b := range bufs {
		require.NoError(t, p.Push(b, time.Now(), time.Now(), nil))
	}
	// hand out all three so they're "blocked"
	for range bufs {
		_, err := p.PeekNext()
		require.NoError(t, err)
	}
	require.Equal(t, 3, p.Blocked())

	n := p.ReleaseSpecific(bufs[1])
	require.Equal(t, 2, n)
	require.Equal(t, 2, p.Blocked())

	// the remaining two should still release in original relative order
	require.Equal(t, 1, p.ReleaseFront())
	require.Equal(t, 3, p.ReleaseFront())
}

func TestReleaseSpecificNoMatch(t *testing.T) {
	p := New()
	require.NoError(t, p.Push([]byte("x"), time.Now(), time.Now(), nil))
	require.Equal(t, 0, p.ReleaseSpecific([]byte("y")))
}

func TestWrapAround(t *testing.T) {
	p := New()
	for round := 0; round < 3; round++ {
		for i := 0; i < Capacity; i++ {
			require.NoError(t, p.Push([]byte{byte(i)}, time.Now(), time.Now(), nil))
		}
		for i := 0; i < Capacity; i++ {
			_, err := p.PeekNext()
			require.NoError(t, err)
			require.Equal(t, 1, p.ReleaseFront())
		}
		require.Equal(t, 0, p.Available())
		require.Equal(t, 0, p.Blocked())
	}
}
