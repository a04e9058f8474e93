package streamtbl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenOrUpdateAllocatesFreshID(t *testing.T) {
	tbl := New(DefaultCapacity)
	s1, err := tbl.OpenOrUpdate("rtt", 1024, 0, nil, DefaultCapacity)
	require.NoError(t, err)
	require.NotNil(t, s1)

	s2, err := tbl.OpenOrUpdate("other", 2048, 0, nil, DefaultCapacity)
	require.NoError(t, err)
	require.NotEqual(t, s1.ID(), s2.ID())
}

func TestOpenOrUpdateSameNameUpdatesSize(t *testing.T) {
	tbl := New(DefaultCapacity)
	s1, err := tbl.OpenOrUpdate("rtt", 1024, 0, nil, DefaultCapacity)
	require.NoError(t, err)

	s2, err := tbl.OpenOrUpdate("rtt", 0, 4096, nil, DefaultCapacity)
	require.NoError(t, err)
	require.Equal(t, s1.ID(), s2.ID())
	require.EqualValues(t, 4096, s2.WriteSize())
	require.EqualValues(t, 1024, s2.ReadSize())
}

func TestOpenOrUpdateNameTooLong(t *testing.T) {
	tbl := New(DefaultCapacity)
	_, err := tbl.OpenOrUpdate(strings.Repeat("a", 200), 1, 1, nil, DefaultCapacity)
	require.ErrorIs(t, err, ErrNameTooLong)
}

func TestOpenOrUpdateTableFull(t *testing.T) {
	tbl := New(32)
	for i := 0; i < 32; i++ {
		_, err := tbl.OpenOrUpdate(string(rune('a'+i)), 1, 1, nil, 32)
		require.NoError(t, err)
	}
	_, err := tbl.OpenOrUpdate("overflow", 1, 1, nil, 32)
	require.ErrorIs(t, err, ErrTableFull)
}

func TestForcedID(t *testing.T) {
	tbl := New(DefaultCapacity)
	forced := uint32(77)
	s, err := tbl.OpenOrUpdate("srv", 1024, 0, &forced, DefaultCapacity)
	require.NoError(t, err)
	require.EqualValues(t, 77, s.ID())

	got, err := tbl.GetByID(77)
	require.NoError(t, err)
	require.Same(t, s, got)
}

func TestRemoveFreesSlot(t *testing.T) {
	tbl := New(DefaultCapacity)
	s, err := tbl.OpenOrUpdate("a", 1, 1, nil, DefaultCapacity)
	require.NoError(t, err)
	tbl.Remove(s.ID())

	_, err = tbl.GetByID(s.ID())
	require.ErrorIs(t, err, ErrNotFound)
	_, err = tbl.GetByName("a")
	require.ErrorIs(t, err, ErrNotFound)
}
