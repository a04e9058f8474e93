package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxonis/xlink/internal/dispatch"
	"github.com/luxonis/xlink/transport"
)

func newTestLink() *dispatch.Link {
	a, _ := transport.LoopbackPair()
	return dispatch.NewLink(0, a, dispatch.Client, 32)
}

func TestAddAssignsSlotAsLinkID(t *testing.T) {
	r := New()
	link := newTestLink()
	id, err := r.Add(link)
	require.NoError(t, err)
	require.Equal(t, id, link.ID)

	got, err := r.Get(id)
	require.NoError(t, err)
	require.Same(t, link, got)
}

func TestAddFailsWhenFull(t *testing.T) {
	r := New()
	for i := 0; i < MaxLinks; i++ {
		_, err := r.Add(newTestLink())
		require.NoError(t, err)
	}
	_, err := r.Add(newTestLink())
	require.ErrorIs(t, err, ErrFull)
}

func TestGetUnknownReturnsErrNotFound(t *testing.T) {
	r := New()
	_, err := r.Get(5)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotifyDownInvokesCallbacksAndRemoves(t *testing.T) {
	r := New()
	link := newTestLink()
	id, err := r.Add(link)
	require.NoError(t, err)

	var got []uint8
	r.AddLinkDownCallback(func(linkID uint8) { got = append(got, linkID) })
	cbID := r.AddLinkDownCallback(func(linkID uint8) { got = append(got, linkID) })

	r.NotifyDown(id)
	require.Equal(t, []uint8{id, id}, got)

	_, err = r.Get(id)
	require.ErrorIs(t, err, ErrNotFound)

	r.RemoveLinkDownCallback(cbID)
	link2 := newTestLink()
	id2, err := r.Add(link2)
	require.NoError(t, err)
	got = nil
	r.NotifyDown(id2)
	require.Equal(t, []uint8{id2}, got, "unregistered callback must not fire")
}

func TestEachVisitsEveryRegisteredLink(t *testing.T) {
	r := New()
	a := newTestLink()
	b := newTestLink()
	_, err := r.Add(a)
	require.NoError(t, err)
	_, err = r.Add(b)
	require.NoError(t, err)

	var seen []*dispatch.Link
	r.Each(func(l *dispatch.Link) { seen = append(seen, l) })
	require.ElementsMatch(t, []*dispatch.Link{a, b}, seen)
}
