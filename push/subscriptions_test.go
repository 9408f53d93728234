package push_test

import (
	"path/filepath"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttakeda/minichat/push"
)

func newTestSubs(t *testing.T) *push.SubscriptionStore {
	t.Helper()
	s, err := push.OpenSubscriptionStore(filepath.Join(t.TempDir(), "subscriptions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSubscriptionAddListRemove(t *testing.T) {
	s := newTestSubs(t)

	subs, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, subs)

	require.NoError(t, s.Add(&webpush.Subscription{Endpoint: "https://push.example/a"}))
	require.NoError(t, s.Add(&webpush.Subscription{Endpoint: "https://push.example/b"}))

	subs, err = s.List()
	require.NoError(t, err)
	assert.Len(t, subs, 2)

	require.NoError(t, s.Remove("https://push.example/a"))

	subs, err = s.List()
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example/b", subs[0].Endpoint)

	// Removing an absent endpoint is a no-op.
	assert.NoError(t, s.Remove("https://push.example/gone"))
}

func TestSubscriptionAddIdempotentByEndpoint(t *testing.T) {
	s := newTestSubs(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Add(&webpush.Subscription{Endpoint: "https://push.example/a"}))
	}

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubscriptionRejectsEmptyEndpoint(t *testing.T) {
	s := newTestSubs(t)

	assert.Error(t, s.Add(nil))
	assert.Error(t, s.Add(&webpush.Subscription{}))
}
