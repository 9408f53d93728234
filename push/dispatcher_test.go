package push_test

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttakeda/minichat/push"
	"github.com/ttakeda/minichat/push/mock"
	"github.com/ttakeda/minichat/store"
)

func TestDispatchPayload(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	subs, err := push.OpenSubscriptionStore(filepath.Join(t.TempDir(), "subs.db"))
	require.NoError(t, err)
	defer subs.Close()
	require.NoError(t, subs.Add(&webpush.Subscription{Endpoint: "https://push.example/a"}))

	sender := mock.NewMockSender(mockCtrl)

	done := make(chan []byte, 1)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(sub *webpush.Subscription, payload []byte) error {
			done <- payload
			return nil
		}).Times(1)

	d := push.NewDispatcher(subs, sender, "New message")
	d.NotifyNewMessage(store.Message{Name: "Alice", Text: "hi", Time: 1234})

	select {
	case raw := <-done:
		var p push.Payload
		require.NoError(t, json.Unmarshal(raw, &p))
		assert.Equal(t, "New message", p.Title)
		assert.Equal(t, "Alice: hi", p.Body)
		assert.EqualValues(t, 1234, p.Time)
	case <-time.After(3 * time.Second):
		t.Fatal("no delivery attempt")
	}
}

func TestDispatchPrunesFailedSubscription(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	subs, err := push.OpenSubscriptionStore(filepath.Join(t.TempDir(), "subs.db"))
	require.NoError(t, err)
	defer subs.Close()

	require.NoError(t, subs.Add(&webpush.Subscription{Endpoint: "https://push.example/dead"}))
	require.NoError(t, subs.Add(&webpush.Subscription{Endpoint: "https://push.example/live-1"}))
	require.NoError(t, subs.Add(&webpush.Subscription{Endpoint: "https://push.example/live-2"}))

	var mu sync.Mutex
	delivered := make(map[string]bool)
	var wg sync.WaitGroup
	wg.Add(3)

	sender := mock.NewMockSender(mockCtrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(sub *webpush.Subscription, payload []byte) error {
			defer wg.Done()
			if sub.Endpoint == "https://push.example/dead" {
				return errors.New("410 gone")
			}
			mu.Lock()
			delivered[sub.Endpoint] = true
			mu.Unlock()
			return nil
		}).Times(3)

	d := push.NewDispatcher(subs, sender, "New message")
	d.NotifyNewMessage(store.Message{Name: "Alice", Text: "hi"})

	waitTimeout(t, &wg, 3*time.Second)

	// One failing endpoint does not block the other deliveries of the
	// same cycle, and is gone from the registry afterwards.
	mu.Lock()
	assert.True(t, delivered["https://push.example/live-1"])
	assert.True(t, delivered["https://push.example/live-2"])
	mu.Unlock()

	remaining, err := subs.List()
	require.NoError(t, err)
	endpoints := make([]string, 0, len(remaining))
	for _, s := range remaining {
		endpoints = append(endpoints, s.Endpoint)
	}
	assert.ElementsMatch(t,
		[]string{"https://push.example/live-1", "https://push.example/live-2"}, endpoints)
}

func TestOverlappingDispatchCycles(t *testing.T) {
	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	subs, err := push.OpenSubscriptionStore(filepath.Join(t.TempDir(), "subs.db"))
	require.NoError(t, err)
	defer subs.Close()
	require.NoError(t, subs.Add(&webpush.Subscription{Endpoint: "https://push.example/a"}))

	const cycles = 5
	var wg sync.WaitGroup
	wg.Add(cycles)

	sender := mock.NewMockSender(mockCtrl)
	sender.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(
		func(sub *webpush.Subscription, payload []byte) error {
			wg.Done()
			return nil
		}).Times(cycles)

	d := push.NewDispatcher(subs, sender, "New message")
	for i := 0; i < cycles; i++ {
		d.NotifyNewMessage(store.Message{Name: "Alice", Text: "hi"})
	}

	waitTimeout(t, &wg, 3*time.Second)
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("timed out waiting for dispatch")
	}
}
