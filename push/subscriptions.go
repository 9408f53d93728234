package push

import (
	"encoding/json"
	"fmt"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.etcd.io/bbolt"
)

var bucketSubscriptions = []byte("subscriptions")

// SubscriptionStore keeps push delivery endpoints in a bbolt bucket keyed by
// endpoint URL, so subscriptions survive restarts. A subscription lives from
// the subscribe request until its first failed delivery.
type SubscriptionStore struct {
	db *bbolt.DB
}

func OpenSubscriptionStore(path string) (*SubscriptionStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open subscription db `%s`: %v", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSubscriptions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init subscription bucket: %v", err)
	}

	return &SubscriptionStore{db: db}, nil
}

func (s *SubscriptionStore) Close() error {
	return s.db.Close()
}

// Add stores the subscription, keyed by endpoint. Re-subscribing with the
// same endpoint overwrites rather than duplicates.
func (s *SubscriptionStore) Add(sub *webpush.Subscription) error {
	if sub == nil || sub.Endpoint == "" {
		return fmt.Errorf("subscription: endpoint is required")
	}

	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("subscription: marshal: %v", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Put([]byte(sub.Endpoint), raw)
	})
}

// List returns a snapshot of all stored subscriptions. Entries that no
// longer parse are skipped and removed lazily on their next failed delivery.
func (s *SubscriptionStore) List() ([]*webpush.Subscription, error) {
	var out []*webpush.Subscription

	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).ForEach(func(k, v []byte) error {
			var sub webpush.Subscription
			if err := json.Unmarshal(v, &sub); err != nil {
				return nil
			}
			out = append(out, &sub)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SubscriptionStore) Remove(endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSubscriptions).Delete([]byte(endpoint))
	})
}

func (s *SubscriptionStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketSubscriptions).Stats().KeyN
		return nil
	})
	return n, err
}
