package push

import (
	"encoding/json"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/golang/glog"

	"github.com/ttakeda/minichat/metrics"
	"github.com/ttakeda/minichat/store"
)

// Sender performs one delivery attempt against one subscription.
type Sender interface {
	Send(sub *webpush.Subscription, payload []byte) error
}

// VapidConf holds the web push signing configuration.
type VapidConf struct {
	Subject    string
	PublicKey  string
	PrivateKey string
}

// WebpushSender delivers via the Web Push protocol with VAPID auth.
type WebpushSender struct {
	conf VapidConf
}

func NewWebpushSender(conf VapidConf) *WebpushSender {
	return &WebpushSender{conf: conf}
}

func (s *WebpushSender) Send(sub *webpush.Subscription, payload []byte) error {
	resp, err := webpush.SendNotification(payload, sub, &webpush.Options{
		Subscriber:      s.conf.Subject,
		VAPIDPublicKey:  s.conf.PublicKey,
		VAPIDPrivateKey: s.conf.PrivateKey,
		TTL:             60,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return &statusError{code: resp.StatusCode}
	}
	return nil
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return http.StatusText(e.code)
}

// Payload is what subscribers receive for a new message.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Time  int64  `json:"time"`
}

// Dispatcher fans a new-message notification out to all stored
// subscriptions. Dispatch runs decoupled from the broadcast path; a dead
// endpoint is pruned permanently on its first failed delivery and never
// blocks delivery to the others.
type Dispatcher struct {
	subs   *SubscriptionStore
	sender Sender
	title  string
}

func NewDispatcher(subs *SubscriptionStore, sender Sender, title string) *Dispatcher {
	return &Dispatcher{
		subs:   subs,
		sender: sender,
		title:  title,
	}
}

// NotifyNewMessage queues one fan-out cycle and returns immediately.
// Overlapping cycles from back-to-back posts are fine: each cycle works on
// its own subscription snapshot.
func (d *Dispatcher) NotifyNewMessage(msg store.Message) {
	payload, err := json.Marshal(&Payload{
		Title: d.title,
		Body:  msg.Name + ": " + msg.Text,
		Time:  msg.Time,
	})
	if err != nil {
		glog.Errorf("push: marshal payload: %v", err)
		return
	}

	go d.dispatch(payload)
}

func (d *Dispatcher) dispatch(payload []byte) {
	subs, err := d.subs.List()
	if err != nil {
		glog.Errorf("push: list subscriptions: %v", err)
		return
	}

	for _, sub := range subs {
		if err := d.sender.Send(sub, payload); err != nil {
			glog.V(5).Infof("push: delivery to `%s` failed, pruning: %v", sub.Endpoint, err)
			if err := d.subs.Remove(sub.Endpoint); err != nil {
				glog.Errorf("push: prune `%s`: %v", sub.Endpoint, err)
			}
			metrics.PushPruned.Inc()
			continue
		}
		metrics.PushDelivered.Inc()
	}
}
