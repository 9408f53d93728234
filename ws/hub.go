package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/ttakeda/minichat/auth"
	"github.com/ttakeda/minichat/metrics"
	"github.com/ttakeda/minichat/store"
)

// Notifier receives every accepted new message for push fan-out. Delivery is
// fire-and-forget relative to the broadcast path.
type Notifier interface {
	NotifyNewMessage(msg store.Message)
}

// NopNotifier drops notifications. Used when push is not configured.
type NopNotifier struct{}

func (NopNotifier) NotifyNewMessage(msg store.Message) {}

// Hub is the session gateway: it authenticates handshakes, owns the live
// session registry, routes inbound events through the ChatApi, and fans the
// resulting state changes out to every connection.
type Hub struct {
	api        *ChatApi
	authClient auth.Client
	notifier   Notifier
	sessions   *SessionStore

	// eventMu serializes every mutate-then-broadcast step: no other event
	// may interleave between a store rewrite and the fan-out of its
	// result, so all connections observe one canonical order.
	eventMu sync.Mutex
}

func NewHub(authClient auth.Client, api *ChatApi, notifier Notifier) *Hub {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Hub{
		api:        api,
		authClient: authClient,
		notifier:   notifier,
		sessions:   newSessionStore(),
	}
}

// Run blocks until ctx is cancelled, then closes every live session.
func (h *Hub) Run(ctx context.Context, stopDoneNotifyC chan<- struct{}) {
	<-ctx.Done()
	glog.Infof("close connections ...")
	h.sessions.close()
	glog.Infof("close connections done")
	stopDoneNotifyC <- struct{}{}
}

// ServeHTTP handles websocket requests from the peer. A connection that
// fails the entry secret check is rejected before the upgrade and never
// processes further events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.authClient.Auth(r); err != nil {
		glog.Errorf("ServeHTTP(): authenticate error: %v", err)
		metrics.AuthRejected.Inc()
		http.Error(w, "Authenticate error", http.StatusForbidden)
		return
	}

	sid := strings.ReplaceAll(uuid.New(), "-", "")

	// If the upgrade fails, Upgrade replies to the client with an HTTP
	// error response.
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("ServeHTTP(): upgrader.Upgrade error, sid: %s, err: %v", sid, err)
		return
	}

	handler := &Handler{
		dataChan: make(chan *SessionData, 16),
		sid:      sid,
		conn:     conn,
		hub:      h,
	}

	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("session closed by peer, session: %s, code: %d, text: %s", handler, code, text)
		h.delHandler(sid)
		return nil
	})

	h.addHandler(handler)

	// The authenticated connection alone receives the history snapshot.
	handler.appendDataChan(&SessionData{Msg: &ServerMsg{
		History: &History{Messages: h.api.Snapshot()},
	}})

	go handler.recvLoop()
	go handler.sendLoop()
}

func (h *Hub) addHandler(handler *Handler) {
	h.sessions.add(handler)
	metrics.SessionsActive.Inc()
	glog.V(5).Infof("session registered: %s", handler)
}

func (h *Hub) delHandler(sid string) {
	if h.sessions.del(sid) {
		metrics.SessionsActive.Dec()
		// A leave changes the presence list for everyone remaining.
		h.broadcastPresence()
	}
}

// post appends the canonical message, echoes it to every connection (the
// sender included; the echo is the sender's one source of ordering) and
// hands it to the notifier. Store failure suppresses both.
func (h *Hub) post(identity *auth.UserInfo, req *PostReq) *Error {
	h.eventMu.Lock()
	msg, errMsg := h.api.Post(identity, req)
	if msg != nil {
		h.broadcast(&ServerMsg{Message: msg})
	}
	h.eventMu.Unlock()

	if msg != nil {
		h.notifier.NotifyNewMessage(*msg)
	}
	return errMsg
}

func (h *Hub) delete(identity *auth.UserInfo, req *DeleteReq) *Error {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()

	removed, errMsg := h.api.Delete(identity, req)
	if removed {
		h.broadcast(&ServerMsg{Deleted: &Deleted{Id: req.Id}})
	}
	return errMsg
}

func (h *Hub) adminClear(req *AdminClearReq) *Error {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()

	cleared, errMsg := h.api.AdminClear(req)
	if cleared {
		h.broadcast(&ServerMsg{Cleared: &Cleared{}})
	}
	return errMsg
}

// broadcast queues msg on every live session, the originator included.
func (h *Hub) broadcast(msg *ServerMsg) {
	for _, handler := range h.sessions.all() {
		handler.appendDataChan(&SessionData{Msg: msg})
	}
}

func (h *Hub) broadcastPresence() {
	h.eventMu.Lock()
	defer h.eventMu.Unlock()
	h.broadcast(&ServerMsg{Presence: &Presence{Users: h.sessions.identities()}})
}
