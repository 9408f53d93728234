package ws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/ttakeda/minichat/auth"
)

type SessionError int

const (
	ReadError  SessionError = 1
	WriteError SessionError = 2
	PingError  SessionError = 3
	BadRequest SessionError = 4
	ServerStop SessionError = 5
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 3 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = 20 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 25 * time.Second

	// websocket max message size to read. Avatars are data URLs, so this
	// has to be generous.
	readLimit = 256 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The entry secret is the gate; origin is not.
		return true
	},
}

// Handler manages one active connection. Every websocket connection gets its
// own session id; the identity is nil until the peer joins.
type Handler struct {
	sync.Mutex

	hub  *Hub
	sid  string
	conn *websocket.Conn

	dataChan chan *SessionData

	identity *auth.UserInfo
	closing  bool
}

// SessionData is the data structure for `dataChan`.
type SessionData struct {
	Error SessionError `json:"error,omitempty"`
	Msg   *ServerMsg   `json:"msg,omitempty"`
}

func (h *Handler) String() string {
	h.Lock()
	defer h.Unlock()
	if h.identity == nil {
		return fmt.Sprintf("sid=%s (not joined)", h.sid)
	}
	return fmt.Sprintf("sid=%s uid=%s name=%s", h.sid, h.identity.UserId, h.identity.Name)
}

func (h *Handler) getIdentity() *auth.UserInfo {
	h.Lock()
	defer h.Unlock()
	return h.identity
}

func (h *Handler) setIdentity(id *auth.UserInfo) {
	h.Lock()
	h.identity = id
	h.Unlock()
}

func (h *Handler) close(cause SessionError) {
	h.Lock()
	if h.closing {
		h.Unlock()
		return
	}
	h.closing = true

	h.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = h.conn.WriteMessage(websocket.CloseMessage, []byte{})
	h.conn.Close()

	close(h.dataChan)
	h.Unlock()

	if cause != ServerStop {
		glog.V(5).Infof("session closed, cause: %d, %s", cause, h)
		// Ask the hub to drop this session and re-broadcast presence.
		h.hub.delHandler(h.sid)
	}
}

func (h *Handler) appendDataChan(v *SessionData) {
	h.Lock()
	defer h.Unlock()
	if h.closing {
		return
	}
	select {
	case h.dataChan <- v:
	default:
		// The peer stopped draining; dropping here keeps one dead
		// session from stalling the hub. The ping timeout reaps the
		// session shortly after.
		glog.V(5).Infof("appendDataChan(): chan full, dropping, session: %s", h.sid)
	}
}

func sendServerMsg(conn *websocket.Conn, msg *ServerMsg) error {
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, out)
}

func (h *Handler) isClosing() bool {
	h.Lock()
	defer h.Unlock()
	return h.closing
}

func (h *Handler) recvLoop() {
	defer func() { glog.V(5).Infof("recvLoop(): exited, session: %s", h) }()

	h.conn.SetReadLimit(readLimit)
	h.conn.SetReadDeadline(time.Now().Add(pongWait))
	h.conn.SetPongHandler(func(s string) error {
		h.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for !h.isClosing() {
		msgType, msg, err := h.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("recvLoop(): read error: %v", err)
			h.appendDataChan(&SessionData{Error: ReadError})
			return
		}

		glog.V(5).Infof("recvLoop(): incoming client message: %s", string(msg))

		if msgType != websocket.TextMessage {
			glog.Errorf("recvLoop(): unexpected message type: %d", msgType)
			h.appendDataChan(&SessionData{Msg: &ServerMsg{
				Error: newInvalidArgumentError("only text messages are supported"),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		req := ClientMsg{}
		if err := json.Unmarshal(msg, &req); err != nil {
			glog.Errorf("recvLoop(): message error: msg: %s, err: %v", string(msg), err)
			h.appendDataChan(&SessionData{Msg: &ServerMsg{
				Error: newInvalidArgumentError(fmt.Sprintf("unmarshal error: %v", err)),
			}})
			h.appendDataChan(&SessionData{Error: BadRequest})
			return
		}

		if v := req.Join; v != nil {
			h.handleJoin(v)
		} else if v := req.Post; v != nil {
			h.handlePost(v)
		} else if v := req.Delete; v != nil {
			h.handleDelete(v)
		} else if v := req.AdminClear; v != nil {
			h.handleAdminClear(v)
		} else {
			glog.Errorf("recvLoop(): unsupported request: %s", string(msg))
			h.appendDataChan(&SessionData{Msg: &ServerMsg{
				Error: newInvalidArgumentError("unsupported request"),
			}})
		}
	}
}

func (h *Handler) handleJoin(info *auth.UserInfo) {
	if info.UserId == "" {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{
			Error: newInvalidArgumentError("join: userId is required"),
		}})
		return
	}
	h.setIdentity(info)
	h.hub.broadcastPresence()
}

func (h *Handler) handlePost(req *PostReq) {
	identity := h.getIdentity()
	if identity == nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{
			Error: newInvalidArgumentError("post: join first"),
		}})
		return
	}

	if errMsg := h.hub.post(identity, req); errMsg != nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{Error: errMsg}})
	}
}

func (h *Handler) handleDelete(req *DeleteReq) {
	identity := h.getIdentity()
	if identity == nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{
			Error: newInvalidArgumentError("delete: join first"),
		}})
		return
	}

	if errMsg := h.hub.delete(identity, req); errMsg != nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{Error: errMsg}})
	}
}

func (h *Handler) handleAdminClear(req *AdminClearReq) {
	if h.getIdentity() == nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{
			Error: newInvalidArgumentError("admin_clear: join first"),
		}})
		return
	}

	if errMsg := h.hub.adminClear(req); errMsg != nil {
		h.appendDataChan(&SessionData{Msg: &ServerMsg{Error: errMsg}})
	}
}

func (h *Handler) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("sendLoop(): exited, session: %s", h)
	}()

	for {
		select {
		case v, ok := <-h.dataChan:
			if !ok { // chan was closed
				h.conn.Close()
				glog.V(5).Infof("sendLoop(): data chan closed, session: %s", h)
				return
			}

			if v.Error > 0 {
				h.close(v.Error)
				return
			} else if v.Msg == nil {
				// should not happen.
				panic(fmt.Sprintf("sendLoop(), unknown data from dataChan: %#+v", v))
			}

			if err := sendServerMsg(h.conn, v.Msg); err != nil {
				glog.Errorf("sendLoop(), error write message. session: %s, err: %v", h, err)
				h.close(WriteError)
				return
			}
		case <-pingTicker.C:
			h.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := h.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("sendLoop(), error write ping message. session: %s, err: %v", h, err)
				h.close(PingError)
				return
			}
		}
	}
}
