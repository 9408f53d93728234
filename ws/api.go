package ws

import (
	"strings"

	"github.com/golang/glog"

	"github.com/ttakeda/minichat/auth"
	"github.com/ttakeda/minichat/metrics"
	"github.com/ttakeda/minichat/store"
)

// ChatConf carries the gateway limits and the admin secret.
type ChatConf struct {
	// AdminSecret grants the clear-all operation. Empty disables it.
	AdminSecret string

	// MaxTextBytes caps the message body. Zero means DefaultMaxTextBytes.
	MaxTextBytes int
}

const DefaultMaxTextBytes = 2048

// ChatApi validates and executes the chat mutations against the store and
// the authorization policy. It performs no broadcasting; the hub reads the
// returned values and fans out.
type ChatApi struct {
	store store.IMessageStore
	conf  ChatConf
}

func NewChatApi(msgStore store.IMessageStore, conf ChatConf) *ChatApi {
	if conf.MaxTextBytes <= 0 {
		conf.MaxTextBytes = DefaultMaxTextBytes
	}
	return &ChatApi{
		store: msgStore,
		conf:  conf,
	}
}

// Post builds the canonical message and appends it. The ownership token
// comes from the joined identity, display fields from the request. Returns
// (nil, nil) on persistence failure: the message is dropped without a
// client-visible error and the broadcast is suppressed.
func (a *ChatApi) Post(identity *auth.UserInfo, req *PostReq) (*store.Message, *Error) {
	var errs []string

	if req.Id == "" {
		errs = append(errs, "id: required")
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		errs = append(errs, "text: required, non-empty after trimming")
	} else if len(req.Text) > a.conf.MaxTextBytes {
		errs = append(errs, "text: exceeds size limit")
	}
	if len(errs) > 0 {
		return nil, newInvalidArgumentError(strings.Join(errs, "; "))
	}

	msg, err := a.store.Append(store.Message{
		Id:     req.Id,
		UserId: identity.UserId,
		Name:   req.Name,
		Color:  req.Color,
		Avatar: req.Avatar,
		Text:   req.Text,
	})
	if err != nil {
		glog.Errorf("post: append `%s`: %v", req.Id, err)
		metrics.StoreFailures.Inc()
		return nil, nil
	}

	metrics.MessagesPosted.Inc()
	return &msg, nil
}

// Delete removes an owned message. The returned bool reports whether the
// deleted id should be broadcast.
func (a *ChatApi) Delete(identity *auth.UserInfo, req *DeleteReq) (bool, *Error) {
	// Fresh snapshot lookup: the message may have been evicted or removed
	// by a concurrent event since the requester last saw it.
	var found *store.Message
	for _, m := range a.store.Snapshot() {
		if m.Id == req.Id {
			m := m
			found = &m
			break
		}
	}
	if found == nil {
		return false, newNotFoundError(req.Id)
	}

	if !auth.CanDeleteOwn(identity, found.UserId) {
		return false, newPermissionDeniedError("not the message owner", req.Id)
	}

	removed, err := a.store.RemoveById(req.Id)
	if err != nil {
		glog.Errorf("delete: remove `%s`: %v", req.Id, err)
		metrics.StoreFailures.Inc()
		return false, nil
	}
	if !removed {
		// Raced with another delete of the same id.
		return false, newNotFoundError(req.Id)
	}

	metrics.MessagesDeleted.Inc()
	return true, nil
}

// AdminClear empties the whole log when the supplied secret matches. A
// denied request learns nothing about the store contents.
func (a *ChatApi) AdminClear(req *AdminClearReq) (bool, *Error) {
	if !auth.CanAdminClear(req.Secret, a.conf.AdminSecret) {
		return false, newPermissionDeniedError("admin secret mismatch", "")
	}

	if err := a.store.Clear(); err != nil {
		glog.Errorf("admin clear: %v", err)
		metrics.StoreFailures.Inc()
		return false, nil
	}

	metrics.AdminClears.Inc()
	return true, nil
}

// Snapshot returns the history for a newly authenticated connection.
func (a *ChatApi) Snapshot() []store.Message {
	return a.store.Snapshot()
}
