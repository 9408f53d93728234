package ws

import (
	"github.com/ttakeda/minichat/auth"
	"github.com/ttakeda/minichat/store"
)

// Error codes follow grpc conventions.
const (
	CodeInvalidArgument  int32 = 3
	CodeNotFound         int32 = 5
	CodePermissionDenied int32 = 7
	CodeInternal         int32 = 13
)

// Error is a client-visible failure, delivered to the requester only.
type Error struct {
	Code   int32  `json:"code"`
	Reason string `json:"reason"`
	Id     string `json:"id,omitempty"`
}

// ClientMsg is the union of inbound events. Exactly one field is set.
type ClientMsg struct {
	Join       *auth.UserInfo `json:"join,omitempty"`
	Post       *PostReq       `json:"post,omitempty"`
	Delete     *DeleteReq     `json:"delete,omitempty"`
	AdminClear *AdminClearReq `json:"admin_clear,omitempty"`
}

type PostReq struct {
	Id     string `json:"id"`
	Text   string `json:"text"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type DeleteReq struct {
	Id string `json:"id"`
}

type AdminClearReq struct {
	Secret string `json:"secret"`
}

// ServerMsg is the union of outbound events. Exactly one field is set.
type ServerMsg struct {
	History  *History       `json:"history,omitempty"`
	Message  *store.Message `json:"message,omitempty"`
	Deleted  *Deleted       `json:"deleted,omitempty"`
	Cleared  *Cleared       `json:"cleared,omitempty"`
	Presence *Presence      `json:"presence,omitempty"`
	Error    *Error         `json:"error,omitempty"`
}

// History is the full snapshot sent to a newly authenticated connection.
type History struct {
	Messages []store.Message `json:"messages"`
}

type Deleted struct {
	Id string `json:"id"`
}

type Cleared struct{}

// Presence is the full identity list, re-broadcast on every join and leave.
// Order is not meaningful.
type Presence struct {
	Users []*auth.UserInfo `json:"users"`
}

func newInvalidArgumentError(reason string) *Error {
	return &Error{Code: CodeInvalidArgument, Reason: reason}
}

func newNotFoundError(id string) *Error {
	return &Error{Code: CodeNotFound, Reason: "message not found", Id: id}
}

func newPermissionDeniedError(reason, id string) *Error {
	return &Error{Code: CodePermissionDenied, Reason: reason, Id: id}
}
