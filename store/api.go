package store

// Message is one chat post. Display fields (`Name`, `Color`, `Avatar`) are
// client controlled and passed through unmodified; escaping is a render
// concern. `UserId` is a client generated opaque string that doubles as the
// ownership token for delete requests; it is not authenticated.
type Message struct {
	Id     string `json:"id"`
	UserId string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
	Text   string `json:"text"`

	// Time is server assigned unix milliseconds, monotonically
	// non-decreasing across appends.
	Time int64 `json:"time"`
}

type IMessageStore interface {
	// Append stamps the message time, inserts at the tail, evicts from the
	// head while the retention bound is exceeded, persists the resulting
	// sequence, and returns the stored representation. On persistence
	// failure the in-memory state is NOT rolled back; the caller decides
	// whether to broadcast.
	Append(msg Message) (Message, error)

	// RemoveById removes every entry whose id matches, persists, and
	// returns whether anything was removed.
	RemoveById(id string) (bool, error)

	// Clear empties the log and persists an empty sequence.
	Clear() error

	// Snapshot returns all entries oldest-first.
	Snapshot() []Message
}
