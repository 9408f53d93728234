package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/glog"
)

// ErrStoreUnavailable wraps persistence I/O failures. The live broadcast
// path is favored over strict durability: when persist fails, memory and
// disk may diverge until the next successful write.
var ErrStoreUnavailable = fmt.Errorf("message store unavailable")

// FileStore is a bounded, ordered message log persisted as one JSON array
// that is read whole on load and rewritten whole on every mutation. All
// mutations are serialized under a single mutex so no two events for the
// same store interleave between read and rewrite.
type FileStore struct {
	mu sync.Mutex

	path     string
	maxCount int

	messages []Message
	lastTime int64
}

// NewFileStore loads the persisted log at `path`, creating an empty valid
// artifact when the file is missing or unparsable. The artifact therefore
// always exists after startup.
func NewFileStore(path string, maxCount int) (*FileStore, error) {
	if maxCount <= 0 {
		return nil, fmt.Errorf("maxCount: expect positive, got %d", maxCount)
	}

	s := &FileStore{
		path:     path,
		maxCount: maxCount,
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		glog.Infof("message store: `%s` does not exist, initializing empty log", path)
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: read `%s`: %v", ErrStoreUnavailable, path, err)
	}

	var loaded []Message
	if err := json.Unmarshal(raw, &loaded); err != nil {
		// Fail soft: a torn or corrupt artifact resets to empty.
		glog.Errorf("message store: `%s` is corrupt, resetting to empty: %v", path, err)
		if err := s.persist(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if n := len(loaded); n > maxCount {
		loaded = loaded[n-maxCount:]
	}
	s.messages = loaded
	for _, m := range loaded {
		if m.Time > s.lastTime {
			s.lastTime = m.Time
		}
	}

	glog.Infof("message store: loaded %d messages from `%s`", len(s.messages), path)
	return s, nil
}

func (s *FileStore) Append(msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg.Time = s.nextTime()
	s.messages = append(s.messages, msg)
	if n := len(s.messages); n > s.maxCount {
		s.messages = s.messages[n-s.maxCount:]
	}

	if err := s.persist(); err != nil {
		return msg, err
	}
	return msg, nil
}

func (s *FileStore) RemoveById(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.messages[:0]
	for _, m := range s.messages {
		if m.Id != id {
			kept = append(kept, m)
		}
	}

	removed := len(kept) != len(s.messages)
	if !removed {
		return false, nil
	}
	s.messages = kept

	if err := s.persist(); err != nil {
		return true, err
	}
	return true, nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	return s.persist()
}

func (s *FileStore) Snapshot() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// nextTime returns now in unix milliseconds, clamped so timestamps never go
// backwards even when the wall clock does. Caller holds s.mu.
func (s *FileStore) nextTime() int64 {
	now := nowMillis()
	if now < s.lastTime {
		now = s.lastTime
	}
	s.lastTime = now
	return now
}

// persist writes the whole sequence to a temp file and renames it over the
// artifact, so a crash mid-write never leaves a half-written file readable
// as valid state by the next load. Caller holds s.mu.
func (s *FileStore) persist() error {
	seq := s.messages
	if seq == nil {
		seq = []Message{}
	}

	raw, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrStoreUnavailable, err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %v", ErrStoreUnavailable, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write temp: %v", ErrStoreUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close temp: %v", ErrStoreUnavailable, err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %v", ErrStoreUnavailable, err)
	}
	return nil
}
