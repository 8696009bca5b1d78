package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

// SessionVersion is the current version of the session file format.
const SessionVersion = 1

// Session is the persisted outcome of one CV range scan.
type Session struct {
	// Version is the session file format version.
	Version int `json:"version"`

	// SavedAt is when the session was saved.
	SavedAt time.Time `json:"saved_at"`

	// Station is the command station's address.
	Station string `json:"station,omitempty"`

	// Protocol names the backend the scan ran over.
	Protocol string `json:"protocol,omitempty"`

	// LocoAddress is the decoder address, for POM scans.
	LocoAddress int `json:"loco_address,omitempty"`

	// From and To bound the scanned CV range.
	From int `json:"from"`
	To   int `json:"to"`

	// Values holds the CVs that resolved. JSON object keys are
	// strings, so the map is keyed by the decimal CV number.
	Values map[string]byte `json:"values"`

	// Notes is free-form operator commentary.
	Notes string `json:"notes,omitempty"`
}

// SetValues fills Values from a scanner result map.
func (s *Session) SetValues(values map[int]byte) {
	s.Values = make(map[string]byte, len(values))
	for cv, v := range values {
		s.Values[strconv.Itoa(cv)] = v
	}
}

// CVValues converts Values back to integer CV keys. Unparseable keys
// are skipped.
func (s *Session) CVValues() map[int]byte {
	out := make(map[int]byte, len(s.Values))
	for key, v := range s.Values {
		cv, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		out[cv] = v
	}
	return out
}

// SessionStore manages a directory of session files.
type SessionStore struct {
	mu  sync.Mutex
	dir string
}

// NewSessionStore creates a store rooted at dir.
func NewSessionStore(dir string) *SessionStore {
	return &SessionStore{dir: dir}
}

// Save persists a session to a timestamped file and returns its path.
func (s *SessionStore) Save(session *Session) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", err
	}

	session.Version = SessionVersion
	if session.SavedAt.IsZero() {
		session.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return "", err
	}

	name := fmt.Sprintf("scan-%s.json", session.SavedAt.Format("20060102-150405"))
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Load reads one session file.
func (s *SessionStore) Load(path string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	session := &Session{}
	if err := json.Unmarshal(data, session); err != nil {
		return nil, err
	}
	return session, nil
}

// List returns the paths of all stored sessions, oldest first.
// Returns nil if the directory doesn't exist yet.
func (s *SessionStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Latest loads the most recently saved session.
// Returns nil, nil when the store is empty.
func (s *SessionStore) Latest() (*Session, error) {
	paths, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return s.Load(paths[len(paths)-1])
}

// Clear removes all stored sessions.
func (s *SessionStore) Clear() error {
	paths, err := s.List()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
