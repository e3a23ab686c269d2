package camsync

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Persisted keys.
const (
	KeyTargetHost = "target.host"
	KeyTargetPort = "target.port"
	KeyPushToken  = "push.token"
	// Display preferences live under prefs.*.
	PrefsPrefix = "prefs."
)

// Store is opaque key/value state that outlives a session: the last target, the
// push token and display preferences.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// LoadTarget reads the last-used target from s.
func LoadTarget(s Store) (ConnectionTarget, bool) {
	host, ok := s.Get(KeyTargetHost)
	if !ok || host == "" {
		return ConnectionTarget{}, false
	}
	port := DefaultPort
	if p, ok := s.Get(KeyTargetPort); ok {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return ConnectionTarget{Host: host, Port: port}, true
}

// SaveTarget persists t as the last-used target.
func SaveTarget(s Store, t ConnectionTarget) error {
	if err := s.Set(KeyTargetHost, t.Host); err != nil {
		return err
	}
	return s.Set(KeyTargetPort, strconv.Itoa(t.Port))
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore keeps values for the life of the process.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// ============================================================================
// TOMLStore
// ============================================================================

// TOMLStore persists values in a TOML file, one table per key prefix
// ("push.token" is written as token = "..." under [push]).
type TOMLStore struct {
	path string

	mu     sync.Mutex
	values map[string]map[string]string
}

// OpenTOMLStore loads path if it exists. A missing file is an empty store.
func OpenTOMLStore(path string) (*TOMLStore, error) {
	s := &TOMLStore{path: path, values: make(map[string]map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	if err := toml.Unmarshal(data, &s.values); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", path, err)
	}
	return s, nil
}

func splitKey(key string) (string, string) {
	if i := strings.IndexByte(key, '.'); i > 0 {
		return key[:i], key[i+1:]
	}
	return "general", key
}

func (s *TOMLStore) Get(key string) (string, bool) {
	section, name := splitKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[section][name]
	return v, ok
}

// Set updates one key and rewrites the file.
func (s *TOMLStore) Set(key, value string) error {
	section, name := splitKey(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[section] == nil {
		s.values[section] = make(map[string]string)
	}
	old, had := s.values[section][name]
	if had && old == value {
		return nil
	}
	s.values[section][name] = value
	if err := s.flushLocked(); err != nil {
		// Memory stays in step with what is on disk.
		if had {
			s.values[section][name] = old
		} else {
			delete(s.values[section], name)
			if len(s.values[section]) == 0 {
				delete(s.values, section)
			}
		}
		return err
	}
	return nil
}

// Keys lists every stored key, sorted.
func (s *TOMLStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for section, kv := range s.values {
		for name := range kv {
			keys = append(keys, section+"."+name)
		}
	}
	sort.Strings(keys)
	return keys
}

func (s *TOMLStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	data, err := toml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}
