package store

import (
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

const sessionsFile = "sessions.json"

// SessionFileStore persists pairwise sessions keyed by the hex of the
// remote identity key.
type SessionFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewSessionFileStore returns a SessionFileStore rooted at dir.
func NewSessionFileStore(dir string) *SessionFileStore {
	return &SessionFileStore{dir: dir}
}

// SaveSession stores or replaces the session for its peer.
func (s *SessionFileStore) SaveSession(sess domain.PairwiseSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[string]domain.PairwiseSession{}
	_ = readJSON(path, &m)
	m[sess.Peer.IdentityKey.Hex()] = sess
	return writeJSON(path, m, 0o600)
}

// LoadSession retrieves the session for a remote identity key.
func (s *SessionFileStore) LoadSession(remoteIdentity domain.X25519Public) (domain.PairwiseSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[string]domain.PairwiseSession{}
	if err := readJSON(path, &m); err != nil {
		return domain.PairwiseSession{}, false, err
	}
	sess, ok := m[remoteIdentity.Hex()]
	if !ok {
		return domain.PairwiseSession{}, false, nil
	}
	return sess, true, nil
}

// ListSessions returns every stored session.
func (s *SessionFileStore) ListSessions() ([]domain.PairwiseSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[string]domain.PairwiseSession{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.PairwiseSession, 0, len(m))
	for _, sess := range m {
		out = append(out, sess)
	}
	return out, nil
}

// DeleteSession removes the session for a remote identity key.
func (s *SessionFileStore) DeleteSession(remoteIdentity domain.X25519Public) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, sessionsFile)
	m := map[string]domain.PairwiseSession{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	delete(m, remoteIdentity.Hex())
	return writeJSON(path, m, 0o600)
}

// stageReplaceAll prepares a full session snapshot swap. Restore path
// only; nothing is written until commitStaged.
func (s *SessionFileStore) stageReplaceAll(sessions []domain.PairwiseSession) (stagedFile, error) {
	m := map[string]domain.PairwiseSession{}
	for _, sess := range sessions {
		m[sess.Peer.IdentityKey.Hex()] = sess
	}
	return stageJSON(filepath.Join(s.dir, sessionsFile), m, 0o600)
}

// wipe removes the session file. Explicit destroy path only.
func (s *SessionFileStore) wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return removeIfExists(filepath.Join(s.dir, sessionsFile))
}

// Compile-time assertion that SessionFileStore implements domain.SessionStore.
var _ domain.SessionStore = (*SessionFileStore)(nil)
