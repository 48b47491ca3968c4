package store

import (
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

const (
	outboundGroupsFile = "group_outbound.json"
	inboundGroupsFile  = "group_inbound.json"
)

// GroupFileStore persists outbound sessions keyed by conversation and
// inbound sessions keyed by (conversation, session id).
type GroupFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewGroupFileStore returns a GroupFileStore rooted at dir.
func NewGroupFileStore(dir string) *GroupFileStore {
	return &GroupFileStore{dir: dir}
}

func inboundKey(conv domain.ConversationID, id domain.GroupSessionID) string {
	return conv.String() + "/" + id.String()
}

// SaveOutbound stores or replaces the outbound session for its
// conversation. A replace is how rotation lands on disk.
func (s *GroupFileStore) SaveOutbound(sess domain.OutboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, outboundGroupsFile)
	m := map[domain.ConversationID]domain.OutboundGroupSession{}
	_ = readJSON(path, &m)
	m[sess.ConversationID] = sess
	return writeJSON(path, m, 0o600)
}

// LoadOutbound retrieves the outbound session for a conversation.
func (s *GroupFileStore) LoadOutbound(conv domain.ConversationID) (domain.OutboundGroupSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, outboundGroupsFile)
	m := map[domain.ConversationID]domain.OutboundGroupSession{}
	if err := readJSON(path, &m); err != nil {
		return domain.OutboundGroupSession{}, false, err
	}
	sess, ok := m[conv]
	if !ok {
		return domain.OutboundGroupSession{}, false, nil
	}
	return sess, true, nil
}

// DeleteOutbound removes the outbound session for a conversation.
func (s *GroupFileStore) DeleteOutbound(conv domain.ConversationID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, outboundGroupsFile)
	m := map[domain.ConversationID]domain.OutboundGroupSession{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	delete(m, conv)
	return writeJSON(path, m, 0o600)
}

// ListOutbound returns every outbound session.
func (s *GroupFileStore) ListOutbound() ([]domain.OutboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, outboundGroupsFile)
	m := map[domain.ConversationID]domain.OutboundGroupSession{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.OutboundGroupSession, 0, len(m))
	for _, sess := range m {
		out = append(out, sess)
	}
	return out, nil
}

// SaveInbound stores an inbound session. An existing record with an
// earlier FirstKnownIndex wins: decryption capability never regresses.
func (s *GroupFileStore) SaveInbound(sess domain.InboundGroupSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, inboundGroupsFile)
	m := map[string]domain.InboundGroupSession{}
	_ = readJSON(path, &m)

	key := inboundKey(sess.ConversationID, sess.ID)
	if existing, ok := m[key]; ok && existing.FirstKnownIndex <= sess.FirstKnownIndex {
		return nil
	}
	m[key] = sess
	return writeJSON(path, m, 0o600)
}

// LoadInbound retrieves an inbound session.
func (s *GroupFileStore) LoadInbound(conv domain.ConversationID, id domain.GroupSessionID) (domain.InboundGroupSession, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, inboundGroupsFile)
	m := map[string]domain.InboundGroupSession{}
	if err := readJSON(path, &m); err != nil {
		return domain.InboundGroupSession{}, false, err
	}
	sess, ok := m[inboundKey(conv, id)]
	if !ok {
		return domain.InboundGroupSession{}, false, nil
	}
	return sess, true, nil
}

// ListInbound returns every inbound session.
func (s *GroupFileStore) ListInbound() ([]domain.InboundGroupSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, inboundGroupsFile)
	m := map[string]domain.InboundGroupSession{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.InboundGroupSession, 0, len(m))
	for _, sess := range m {
		out = append(out, sess)
	}
	return out, nil
}

// stageReplaceAll prepares a full group snapshot swap. Restore path
// only; nothing is written until commitStaged.
func (s *GroupFileStore) stageReplaceAll(outbound []domain.OutboundGroupSession, inbound []domain.InboundGroupSession) ([]stagedFile, error) {
	om := map[domain.ConversationID]domain.OutboundGroupSession{}
	for _, sess := range outbound {
		om[sess.ConversationID] = sess
	}
	im := map[string]domain.InboundGroupSession{}
	for _, sess := range inbound {
		im[inboundKey(sess.ConversationID, sess.ID)] = sess
	}

	out, err := stageJSON(filepath.Join(s.dir, outboundGroupsFile), om, 0o600)
	if err != nil {
		return nil, err
	}
	in, err := stageJSON(filepath.Join(s.dir, inboundGroupsFile), im, 0o600)
	if err != nil {
		return nil, err
	}
	return []stagedFile{out, in}, nil
}

// wipe removes both group files. Explicit destroy path only.
func (s *GroupFileStore) wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := removeIfExists(filepath.Join(s.dir, outboundGroupsFile)); err != nil {
		return err
	}
	return removeIfExists(filepath.Join(s.dir, inboundGroupsFile))
}

// Compile-time assertion that GroupFileStore implements domain.GroupStore.
var _ domain.GroupStore = (*GroupFileStore)(nil)
