package store

import (
	"path/filepath"
	"sync"

	"github.com/loomchat/loom/internal/domain"
)

const (
	spkPairsFile   = "spk_pairs.json"
	opkPairsFile   = "opk_pairs.json"
	prekeyMetaFile = "prekey_meta.json"
)

// PrekeyFileStore persists signed prekey and one-time prekey state to disk.
type PrekeyFileStore struct {
	dir string
	mu  sync.Mutex
}

// NewPrekeyFileStore returns a PrekeyFileStore rooted at dir.
func NewPrekeyFileStore(dir string) *PrekeyFileStore {
	return &PrekeyFileStore{dir: dir}
}

func (s *PrekeyFileStore) opkPath() string { return filepath.Join(s.dir, opkPairsFile) }

type prekeyMeta struct {
	CurrentSignedPrekeyID domain.SignedPrekeyID `json:"current_signed_prekey_id"`
}

// SaveSignedPrekey stores a signed prekey pair by id.
func (s *PrekeyFileStore) SaveSignedPrekey(pair domain.SignedPrekeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPrekeyID]domain.SignedPrekeyPair{}
	_ = readJSON(path, &m)
	m[pair.ID] = pair
	return writeJSON(path, m, 0o600)
}

// LoadSignedPrekey retrieves a signed prekey pair by id.
func (s *PrekeyFileStore) LoadSignedPrekey(id domain.SignedPrekeyID) (domain.SignedPrekeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPrekeyID]domain.SignedPrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return domain.SignedPrekeyPair{}, false, err
	}
	p, ok := m[id]
	if !ok {
		return domain.SignedPrekeyPair{}, false, nil
	}
	return p, true, nil
}

// ListSignedPrekeys returns all retained signed prekey pairs.
func (s *PrekeyFileStore) ListSignedPrekeys() ([]domain.SignedPrekeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPrekeyID]domain.SignedPrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.SignedPrekeyPair, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out, nil
}

// DeleteSignedPrekey drops a rotated-out pair past its grace period.
func (s *PrekeyFileStore) DeleteSignedPrekey(id domain.SignedPrekeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, spkPairsFile)
	m := map[domain.SignedPrekeyID]domain.SignedPrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return err
	}
	delete(m, id)
	return writeJSON(path, m, 0o600)
}

// SetCurrentSignedPrekeyID records which signed prekey id is current.
func (s *PrekeyFileStore) SetCurrentSignedPrekeyID(id domain.SignedPrekeyID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	return writeJSON(path, prekeyMeta{CurrentSignedPrekeyID: id}, 0o600)
}

// CurrentSignedPrekeyID returns the recorded current signed prekey id.
func (s *PrekeyFileStore) CurrentSignedPrekeyID() (domain.SignedPrekeyID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, prekeyMetaFile)
	var meta prekeyMeta
	if err := readJSON(path, &meta); err != nil {
		return "", false, err
	}
	if meta.CurrentSignedPrekeyID == "" {
		return "", false, nil
	}
	return meta.CurrentSignedPrekeyID, true, nil
}

// SaveOneTimePrekeys merges the provided one-time prekey pairs into the store.
func (s *PrekeyFileStore) SaveOneTimePrekeys(pairs []domain.OneTimePrekeyPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePrekeyID]domain.OneTimePrekeyPair{}
	_ = readJSON(path, &m)
	for _, p := range pairs {
		m[p.ID] = p
	}
	return writeJSON(path, m, 0o600)
}

// ConsumeOneTimePrekey removes and returns a single one-time prekey by
// id. A consumed or unknown id reports ok=false; the pair can never be
// handed out twice.
func (s *PrekeyFileStore) ConsumeOneTimePrekey(id domain.OneTimePrekeyID) (domain.OneTimePrekeyPair, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePrekeyID]domain.OneTimePrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return domain.OneTimePrekeyPair{}, false, err
	}
	p, ok := m[id]
	if !ok {
		return domain.OneTimePrekeyPair{}, false, nil
	}
	delete(m, id)
	if err := writeJSON(path, m, 0o600); err != nil {
		return domain.OneTimePrekeyPair{}, false, err
	}
	return p, true, nil
}

// ListOneTimePrekeyPublics exposes only the public halves for bundling.
func (s *PrekeyFileStore) ListOneTimePrekeyPublics() ([]domain.OneTimePrekeyPublic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, opkPairsFile)
	m := map[domain.OneTimePrekeyID]domain.OneTimePrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePrekeyPublic, 0, len(m))
	for id, p := range m {
		out = append(out, domain.OneTimePrekeyPublic{ID: id, Pub: p.Pub})
	}
	return out, nil
}

// stageReplaceAll prepares a full prekey snapshot swap. Restore path
// only; nothing is written until commitStaged.
func (s *PrekeyFileStore) stageReplaceAll(signed []domain.SignedPrekeyPair, current domain.SignedPrekeyID, oneTime []domain.OneTimePrekeyPair) ([]stagedFile, error) {
	spk := map[domain.SignedPrekeyID]domain.SignedPrekeyPair{}
	for _, p := range signed {
		spk[p.ID] = p
	}
	opk := map[domain.OneTimePrekeyID]domain.OneTimePrekeyPair{}
	for _, p := range oneTime {
		opk[p.ID] = p
	}

	var files []stagedFile
	for _, staged := range []struct {
		path string
		v    any
	}{
		{filepath.Join(s.dir, spkPairsFile), spk},
		{filepath.Join(s.dir, opkPairsFile), opk},
		{filepath.Join(s.dir, prekeyMetaFile), prekeyMeta{CurrentSignedPrekeyID: current}},
	} {
		sf, err := stageJSON(staged.path, staged.v, 0o600)
		if err != nil {
			return nil, err
		}
		files = append(files, sf)
	}
	return files, nil
}

// wipe removes every prekey file. Explicit destroy path only.
func (s *PrekeyFileStore) wipe() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{spkPairsFile, opkPairsFile, prekeyMetaFile} {
		if err := removeIfExists(filepath.Join(s.dir, name)); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time assertion that PrekeyFileStore implements domain.PrekeyStore.
var _ domain.PrekeyStore = (*PrekeyFileStore)(nil)
