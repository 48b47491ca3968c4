package store

import (
	"github.com/loomchat/loom/internal/domain"
)

// Stores bundles every file store under one directory and implements
// the full-state snapshot used by key backup.
type Stores struct {
	Identity *IdentityFileStore
	Prekeys  *PrekeyFileStore
	Sessions *SessionFileStore
	Groups   *GroupFileStore
	Verify   *VerifyFileStore
}

// NewStores opens all stores rooted at dir.
func NewStores(dir string) *Stores {
	return &Stores{
		Identity: NewIdentityFileStore(dir),
		Prekeys:  NewPrekeyFileStore(dir),
		Sessions: NewSessionFileStore(dir),
		Groups:   NewGroupFileStore(dir),
		Verify:   NewVerifyFileStore(dir),
	}
}

// ExportSnapshot collects the full local state, decrypting the identity
// with the given passphrase.
func (s *Stores) ExportSnapshot(passphrase string) (domain.Snapshot, error) {
	var snap domain.Snapshot

	id, err := s.Identity.LoadIdentity(passphrase)
	if err != nil {
		return snap, err
	}
	snap.Identity = &id

	if snap.SignedPrekeys, err = s.Prekeys.ListSignedPrekeys(); err != nil {
		return snap, err
	}
	if cur, ok, err := s.Prekeys.CurrentSignedPrekeyID(); err != nil {
		return snap, err
	} else if ok {
		snap.CurrentSignedPrekey = cur
	}
	opks, err := s.Prekeys.listOneTimePrekeyPairs()
	if err != nil {
		return snap, err
	}
	snap.OneTimePrekeys = opks

	if snap.Sessions, err = s.Sessions.ListSessions(); err != nil {
		return snap, err
	}
	if snap.OutboundGroups, err = s.Groups.ListOutbound(); err != nil {
		return snap, err
	}
	if snap.InboundGroups, err = s.Groups.ListInbound(); err != nil {
		return snap, err
	}
	if snap.Verified, err = s.Verify.ListVerified(); err != nil {
		return snap, err
	}
	return snap, nil
}

// ImportSnapshot replaces the local state with snap. Every target file
// is staged to a temp in its own directory first and the originals are
// only replaced once all temps are in place, so a failed restore never
// mixes old and new state.
func (s *Stores) ImportSnapshot(passphrase string, snap domain.Snapshot) error {
	var files []stagedFile

	if snap.Identity != nil {
		sf, err := s.Identity.stageSaveIdentity(passphrase, *snap.Identity)
		if err != nil {
			return err
		}
		files = append(files, sf)
	}
	pk, err := s.Prekeys.stageReplaceAll(snap.SignedPrekeys, snap.CurrentSignedPrekey, snap.OneTimePrekeys)
	if err != nil {
		return err
	}
	files = append(files, pk...)

	sess, err := s.Sessions.stageReplaceAll(snap.Sessions)
	if err != nil {
		return err
	}
	files = append(files, sess)

	grp, err := s.Groups.stageReplaceAll(snap.OutboundGroups, snap.InboundGroups)
	if err != nil {
		return err
	}
	files = append(files, grp...)

	ver, err := s.Verify.stageReplaceVerified(snap.Verified)
	if err != nil {
		return err
	}
	files = append(files, ver)

	return commitStaged(files)
}

// DestroyAll removes every store file. Explicit device wipe; removing
// absent files is not an error.
func (s *Stores) DestroyAll() error {
	if err := s.Identity.DestroyIdentity(); err != nil {
		return err
	}
	if err := s.Prekeys.wipe(); err != nil {
		return err
	}
	if err := s.Sessions.wipe(); err != nil {
		return err
	}
	if err := s.Groups.wipe(); err != nil {
		return err
	}
	return s.Verify.wipe()
}

// listOneTimePrekeyPairs exposes the private halves for snapshot export
// only; bundles always go through ListOneTimePrekeyPublics.
func (s *PrekeyFileStore) listOneTimePrekeyPairs() ([]domain.OneTimePrekeyPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.opkPath()
	m := map[domain.OneTimePrekeyID]domain.OneTimePrekeyPair{}
	if err := readJSON(path, &m); err != nil {
		return nil, err
	}
	out := make([]domain.OneTimePrekeyPair, 0, len(m))
	for _, p := range m {
		out = append(out, p)
	}
	return out, nil
}

// Compile-time assertions that Stores implements the snapshot and wipe
// interfaces.
var (
	_ domain.SnapshotStore   = (*Stores)(nil)
	_ domain.LocalStateStore = (*Stores)(nil)
)
