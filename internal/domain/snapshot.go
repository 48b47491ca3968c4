package domain

// SnapshotStore exports and replaces the full local session state. Used
// by the key backup manager; ImportSnapshot is the all-or-nothing swap
// of a restore.
type SnapshotStore interface {
	ExportSnapshot(passphrase string) (Snapshot, error)
	ImportSnapshot(passphrase string, snap Snapshot) error
}
