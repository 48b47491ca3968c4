package app

import (
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/directory"
	"github.com/loomchat/loom/internal/domain"
	backupsvc "github.com/loomchat/loom/internal/services/backup"
	groupsvc "github.com/loomchat/loom/internal/services/group"
	identitysvc "github.com/loomchat/loom/internal/services/identity"
	sessionsvc "github.com/loomchat/loom/internal/services/session"
	verifysvc "github.com/loomchat/loom/internal/services/verify"
	"github.com/loomchat/loom/internal/store"
)

// Wire bundles all stores, services and clients for the CLI.
type Wire struct {
	Stores    *store.Stores
	Directory domain.DirectoryClient

	Identity *identitysvc.Service
	Sessions *sessionsvc.Service
	Groups   *groupsvc.Service
	Backups  *backupsvc.Service
	Verify   *verifysvc.Service

	Log *logrus.Logger
}

// NewWire constructs the dependency graph from cfg. Without a directory
// URL the wire runs against an in-process directory, enough for local
// inspection commands but not for reaching peers.
func NewWire(cfg Config) (*Wire, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	stores := store.NewStores(cfg.Home)

	var dir domain.DirectoryClient
	if cfg.DirectoryURL != "" {
		client := directory.NewHTTP(cfg.DirectoryURL)
		if cfg.HTTP != nil {
			client.HTTP = cfg.HTTP
		} else {
			client.HTTP = http.DefaultClient
		}
		dir = client
	} else {
		dir = directory.NewMemory()
	}

	sessions := sessionsvc.New(stores.Identity, stores.Prekeys, stores.Sessions, dir, log)

	return &Wire{
		Stores:    stores,
		Directory: dir,
		Identity:  identitysvc.New(stores.Identity, stores.Prekeys, stores, dir, log),
		Sessions:  sessions,
		Groups:    groupsvc.New(stores.Identity, stores.Groups, sessions, log),
		Backups:   backupsvc.New(stores.Identity, stores, dir, log),
		Verify:    verifysvc.New(stores.Verify, log),
		Log:       log,
	}, nil
}
