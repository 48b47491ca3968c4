package keyserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/loomchat/loom/internal/domain"
)

// claimLockTTL bounds how long a crashed claim can hold the per-device
// lock.
const claimLockTTL = 5 * time.Second

// Server exposes the directory over HTTP.
type Server struct {
	store Store
	redis *redis.Client
	log   *logrus.Logger
}

// NewServer returns a directory server. The redis client is optional;
// when present it serializes claims per device across server replicas.
func NewServer(store Store, rdb *redis.Client, log *logrus.Logger) *Server {
	return &Server{store: store, redis: rdb, log: log}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/bundles", s.handlePublish).Methods(http.MethodPost)
	r.HandleFunc("/v1/bundles/{user}/{device}/claim", s.handleClaim).Methods(http.MethodPost)
	r.HandleFunc("/v1/bundles/{user}/{device}/count", s.handleCount).Methods(http.MethodGet)
	r.HandleFunc("/v1/backups/{user}", s.handlePutBackup).Methods(http.MethodPut)
	r.HandleFunc("/v1/backups/{user}", s.handleGetBackup).Methods(http.MethodGet)
	r.HandleFunc("/v1/backups/{user}", s.handleDeleteBackup).Methods(http.MethodDelete)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var bundle domain.PrekeyBundle
	if err := json.NewDecoder(r.Body).Decode(&bundle); err != nil {
		http.Error(w, "invalid bundle", http.StatusBadRequest)
		return
	}
	if bundle.UserID == "" || bundle.DeviceID == "" || len(bundle.SignedPrekeySignature) == 0 {
		http.Error(w, "incomplete bundle", http.StatusBadRequest)
		return
	}

	if err := s.store.SaveBundle(r.Context(), bundle); err != nil {
		s.log.WithError(err).Error("save bundle")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.log.WithFields(logrus.Fields{
		"user":   bundle.UserID,
		"device": bundle.DeviceID,
		"opks":   len(bundle.OneTimePrekeys),
	}).Info("bundle published")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	user := domain.UserID(vars["user"])
	device := domain.DeviceID(vars["device"])

	if s.redis != nil {
		lockKey := "claim:" + string(user) + "/" + string(device)
		ok, err := s.redis.SetNX(r.Context(), lockKey, 1, claimLockTTL).Result()
		if err != nil {
			s.log.WithError(err).Error("claim lock")
			http.Error(w, "lock failure", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "claim in progress", http.StatusConflict)
			return
		}
		defer s.redis.Del(r.Context(), lockKey)
	}

	bundle, err := s.store.ClaimBundle(r.Context(), user, device)
	if err == domain.ErrPrekeyNotFound {
		http.Error(w, "unknown device", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("claim bundle")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.log.WithFields(logrus.Fields{
		"user":     user,
		"device":   device,
		"used_opk": len(bundle.OneTimePrekeys) > 0,
	}).Info("bundle claimed")
	writeJSON(w, bundle)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	count, err := s.store.OneTimePrekeyCount(
		r.Context(), domain.UserID(vars["user"]), domain.DeviceID(vars["device"]))
	if err != nil {
		s.log.WithError(err).Error("prekey count")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]int{"count": count})
}

func (s *Server) handlePutBackup(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(mux.Vars(r)["user"])

	var backup domain.EncryptedBackup
	if err := json.NewDecoder(r.Body).Decode(&backup); err != nil {
		http.Error(w, "invalid backup", http.StatusBadRequest)
		return
	}
	if len(backup.Cipher) == 0 || len(backup.Salt) == 0 {
		http.Error(w, "incomplete backup", http.StatusBadRequest)
		return
	}

	if err := s.store.PutBackup(r.Context(), user, backup); err != nil {
		s.log.WithError(err).Error("put backup")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	s.log.WithField("user", user).Info("backup stored")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(mux.Vars(r)["user"])

	backup, err := s.store.GetBackup(r.Context(), user)
	if err == domain.ErrNoBackup {
		http.Error(w, "no backup", http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Error("get backup")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	writeJSON(w, backup)
}

func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(mux.Vars(r)["user"])
	if err := s.store.DeleteBackup(r.Context(), user); err != nil {
		s.log.WithError(err).Error("delete backup")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
