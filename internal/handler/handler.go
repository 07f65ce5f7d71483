package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/service"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Handler holds all HTTP handlers
type Handler struct {
	db       *database.Postgres
	rdb      *database.Redis
	log      *logger.Logger
	cfg      *config.Config
	sendSvc  *service.SendService
	sessions *service.SessionStore
	progress *service.ProgressPublisher
	authFlow *auth.AuthCodeFlow
}

// New creates a new Handler instance. db, rdb, progress and authFlow may be
// nil when the corresponding feature is not configured.
func New(
	db *database.Postgres,
	rdb *database.Redis,
	log *logger.Logger,
	cfg *config.Config,
	sendSvc *service.SendService,
	sessions *service.SessionStore,
	progress *service.ProgressPublisher,
	authFlow *auth.AuthCodeFlow,
) *Handler {
	return &Handler{
		db:       db,
		rdb:      rdb,
		log:      log.WithComponent("handler"),
		cfg:      cfg,
		sendSvc:  sendSvc,
		sessions: sessions,
		progress: progress,
		authFlow: authFlow,
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// --- Cookie helpers ---

func (h *Handler) sameSite() http.SameSite {
	switch strings.ToLower(h.cfg.Cookie.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

func (h *Handler) setCookie(w http.ResponseWriter, name, value string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   h.cfg.Cookie.Domain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.Cookie.Secure,
		SameSite: h.sameSite(),
	})
}
