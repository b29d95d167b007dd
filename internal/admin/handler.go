package admin

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rowanvale/shopshelf/internal/catalog"
	"github.com/rowanvale/shopshelf/internal/middleware"
	"github.com/rowanvale/shopshelf/internal/repository"
	"github.com/rowanvale/shopshelf/internal/service"
)

type adminContextKey string

const (
	sessionContextKey   adminContextKey = "admin_session"
	adminUserContextKey adminContextKey = "admin_user"
)

const (
	csrfCookieName   = "shopshelf_csrf"
	previewPageSize  = 12
	datetimeLocalFmt = "2006-01-02T15:04"
)

type Handler struct {
	repo     *repository.PostgresRepository
	svc      *service.Service
	catalog  *catalog.Store
	sessions *SessionManager
	log      *slog.Logger
	mux      *http.ServeMux
}

func NewHandler(repo *repository.PostgresRepository, svc *service.Service, cat *catalog.Store, sessions *SessionManager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		repo:     repo,
		svc:      svc,
		catalog:  cat,
		sessions: sessions,
		log:      log,
	}
	h.mux = h.buildMux()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) buildMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Public routes
	mux.HandleFunc("GET /login", h.handleLoginForm)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /setup", h.handleSetupForm)
	mux.HandleFunc("POST /setup", h.handleSetup)

	// Protected routes
	mux.HandleFunc("POST /logout", h.requireAuth(h.handleLogout))
	mux.HandleFunc("GET /{$}", h.requireAuth(h.handleDashboard))
	mux.HandleFunc("POST /collections", h.requireAuth(h.handleCreateCollection))
	mux.HandleFunc("GET /collections/{id}", h.requireAuth(h.handleCollectionDetail))
	mux.HandleFunc("POST /collections/{id}/visibility", h.requireAuth(h.handleToggleVisibility))
	mux.HandleFunc("POST /collections/{id}/delete", h.requireAuth(h.handleDeleteCollection))
	mux.HandleFunc("POST /collections/{id}/members", h.requireAuth(h.handleAddMember))
	mux.HandleFunc("POST /collections/{id}/members/remove", h.requireAuth(h.handleRemoveMember))
	mux.HandleFunc("GET /products", h.requireAuth(h.handleProducts))
	mux.HandleFunc("GET /api-keys", h.requireAuth(h.handleAPIKeys))
	mux.HandleFunc("POST /api-keys", h.requireAuth(h.handleCreateAPIKey))
	mux.HandleFunc("POST /api-keys/revoke", h.requireAuth(h.handleRevokeAPIKey))

	staticFS, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticFS))))

	return mux
}

// requireAuth ensures a valid session exists, loads the acting admin user,
// and validates CSRF tokens on state-changing requests.
func (h *Handler) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		session, err := h.sessions.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodDelete {
			csrfToken := r.FormValue("csrf_token")
			if csrfToken == "" {
				csrfToken = r.Header.Get("X-CSRF-Token")
			}
			if subtle.ConstantTimeCompare([]byte(csrfToken), []byte(session.CSRFToken)) != 1 {
				http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
				return
			}
		}

		user, err := h.repo.GetAdminUserByID(r.Context(), session.AdminUserID)
		if err != nil {
			h.sessions.ClearSessionCookie(w)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, session)
		ctx = context.WithValue(ctx, adminUserContextKey, user)
		next(w, r.WithContext(ctx))
	}
}

func sessionFromContext(ctx context.Context) repository.AdminSession {
	s, _ := ctx.Value(sessionContextKey).(repository.AdminSession)
	return s
}

func userFromContext(ctx context.Context) repository.AdminUser {
	u, _ := ctx.Value(adminUserContextKey).(repository.AdminUser)
	return u
}

// baseData assembles the fields every authenticated template expects.
func baseData(r *http.Request) map[string]any {
	return map[string]any{
		"User":      userFromContext(r.Context()),
		"CSRFToken": sessionFromContext(r.Context()).CSRFToken,
	}
}

func (h *Handler) render(w http.ResponseWriter, name string, data any) {
	if err := Render(w, name, data); err != nil {
		h.log.Error("render error", "template", name, "error", err)
	}
}

// Setup and login use a double-submit CSRF cookie because no session exists
// yet to carry a server-side token.

func (h *Handler) setCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	token := generateToken()
	isSecure := r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   isSecure,
	})
	return token
}

func (h *Handler) validateDoubleSubmitCSRF(r *http.Request) bool {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return false
	}
	formToken := r.FormValue("csrf_token")
	return subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(formToken)) == 1
}

func generateToken() string {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}

func (h *Handler) handleSetupForm(w http.ResponseWriter, r *http.Request) {
	exists, err := h.repo.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}

	h.render(w, "setup.html", map[string]any{
		"CSRFToken": h.setCSRFCookie(w, r),
	})
}

func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	exists, err := h.repo.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if exists {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if !h.validateDoubleSubmitCSRF(r) {
		http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")
	confirm := r.FormValue("confirm_password")

	renderError := func(msg string) {
		h.render(w, "setup.html", map[string]any{
			"Error":     msg,
			"CSRFToken": h.setCSRFCookie(w, r),
		})
	}

	if len(username) < 3 || len(username) > 50 {
		renderError("Username must be between 3 and 50 characters")
		return
	}
	if !validUsername(username) {
		renderError("Username may only contain letters, digits, underscores, hyphens, and dots")
		return
	}
	if len(password) < 12 {
		renderError("Password must be at least 12 characters")
		return
	}
	if password != confirm {
		renderError("Passwords do not match")
		return
	}

	hash, err := HashPassword(password)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if _, err := h.repo.CreateAdminUser(r.Context(), username, hash); err != nil {
		h.log.Error("create admin user", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/login", http.StatusFound)
}

func validUsername(username string) bool {
	for _, c := range username {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' || c == '.') {
			return false
		}
	}
	return true
}

func (h *Handler) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	exists, err := h.repo.HasAdminUsers(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !exists {
		http.Redirect(w, r, "/setup", http.StatusFound)
		return
	}

	h.render(w, "login.html", map[string]any{
		"CSRFToken": h.setCSRFCookie(w, r),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !h.validateDoubleSubmitCSRF(r) {
		http.Error(w, "Forbidden: invalid CSRF token", http.StatusForbidden)
		return
	}

	renderError := func(msg string) {
		h.render(w, "login.html", map[string]any{
			"Error":     msg,
			"CSRFToken": h.setCSRFCookie(w, r),
		})
	}

	ip := middleware.ClientIP(r.RemoteAddr)
	if !h.sessions.CheckLoginRateLimit(ip) {
		http.Error(w, "Too many login attempts, try again later", http.StatusTooManyRequests)
		return
	}

	username := strings.TrimSpace(r.FormValue("username"))
	password := r.FormValue("password")

	user, err := h.repo.GetAdminUserByUsername(r.Context(), username)
	if err != nil || !VerifyPassword(password, user.PasswordHash) {
		h.sessions.RecordLoginAttempt(ip)
		renderError("Invalid username or password")
		return
	}

	token, err := h.sessions.GenerateSession(r.Context(), user.ID)
	if err != nil {
		h.log.Error("generate session", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	h.sessions.SetSessionCookie(w, token)

	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		_ = h.sessions.InvalidateSession(r.Context(), cookie.Value)
	}
	h.sessions.ClearSessionCookie(w)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	collections, err := h.svc.ListCollections(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := baseData(r)
	data["Collections"] = collections
	data["CatalogVersion"] = h.catalog.Version()
	data["CatalogProducts"] = len(h.catalog.Snapshot().Products)
	if msg := r.URL.Query().Get("error"); msg != "" {
		data["Error"] = msg
	}
	h.render(w, "dashboard.html", data)
}

func (h *Handler) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	c := repository.Collection{
		Title:       strings.TrimSpace(r.FormValue("title")),
		Type:        r.FormValue("type"),
		MatchPolicy: r.FormValue("match_policy"),
		DefaultSort: r.FormValue("default_sort"),
		Visible:     r.FormValue("visible") == "on",
	}
	if rules := strings.TrimSpace(r.FormValue("rules")); rules != "" {
		c.Rules = json.RawMessage(rules)
	}

	var parseErr error
	c.StartsAt, parseErr = parseOptionalTime(r.FormValue("starts_at"))
	if parseErr == nil {
		c.EndsAt, parseErr = parseOptionalTime(r.FormValue("ends_at"))
	}
	if parseErr != nil {
		h.redirectDashboardError(w, r, "Invalid date format")
		return
	}
	if c.Title == "" {
		h.redirectDashboardError(w, r, "Title is required")
		return
	}

	created, err := h.svc.CreateCollection(r.Context(), c)
	if err != nil {
		if isValidationError(err) {
			h.redirectDashboardError(w, r, err.Error())
			return
		}
		h.log.Error("create collection", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/collections/"+created.ID, http.StatusFound)
}

func (h *Handler) redirectDashboardError(w http.ResponseWriter, r *http.Request, msg string) {
	http.Redirect(w, r, "/?error="+url.QueryEscape(msg), http.StatusFound)
}

func parseOptionalTime(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(datetimeLocalFmt, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func isValidationError(err error) bool {
	return errors.Is(err, service.ErrInvalidCollection) ||
		errors.Is(err, service.ErrInvalidRules) ||
		errors.Is(err, service.ErrInvalidSortKey)
}

func (h *Handler) handleCollectionDetail(w http.ResponseWriter, r *http.Request) {
	h.renderCollection(w, r, r.PathValue("id"), r.URL.Query().Get("error"))
}

func (h *Handler) renderCollection(w http.ResponseWriter, r *http.Request, id, errMsg string) {
	col, err := h.svc.GetCollection(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := baseData(r)
	data["Collection"] = col
	if errMsg != "" {
		data["Error"] = errMsg
	}
	if len(col.Rules) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, col.Rules, "", "  "); err == nil {
			data["RulesPretty"] = pretty.String()
		}
	}
	if warnings := ruleWarnings(col.Rules); len(warnings) > 0 {
		data["RuleWarnings"] = warnings
	}

	// Preview resolves through the same path the storefront uses, so a
	// hidden collection has no preview.
	page, products, err := h.svc.ResolveProducts(r.Context(), id, "", 1, previewPageSize)
	switch {
	case err == nil:
		data["Preview"] = products
		data["PreviewTotal"] = page.Total
	case errors.Is(err, service.ErrCollectionNotFound):
		data["PreviewUnavailable"] = true
	default:
		h.log.Error("resolve preview", "collection_id", id, "error", err)
		data["PreviewUnavailable"] = true
	}

	members, err := h.svc.GetCollectionMembers(r.Context(), id)
	if err == nil {
		data["Members"] = members
	}

	h.render(w, "collection.html", data)
}

// ruleWarnings flags stored rules that can never match, such as a numeric
// comparison against a value that does not parse. The rules are kept as-is;
// the editor just surfaces the problem.
func ruleWarnings(raw json.RawMessage) []string {
	var rules []struct {
		Field    string `json:"field"`
		Operator string `json:"operator"`
		Value    string `json:"value"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &rules) != nil {
		return nil
	}

	var warnings []string
	for i, rule := range rules {
		switch rule.Operator {
		case "greater_than", "less_than":
			if _, err := decimal.NewFromString(rule.Value); err != nil {
				warnings = append(warnings, fmt.Sprintf(
					"Rule %d (%s %s %q) compares a non-numeric value and will never match.",
					i+1, rule.Field, rule.Operator, rule.Value))
			}
		}
	}
	return warnings
}

func (h *Handler) handleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	col, err := h.svc.GetCollection(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCollectionNotFound) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	col.Visible = !col.Visible
	if _, err := h.svc.UpdateCollection(r.Context(), col); err != nil {
		h.log.Error("toggle visibility", "collection_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/collections/"+id, http.StatusFound)
}

func (h *Handler) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.svc.DeleteCollection(r.Context(), id); err != nil && !errors.Is(err, service.ErrCollectionNotFound) {
		h.log.Error("delete collection", "collection_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	productID := strings.TrimSpace(r.FormValue("product_id"))
	if productID == "" {
		http.Redirect(w, r, "/collections/"+id+"?error=Product+ID+is+required", http.StatusFound)
		return
	}

	err := h.svc.AddCollectionMember(r.Context(), id, productID)
	switch {
	case err == nil:
		http.Redirect(w, r, "/collections/"+id, http.StatusFound)
	case errors.Is(err, service.ErrCollectionNotFound):
		http.NotFound(w, r)
	case errors.Is(err, service.ErrProductNotFound):
		http.Redirect(w, r, "/collections/"+id+"?error=No+such+product", http.StatusFound)
	case errors.Is(err, service.ErrCollectionAutomatic):
		http.Redirect(w, r, "/collections/"+id+"?error=Automatic+collections+have+no+manual+members", http.StatusFound)
	default:
		h.log.Error("add member", "collection_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	productID := r.FormValue("product_id")

	err := h.svc.RemoveCollectionMember(r.Context(), id, productID)
	switch {
	case err == nil, errors.Is(err, service.ErrMembershipNotFound):
		http.Redirect(w, r, "/collections/"+id, http.StatusFound)
	case errors.Is(err, service.ErrCollectionNotFound):
		http.NotFound(w, r)
	default:
		h.log.Error("remove member", "collection_id", id, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (h *Handler) handleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.svc.ListProducts(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := baseData(r)
	data["Products"] = products
	h.render(w, "products.html", data)
}

func (h *Handler) handleAPIKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.repo.ListAPIKeys(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := baseData(r)
	data["APIKeys"] = keys
	session := sessionFromContext(r.Context())
	if keyID, secret, ok := h.sessions.PopAPIKeyFlash(session.IDHash); ok {
		data["NewKeyID"] = keyID
		data["NewSecret"] = secret
	}
	h.render(w, "api_keys.html", data)
}

func (h *Handler) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.FormValue("name"))
	if name == "" {
		name = "admin-created"
	}

	keyID, secret, err := h.repo.CreateAPIKey(r.Context(), name)
	if err != nil {
		h.log.Error("create api key", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	session := sessionFromContext(r.Context())
	h.sessions.SetAPIKeyFlash(session.IDHash, keyID, secret)
	http.Redirect(w, r, "/api-keys", http.StatusFound)
}

func (h *Handler) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	keyID := r.FormValue("key_id")
	if keyID == "" {
		http.Redirect(w, r, "/api-keys", http.StatusFound)
		return
	}
	if err := h.repo.RevokeAPIKey(r.Context(), keyID); err != nil {
		h.log.Error("revoke api key", "key_id", keyID, "error", err)
	}
	http.Redirect(w, r, "/api-keys", http.StatusFound)
}
