package app

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"ignisos/api/internal/auth"
	"ignisos/api/internal/authpw"
	"ignisos/api/internal/capture"
	"ignisos/api/internal/export"
	"ignisos/api/internal/llm"
	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/taskboard"
	"ignisos/api/internal/util"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})
	r.Options("/*", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/api/health", s.handleHealth)
	r.Head("/api/health", s.handleHealth)
	r.Get("/api/ready", s.handleReady)
	r.Head("/api/ready", s.handleReady)
	if m := s.service.Metrics(); m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/signup", s.handleAuthSignUp)
		r.Post("/signin", s.handleAuthSignIn)
		r.Post("/reset-password/request", s.handleAuthRequestReset)
		r.Post("/reset-password", s.handleAuthResetPassword)
	})

	r.Get("/api/session", s.handleSession)
	r.Post("/api/session/refresh", s.handleSessionRefresh)
	r.Get("/api/stream", s.handleStream)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionMiddleware)

		r.Post("/api/session/logout", s.handleSessionLogout)
		r.Get("/api/dashboard", s.handleDashboard)
		r.Get("/api/search", s.handleSearch)

		r.Post("/api/capture", s.handleCapture)
		r.Get("/api/sessions", s.handleListSessions)
		r.Post("/api/sessions", s.handleCreateSession)
		r.Delete("/api/sessions/{sessionID}", s.handleDeleteSession)
		r.Get("/api/tasks", s.handleListTasks)
		r.Post("/api/sessions/{sessionID}/tasks/{taskID}/toggle", s.handleToggleTask)
		r.Patch("/api/sessions/{sessionID}/tasks/{taskID}", s.handleUpdateTask)
		r.Delete("/api/sessions/{sessionID}/tasks/{taskID}", s.handleDeleteTask)

		r.Get("/api/settings", s.handleGetSettings)
		r.Patch("/api/settings", s.handleUpdateSettings)
		r.Get("/api/settings/team", s.handleListTeam)
		r.Post("/api/settings/team", s.handleAddTeamMember)
		r.Patch("/api/settings/team/{id}", s.handleUpdateTeamMember)
		r.Delete("/api/settings/team/{id}", s.handleRemoveTeamMember)

		r.Route("/api/maintenance", func(r chi.Router) {
			r.Get("/clients", s.handleListMaintenanceClients)
			r.Post("/clients", s.handleCreateMaintenanceClient)
			r.Delete("/clients/{id}", s.handleDeleteMaintenanceClient)
			r.Get("/tasks", s.handleListMaintenanceTasks)
			r.Post("/tasks", s.handleCreateMaintenanceTask)
			r.Post("/tasks/{id}/toggle", s.handleToggleMaintenanceTask)
			r.Delete("/tasks/{id}", s.handleDeleteMaintenanceTask)
			r.Get("/summary", s.handleMaintenanceSummary)
		})

		r.Route("/api/kanban", func(r chi.Router) {
			r.Get("/projects", s.handleListKanbanProjects)
			r.Post("/projects", s.handleCreateKanbanProject)
			r.Patch("/projects/{id}", s.handleUpdateKanbanProject)
			r.Delete("/projects/{id}", s.handleDeleteKanbanProject)
			r.Get("/projects/{id}/tasks", s.handleKanbanBoard)
			r.Post("/projects/{id}/tasks", s.handleCreateKanbanTask)
			r.Patch("/tasks/{id}", s.handleUpdateKanbanTask)
			r.Delete("/tasks/{id}", s.handleDeleteKanbanTask)
			r.Post("/tasks/{id}/move", s.handleMoveKanbanTask)
		})

		r.Route("/api/qc", func(r chi.Router) {
			r.Get("/checklist", s.handleQCChecklist)
			r.Get("/projects", s.handleListQCProjects)
			r.Post("/projects", s.handleCreateQCProject)
			r.Delete("/projects/{id}", s.handleDeleteQCProject)
			r.Post("/projects/{id}/checks/{checkID}/toggle", s.handleToggleQCCheck)
			r.Post("/projects/{id}/inspect", s.handleInspectQCProject)
		})

		r.Route("/api/weekly", func(r chi.Router) {
			r.Get("/weeks", s.handleListWeeks)
			r.Post("/weeks", s.handleCreateWeek)
			r.Delete("/weeks/{id}", s.handleDeleteWeek)
			r.Get("/weeks/{id}/report", s.handleWeekReport)
			r.Get("/weeks/{id}/tasks", s.handleWeeklyBoard)
			r.Post("/weeks/{id}/tasks", s.handleCreateWeeklyTask)
			r.Patch("/tasks/{id}", s.handleUpdateWeeklyTask)
			r.Delete("/tasks/{id}", s.handleDeleteWeeklyTask)
			r.Post("/tasks/{id}/subtasks", s.handleAddSubtask)
			r.Post("/tasks/{id}/subtasks/{subtaskID}/toggle", s.handleToggleSubtask)
			r.Post("/tasks/{id}/comments", s.handleAddComment)
		})
	})

	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Readiness(ctx) {
		if err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionKey struct{}

// sessionMiddleware rejects requests without a valid bearer token and makes
// the session available to handlers.
func (s *HTTPServer) sessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := s.requireSession(w, r, bearerToken(r))
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request, token string) (Session, bool) {
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		elapsed := time.Since(started)
		s.service.Metrics().ObserveRequest(r.Method, writer.status, elapsed)
		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			elapsed.Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("app: unhandled error: %v", err)
	}
	writeError(w, status, code, message, details)
}

const maxBodyBytes = 1 << 20

// decodeBody treats a missing or empty body as "{}". Notes pasted into
// capture are the largest bodies; 1 MiB is far above any of them.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(target)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, http.ErrBodyReadAfterClose):
		return nil
	default:
		return fmt.Errorf("invalid JSON body")
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := strings.TrimSpace(r.URL.Query().Get(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func authStatus(code string) int {
	switch code {
	case authpw.CodeEmailInUse:
		return http.StatusConflict
	case authpw.CodeWeakPassword, authpw.CodeInvalidEmail:
		return http.StatusBadRequest
	case authpw.CodeTooManyRequests:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var authErr *authpw.Error
	if errors.As(err, &authErr) {
		return authStatus(authErr.Code), authErr.Code, authpw.Message(authErr.Code), nil
	}
	if errors.Is(err, authpw.ErrInvalidResetToken) {
		return http.StatusBadRequest, "RESET_FAILED", authpw.ErrInvalidResetToken.Error(), nil
	}
	if errors.Is(err, capture.ErrEmptyText) {
		return http.StatusBadRequest, "VALIDATION_ERROR", capture.ErrEmptyText.Error(), map[string]any{"field": "text"}
	}
	if errors.Is(err, capture.ErrNoTasks) {
		return http.StatusUnprocessableEntity, "NO_TASKS", capture.ErrNoTasks.Error(), nil
	}
	if errors.Is(err, llm.ErrNoAPIKey) {
		return http.StatusServiceUnavailable, "CAPTURE_UNAVAILABLE", "Configura tu API key de OpenAI en Configuración", nil
	}
	var captureErr *capture.Error
	if errors.As(err, &captureErr) {
		return http.StatusBadGateway, "CAPTURE_FAILED", captureErr.Error(), map[string]any{"stage": captureErr.Stage}
	}
	if errors.Is(err, taskboard.ErrConflict) {
		return http.StatusConflict, "CONFLICT", "La sesión cambió mientras se guardaba; intenta de nuevo", nil
	}
	if errors.Is(err, taskboard.ErrInvalidPatch) {
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil
	}
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	if errors.Is(err, export.ErrUnsupportedFormat) {
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), map[string]any{"field": "format"}
	}
	if errors.Is(err, qccheck.ErrUnavailable) {
		return http.StatusServiceUnavailable, "QC_UNAVAILABLE", "Headless browser not available", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

func sessionPayload(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"userId":       session.UserID,
		"email":        session.Email,
		"userName":     session.UserName,
		"expiresAt":    session.ExpiresAt.Unix(),
	}
}

func (s *HTTPServer) handleAuthSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"displayName"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionPayload(session))
}

func (s *HTTPServer) handleAuthSignIn(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, err := s.service.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleAuthRequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	token, err := s.service.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		var authErr *authpw.Error
		if !errors.As(err, &authErr) {
			log.Printf("auth: reset request failed: %v", err)
			err = nil
		}
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}

	response := map[string]any{
		"message": "Si la cuenta existe, te enviamos un correo para restablecer tu contraseña",
	}
	// Dev bypass: the token comes back only when no mail transport is configured.
	if token != "" {
		response["devResetToken"] = token
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *HTTPServer) handleAuthResetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token       string `json:"token"`
		NewPassword string `json:"newPassword"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.ResetPassword(r.Context(), body.Token, body.NewPassword); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Contraseña actualizada",
	})
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "userName": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"userId":        session.UserID,
		"email":         session.Email,
		"userName":      session.UserName,
		"expiresAt":     session.ExpiresAt.Unix(),
	})
}

func (s *HTTPServer) handleSessionRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.RefreshToken) == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, err := s.service.Refresh(r.Context(), body.RefreshToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionPayload(session))
}

func (s *HTTPServer) handleSessionLogout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	_ = decodeBody(r, &body)
	if err := s.service.Logout(r.Context(), sessionFrom(r), body.RefreshToken); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Dashboard(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	response, err := s.service.Search(r.Context(), sessionFrom(r).UserID, query.Get("q"), query.Get("kind"), queryInt(r, "limit", 20), queryInt(r, "offset", 0))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}
