package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"ignisos/api/internal/roster"
	"ignisos/api/internal/taskboard"
)

func (s *HTTPServer) handleCapture(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.Capture(r.Context(), sessionFrom(r).UserID, body.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"session": sessionJSON(session),
		"count":   len(session.Tasks),
	})
}

func (s *HTTPServer) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.Sessions(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": mapSlice(sessions, sessionJSON)})
}

func (s *HTTPServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	session, err := s.service.CreateSession(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionJSON(session))
}

func (s *HTTPServer) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	applied, err := s.service.DeleteSession(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "sessionID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *HTTPServer) handleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tasks, err := s.service.Tasks(r.Context(), sessionFrom(r).UserID, TaskListFilterInput{
		Status:      query.Get("status"),
		Urgency:     query.Get("urgency"),
		Responsible: query.Get("responsible"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "count": len(tasks)})
}

// Task mutations answer 200 with applied=false when the session or task is
// gone; the browser treats that as already done.
func (s *HTTPServer) handleToggleTask(w http.ResponseWriter, r *http.Request) {
	applied, err := s.service.ToggleTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *HTTPServer) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var patch taskboard.TaskPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	applied, err := s.service.UpdateTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "taskID"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *HTTPServer) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	applied, err := s.service.DeleteTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "sessionID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"applied": applied})
}

func (s *HTTPServer) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Settings(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body SettingsPatchInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.UpdateSettings(r.Context(), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleListTeam(w http.ResponseWriter, r *http.Request) {
	members, err := s.service.TeamMembers(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

func (s *HTTPServer) handleAddTeamMember(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name  string `json:"name"`
		Color string `json:"color"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, err := s.service.AddTeamMember(r.Context(), body.Name, body.Color)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *HTTPServer) handleUpdateTeamMember(w http.ResponseWriter, r *http.Request) {
	var patch roster.MemberPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	member, err := s.service.UpdateTeamMember(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *HTTPServer) handleRemoveTeamMember(w http.ResponseWriter, r *http.Request) {
	if err := s.service.RemoveTeamMember(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
