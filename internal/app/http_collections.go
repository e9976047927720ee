package app

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ignisos/api/internal/qccheck"
)

func (s *HTTPServer) handleListMaintenanceClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.service.MaintenanceClients(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": mapSlice(clients, maintenanceClientJSON)})
}

func (s *HTTPServer) handleCreateMaintenanceClient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	client, err := s.service.CreateMaintenanceClient(r.Context(), sessionFrom(r).UserID, body.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, maintenanceClientJSON(client))
}

func (s *HTTPServer) handleDeleteMaintenanceClient(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMaintenanceClient(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListMaintenanceTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.service.MaintenanceTasks(r.Context(), sessionFrom(r).UserID, r.URL.Query().Get("clientId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": mapSlice(tasks, maintenanceTaskJSON)})
}

func (s *HTTPServer) handleCreateMaintenanceTask(w http.ResponseWriter, r *http.Request) {
	var body CreateMaintenanceTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateMaintenanceTask(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, maintenanceTaskJSON(task))
}

func (s *HTTPServer) handleToggleMaintenanceTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.ToggleMaintenanceTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maintenanceTaskJSON(task))
}

func (s *HTTPServer) handleDeleteMaintenanceTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteMaintenanceTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleMaintenanceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.MaintenanceSummary(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handleListKanbanProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.KanbanProjects(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": mapSlice(projects, kanbanProjectJSON)})
}

func (s *HTTPServer) handleCreateKanbanProject(w http.ResponseWriter, r *http.Request) {
	var body KanbanProjectInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateKanbanProject(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kanbanProjectJSON(project))
}

func (s *HTTPServer) handleUpdateKanbanProject(w http.ResponseWriter, r *http.Request) {
	var body KanbanProjectInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.UpdateKanbanProject(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kanbanProjectJSON(project))
}

func (s *HTTPServer) handleDeleteKanbanProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteKanbanProject(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleKanbanBoard(w http.ResponseWriter, r *http.Request) {
	columns, err := s.service.KanbanBoard(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"columns": kanbanColumnsJSON(columns)})
}

func (s *HTTPServer) handleCreateKanbanTask(w http.ResponseWriter, r *http.Request) {
	var body KanbanTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateKanbanTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, kanbanTaskJSON(task))
}

func (s *HTTPServer) handleUpdateKanbanTask(w http.ResponseWriter, r *http.Request) {
	var body KanbanTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.UpdateKanbanTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kanbanTaskJSON(task))
}

func (s *HTTPServer) handleMoveKanbanTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Column string `json:"column"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.MoveKanbanTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body.Column)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, kanbanTaskJSON(task))
}

func (s *HTTPServer) handleDeleteKanbanTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteKanbanTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleQCChecklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": qccheck.Checklist})
}

func (s *HTTPServer) handleListQCProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.QCProjects(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": mapSlice(projects, qcProjectJSON)})
}

func (s *HTTPServer) handleCreateQCProject(w http.ResponseWriter, r *http.Request) {
	var body CreateQCProjectInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	project, err := s.service.CreateQCProject(r.Context(), sessionFrom(r).UserID, body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, qcProjectJSON(project))
}

func (s *HTTPServer) handleDeleteQCProject(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteQCProject(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleToggleQCCheck(w http.ResponseWriter, r *http.Request) {
	project, err := s.service.ToggleQCCheck(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), chi.URLParam(r, "checkID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, qcProjectJSON(project))
}

func (s *HTTPServer) handleInspectQCProject(w http.ResponseWriter, r *http.Request) {
	project, report, err := s.service.InspectQCProject(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project": qcProjectJSON(project),
		"report":  report,
	})
}

func (s *HTTPServer) handleListWeeks(w http.ResponseWriter, r *http.Request) {
	weeks, err := s.service.Weeks(r.Context(), sessionFrom(r).UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"weeks":       mapSlice(weeks, weekJSON),
		"currentWeek": s.service.CurrentWeekName(),
	})
}

func (s *HTTPServer) handleCreateWeek(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	week, created, err := s.service.CreateWeek(r.Context(), sessionFrom(r).UserID, body.Name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, weekJSON(week))
}

func (s *HTTPServer) handleDeleteWeek(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWeek(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleWeekReport(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.ExportWeek(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", result.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Data)
}

func (s *HTTPServer) handleWeeklyBoard(w http.ResponseWriter, r *http.Request) {
	week, days, err := s.service.WeeklyBoard(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"week": weekJSON(week),
		"days": weeklyDaysJSON(days),
	})
}

func (s *HTTPServer) handleCreateWeeklyTask(w http.ResponseWriter, r *http.Request) {
	var body WeeklyTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.CreateWeeklyTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, weeklyTaskJSON(task))
}

func (s *HTTPServer) handleUpdateWeeklyTask(w http.ResponseWriter, r *http.Request) {
	var body WeeklyTaskInput
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.UpdateWeeklyTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weeklyTaskJSON(task))
}

func (s *HTTPServer) handleDeleteWeeklyTask(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteWeeklyTask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddSubtask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text     string `json:"text"`
		Assignee string `json:"assignee"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.AddSubtask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), body.Text, body.Assignee)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, weeklyTaskJSON(task))
}

func (s *HTTPServer) handleToggleSubtask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.ToggleSubtask(r.Context(), sessionFrom(r).UserID, chi.URLParam(r, "id"), chi.URLParam(r, "subtaskID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, weeklyTaskJSON(task))
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	task, err := s.service.AddComment(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), body.Text)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, weeklyTaskJSON(task))
}
