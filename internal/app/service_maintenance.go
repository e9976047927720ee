package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"

	"ignisos/api/internal/feed"
	"ignisos/api/internal/search"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

var priorities = []string{"alta", "media", "baja"}

type CreateMaintenanceTaskInput struct {
	ClientID    string `json:"clientId"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate"`
}

type MaintenanceClientSummary struct {
	ClientID   string `json:"clientId"`
	ClientName string `json:"clientName"`
	Pending    int    `json:"pending"`
}

type MaintenanceSummary struct {
	TotalPending int                        `json:"totalPending"`
	HighPriority int                        `json:"highPriority"`
	Clients      []MaintenanceClientSummary `json:"clients"`
}

func (s *Service) MaintenanceClients(ctx context.Context, userID string) ([]store.MaintenanceClient, error) {
	clients, err := s.store.ListMaintenanceClients(ctx, userID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(clients, func(i, j int) bool {
		return strings.ToLower(clients[i].Name) < strings.ToLower(clients[j].Name)
	})
	return clients, nil
}

func (s *Service) CreateMaintenanceClient(ctx context.Context, userID, name string) (store.MaintenanceClient, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return store.MaintenanceClient{}, err
	}
	client := store.MaintenanceClient{
		ID:        util.NewID("mcl"),
		UserID:    userID,
		Name:      name,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertMaintenanceClient(ctx, client); err != nil {
		return store.MaintenanceClient{}, err
	}
	s.publish(ctx, feed.CollectionMaintenance, feed.OpCreated, userID, client.ID)
	return client, nil
}

// DeleteMaintenanceClient removes the client together with its tasks.
func (s *Service) DeleteMaintenanceClient(ctx context.Context, userID, clientID string) error {
	tasks, err := s.store.ListMaintenanceTasks(ctx, userID)
	if err != nil {
		return err
	}
	deleted, err := s.store.DeleteMaintenanceClient(ctx, userID, clientID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Client")
	}
	var ids []string
	for _, task := range tasks {
		if task.ClientID == clientID {
			ids = append(ids, task.ID)
		}
	}
	s.unindex(ids...)
	s.publish(ctx, feed.CollectionMaintenance, feed.OpDeleted, userID, clientID)
	return nil
}

func (s *Service) MaintenanceTasks(ctx context.Context, userID, clientID string) ([]store.MaintenanceTask, error) {
	tasks, err := s.store.ListMaintenanceTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return tasks, nil
	}
	filtered := make([]store.MaintenanceTask, 0, len(tasks))
	for _, task := range tasks {
		if task.ClientID == clientID {
			filtered = append(filtered, task)
		}
	}
	return filtered, nil
}

func (s *Service) CreateMaintenanceTask(ctx context.Context, userID string, input CreateMaintenanceTaskInput) (store.MaintenanceTask, error) {
	description := strings.TrimSpace(input.Description)
	if err := required("description", description); err != nil {
		return store.MaintenanceTask{}, err
	}
	priority := strings.ToLower(strings.TrimSpace(input.Priority))
	if priority == "" {
		priority = "media"
	}
	if err := oneOf("priority", priority, priorities...); err != nil {
		return store.MaintenanceTask{}, err
	}
	client, err := s.store.GetMaintenanceClient(ctx, userID, strings.TrimSpace(input.ClientID))
	if errors.Is(err, sql.ErrNoRows) {
		return store.MaintenanceTask{}, notFound("Client")
	}
	if err != nil {
		return store.MaintenanceTask{}, err
	}

	task := store.MaintenanceTask{
		ID:          util.NewID("mtk"),
		UserID:      userID,
		ClientID:    client.ID,
		ClientName:  client.Name,
		Description: description,
		Priority:    priority,
		DueDate:     strings.TrimSpace(input.DueDate),
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.InsertMaintenanceTask(ctx, task); err != nil {
		return store.MaintenanceTask{}, err
	}
	s.index(search.MaintenanceRecord(task))
	s.publish(ctx, feed.CollectionMaintenance, feed.OpCreated, userID, task.ID)
	return task, nil
}

func (s *Service) ToggleMaintenanceTask(ctx context.Context, userID, taskID string) (store.MaintenanceTask, error) {
	task, err := s.store.ToggleMaintenanceTask(ctx, userID, taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.MaintenanceTask{}, notFound("Task")
	}
	if err != nil {
		return store.MaintenanceTask{}, err
	}
	s.publish(ctx, feed.CollectionMaintenance, feed.OpUpdated, userID, task.ID)
	return task, nil
}

func (s *Service) DeleteMaintenanceTask(ctx context.Context, userID, taskID string) error {
	deleted, err := s.store.DeleteMaintenanceTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if !deleted {
		return notFound("Task")
	}
	s.unindex(taskID)
	s.publish(ctx, feed.CollectionMaintenance, feed.OpDeleted, userID, taskID)
	return nil
}

// MaintenanceSummary counts pending work overall, at high priority and per
// client. Clients with nothing pending are still listed.
func (s *Service) MaintenanceSummary(ctx context.Context, userID string) (MaintenanceSummary, error) {
	clients, err := s.MaintenanceClients(ctx, userID)
	if err != nil {
		return MaintenanceSummary{}, err
	}
	tasks, err := s.store.ListMaintenanceTasks(ctx, userID)
	if err != nil {
		return MaintenanceSummary{}, err
	}

	pendingByClient := make(map[string]int, len(clients))
	summary := MaintenanceSummary{Clients: make([]MaintenanceClientSummary, 0, len(clients))}
	for _, task := range tasks {
		if task.Completed {
			continue
		}
		summary.TotalPending++
		if task.Priority == "alta" {
			summary.HighPriority++
		}
		pendingByClient[task.ClientID]++
	}
	for _, client := range clients {
		summary.Clients = append(summary.Clients, MaintenanceClientSummary{
			ClientID:   client.ID,
			ClientName: client.Name,
			Pending:    pendingByClient[client.ID],
		})
	}
	return summary, nil
}
