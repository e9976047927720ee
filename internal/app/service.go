package app

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"ignisos/api/internal/auth"
	"ignisos/api/internal/authpw"
	"ignisos/api/internal/config"
	"ignisos/api/internal/export"
	"ignisos/api/internal/feed"
	"ignisos/api/internal/locale"
	"ignisos/api/internal/metrics"
	"ignisos/api/internal/qccheck"
	"ignisos/api/internal/roster"
	"ignisos/api/internal/search"
	"ignisos/api/internal/store"
	"ignisos/api/internal/taskboard"
	"ignisos/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	Email        string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	Ping(context.Context) error

	ListMaintenanceClients(context.Context, string) ([]store.MaintenanceClient, error)
	GetMaintenanceClient(context.Context, string, string) (store.MaintenanceClient, error)
	InsertMaintenanceClient(context.Context, store.MaintenanceClient) error
	DeleteMaintenanceClient(context.Context, string, string) (bool, error)
	ListMaintenanceTasks(context.Context, string) ([]store.MaintenanceTask, error)
	InsertMaintenanceTask(context.Context, store.MaintenanceTask) error
	ToggleMaintenanceTask(context.Context, string, string) (store.MaintenanceTask, error)
	DeleteMaintenanceTask(context.Context, string, string) (bool, error)

	ListKanbanProjects(context.Context, string) ([]store.KanbanProject, error)
	GetKanbanProject(context.Context, string, string) (store.KanbanProject, error)
	InsertKanbanProject(context.Context, store.KanbanProject) error
	UpdateKanbanProject(context.Context, store.KanbanProject) (bool, error)
	DeleteKanbanProject(context.Context, string, string) (bool, error)
	ListKanbanTasks(context.Context, string, string) ([]store.KanbanTask, error)
	GetKanbanTask(context.Context, string, string) (store.KanbanTask, error)
	InsertKanbanTask(context.Context, store.KanbanTask) error
	UpdateKanbanTask(context.Context, store.KanbanTask) (bool, error)
	DeleteKanbanTask(context.Context, string, string) (bool, error)

	ListQCProjects(context.Context, string) ([]store.QCProject, error)
	GetQCProject(context.Context, string, string) (store.QCProject, error)
	InsertQCProject(context.Context, store.QCProject) error
	MutateQCChecks(context.Context, string, string, func(map[string]bool) string) (store.QCProject, error)
	DeleteQCProject(context.Context, string, string) (bool, error)

	ListWeeks(context.Context, string) ([]store.Week, error)
	GetWeek(context.Context, string, string) (store.Week, error)
	EnsureWeek(context.Context, store.Week) (store.Week, bool, error)
	DeleteWeek(context.Context, string, string) (bool, error)
	ListWeeklyTasks(context.Context, string, string) ([]store.WeeklyTask, error)
	InsertWeeklyTask(context.Context, store.WeeklyTask) error
	MutateWeeklyTask(context.Context, string, string, func(*store.WeeklyTask) error) (store.WeeklyTask, error)
	DeleteWeeklyTask(context.Context, string, string) (bool, error)
}

// sessionStore keeps refresh tokens and revoked access tokens. Postgres and
// Redis both implement it.
type sessionStore interface {
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeUserRefreshSessions(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	Ping(context.Context) error
}

type taskBoard interface {
	Sessions(context.Context, string) ([]store.CaptureSession, error)
	AddSession(context.Context, string, store.CaptureSession) (store.CaptureSession, error)
	DeleteSession(context.Context, string, string) (bool, error)
	Toggle(context.Context, string, string, string) (bool, error)
	Update(context.Context, string, string, string, taskboard.TaskPatch) (bool, error)
	Delete(context.Context, string, string, string) (bool, error)
	Tasks(context.Context, string, taskboard.Filter) ([]taskboard.TaskView, error)
}

type capturer interface {
	Capture(ctx context.Context, userID, text string) (store.CaptureSession, error)
}

type settingsStore interface {
	Members(context.Context) ([]roster.Member, error)
	Add(ctx context.Context, name, color string) (roster.Member, error)
	Update(ctx context.Context, id string, patch roster.MemberPatch) (roster.Member, bool, error)
	Remove(ctx context.Context, id string) (bool, error)
	Theme(context.Context) (string, error)
	SetTheme(context.Context, string) error
	ToggleTheme(context.Context) (string, error)
	OpenAIAPIKey(context.Context) (string, error)
	SetOpenAIAPIKey(context.Context, string) error
}

type mailer interface {
	IsConfigured() bool
	SendPasswordResetEmail(to, userName, resetURL string) error
}

type searcher interface {
	Search(search.Query) search.Response
	Index(records ...search.Record)
	Delete(ids ...string)
}

type siteInspector interface {
	Inspect(ctx context.Context, target string) (qccheck.Report, error)
	Budget() time.Duration
}

type weekExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

// Components are the collaborators a Service is assembled from. Store, Users,
// Sessions, Board and Settings are required; the rest degrade gracefully.
type Components struct {
	Store     dataStore
	Users     authpw.UserStore
	Sessions  sessionStore
	Board     taskBoard
	Capture   capturer
	Settings  settingsStore
	Mailer    mailer
	Search    searcher
	Inspector siteInspector
	Exporter  weekExporter
	Hub       feed.Hub
	Metrics   *metrics.Metrics
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	auth      *authpw.Service
	tokens    *auth.Signer
	board     taskBoard
	capture   capturer
	settings  settingsStore
	mailer    mailer
	search    searcher
	inspector siteInspector
	exporter  weekExporter
	hub       feed.Hub
	metrics   *metrics.Metrics
	loc       *time.Location
	now       func() time.Time
}

func New(cfg config.Config, c Components) *Service {
	return &Service{
		cfg:       cfg,
		store:     c.Store,
		sessions:  c.Sessions,
		auth:      authpw.NewService(c.Users),
		tokens:    auth.NewSigner(cfg.JWTSecret, cfg.AccessTTL),
		board:     c.Board,
		capture:   c.Capture,
		settings:  c.Settings,
		mailer:    c.Mailer,
		search:    c.Search,
		inspector: c.Inspector,
		exporter:  c.Exporter,
		hub:       c.Hub,
		metrics:   c.Metrics,
		loc:       cfg.Location(),
		now:       time.Now,
	}
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Readiness pings every backing service and reports each result by name.
func (s *Service) Readiness(ctx context.Context) map[string]error {
	checks := map[string]error{"database": s.store.Ping(ctx)}
	if s.sessions != nil {
		checks["sessions"] = s.sessions.Ping(ctx)
	}
	return checks
}

func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// SignUp creates the account and signs it in straight away.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (Session, error) {
	user, err := s.auth.SignUp(ctx, authpw.SignUpRequest{Email: email, Password: password, DisplayName: displayName})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	user, err := s.auth.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// RequestPasswordReset mails a reset link. When SMTP is not configured the
// token is returned instead so local setups can finish the flow.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, token, err := s.auth.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}
	if !s.SMTPConfigured() {
		return token, nil
	}
	resetURL := strings.TrimRight(s.cfg.AppURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
	if err := s.mailer.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
		log.Printf("auth: send reset email to %s: %v", user.Email, err)
		return "", fmt.Errorf("send reset email: %w", err)
	}
	return "", nil
}

// ResetPassword sets the new password and signs the user out of every
// device. Access tokens already issued lapse on their own.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	userID, err := s.auth.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
	if err != nil {
		return err
	}
	if err := s.sessions.RevokeUserRefreshSessions(ctx, userID); err != nil {
		log.Printf("auth: revoke sessions after reset for %s: %v", userID, err)
	}
	return nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	token, claims, err := s.tokens.Issue(user.ID, user.Email, user.DisplayName)
	if err != nil {
		return Session{}, err
	}

	refresh, err := util.NewSecret(48)
	if err != nil {
		return Session{}, err
	}
	refreshExpires := s.now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		Email:        user.Email,
		UserName:     user.DisplayName,
		JTI:          claims.JTI,
		ExpiresAt:    claims.ExpiresAt(),
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.sessions.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		Email:     user.Email,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: claims.ExpiresAt(),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.sessions.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// Subscribe opens a change stream for one user.
func (s *Service) Subscribe(ctx context.Context, userID string) (*feed.Subscription, error) {
	if s.hub == nil {
		return nil, unavailable("STREAM_UNAVAILABLE", "Change feed not configured")
	}
	return s.hub.Subscribe(ctx, userID)
}

func (s *Service) publish(ctx context.Context, collection, op, userID, documentID string) {
	if s.hub == nil {
		return
	}
	if err := s.hub.Publish(ctx, feed.Change{
		Collection: collection,
		Op:         op,
		UserID:     userID,
		DocumentID: documentID,
	}); err != nil {
		log.Printf("feed: publish %s.%s %s: %v", collection, op, documentID, err)
	}
}

func (s *Service) index(records ...search.Record) {
	if s.search != nil {
		s.search.Index(records...)
	}
}

func (s *Service) unindex(ids ...string) {
	if s.search != nil && len(ids) > 0 {
		s.search.Delete(ids...)
	}
}

func (s *Service) Search(ctx context.Context, userID, text, kind string, limit, offset int) (search.Response, error) {
	k := search.Kind(strings.TrimSpace(kind))
	if k != "" && !k.Valid() {
		return search.Response{}, validationError("kind", "kind must be capture, maintenance or kanban")
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.search.Search(search.Query{UserID: userID, Text: text, Kind: k, Limit: limit, Offset: offset}), nil
}

// Dashboard summarises the user's open work across every feature.
func (s *Service) Dashboard(ctx context.Context, userID string) (map[string]any, error) {
	active, err := s.board.Tasks(ctx, userID, taskboard.Filter{Completed: boolPtr(false)})
	if err != nil {
		return nil, err
	}
	qcProjects, err := s.store.ListQCProjects(ctx, userID)
	if err != nil {
		return nil, err
	}
	maintenance, err := s.store.ListMaintenanceTasks(ctx, userID)
	if err != nil {
		return nil, err
	}
	pending := 0
	for _, task := range maintenance {
		if !task.Completed {
			pending++
		}
	}
	high := 0
	for _, task := range active {
		if task.Urgency == "Alta" {
			high++
		}
	}

	return map[string]any{
		"activeTasks":        active,
		"activeCount":        len(active),
		"highUrgencyCount":   high,
		"qcProjects":         len(qcProjects),
		"pendingMaintenance": pending,
		"currentWeek":        locale.WeekName(s.now().In(s.loc)),
		"today":              locale.LongDate(s.now().In(s.loc)),
	}, nil
}

func boolPtr(v bool) *bool { return &v }
