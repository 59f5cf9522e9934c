package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"helpconv/internal/conversation"
	"helpconv/internal/session"
	"helpconv/pkg/interfaces"
	"helpconv/pkg/types"
)

// AdminKeyHeader carries the shared secret for the login-session routes.
const AdminKeyHeader = "X-Admin-Key"

// Registry is the part of websocket.Registry the API reports on.
type Registry interface {
	GetStats() map[string]int
}

// HealthChecker is a dependency whose reachability /health reports.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the components the API exposes.
type Deps struct {
	Sessions  interfaces.SessionManager
	Store     HealthChecker // login-session store
	Container *conversation.Container
	Registry  Registry
	Metrics   http.Handler // served at /metrics when set
	WebSocket http.Handler // served at /ws/helpconversations when set
	AdminKey  string       // empty disables the login-session routes
	Location  *time.Location
	Log       zerolog.Logger
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	deps    Deps
	log     zerolog.Logger
	started time.Time
	router  *http.ServeMux
}

// NewServer wires the routes.
func NewServer(deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.Local
	}
	s := &Server{
		deps:    deps,
		log:     deps.Log.With().Str("component", "api").Logger(),
		started: time.Now(),
		router:  http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

// ARCHITECTURAL DISCOVERY: Route setup follows REST conventions with proper middleware
// CORS and JSON middleware applied to all JSON routes for web client compatibility
func (s *Server) setupRoutes() {
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/api/students", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStudents))))
	s.router.Handle("/api/students/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleStudentByID))))
	s.router.Handle("/api/sessions", s.corsMiddleware(s.jsonMiddleware(s.adminMiddleware(http.HandlerFunc(s.handleSessions)))))
	s.router.Handle("/api/sessions/", s.corsMiddleware(s.jsonMiddleware(s.adminMiddleware(http.HandlerFunc(s.handleSessionByToken)))))
	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics)
	}
	if s.deps.WebSocket != nil {
		s.router.Handle("/ws/helpconversations", s.deps.WebSocket)
	}
}

// FUNCTIONAL DISCOVERY: Implement http.Handler interface for integration with standard HTTP server
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types for JSON serialization
type StudentResponse struct {
	StudentID     string `json:"student_id"`
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	ScreenName    string `json:"screen_name"`
	Conversations int    `json:"conversations"`
	Undeleted     int    `json:"undeleted"`
	UnreadByStaff int    `json:"unread_by_staff"`
}

type StudentsResponse struct {
	Students []StudentResponse `json:"students"`
}

type ConversationResponse struct {
	Number          int    `json:"number"`
	Subject         string `json:"subject"`
	Messages        int    `json:"messages"`
	Undeleted       int    `json:"undeleted"`
	UnreadByStudent int    `json:"unread_by_student"`
	UnreadByStaff   int    `json:"unread_by_staff"`
}

type StudentDetailResponse struct {
	StudentResponse
	ConversationList []ConversationResponse `json:"conversation_list"`
}

type CreateSessionResponse struct {
	Session *types.LoginSession `json:"session"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	Model       conversation.Stats     `json:"model"`
	Sessions    int                    `json:"active_sessions"`
	System      map[string]interface{} `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func studentResponse(s conversation.ListSummary) StudentResponse {
	return StudentResponse{
		StudentID:     s.Student.StudentID,
		FirstName:     s.Student.FirstName,
		LastName:      s.Student.LastName,
		ScreenName:    s.Student.ScreenName,
		Conversations: s.NumConversations,
		Undeleted:     s.NumUndeleted,
		UnreadByStaff: s.NumUnreadByStaff,
	}
}

// GET /api/students - the roster in student ID order
func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	roster := s.deps.Container.Roster()
	out := StudentsResponse{Students: make([]StudentResponse, 0, len(roster))}
	for _, line := range roster {
		out.Students = append(out.Students, studentResponse(line))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// GET /api/students/{id} - one student with conversation summaries
func (s *Server) handleStudentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	studentID := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/students/"), "/")[0]
	if !types.IsValidUserID(studentID) {
		s.sendError(w, "Invalid student ID", http.StatusBadRequest)
		return
	}

	var (
		detail StudentDetailResponse
		found  bool
	)
	s.deps.Container.Atomically(func(rd *conversation.Reader) {
		convs, err := rd.StudentConversations(studentID)
		if err != nil {
			return
		}
		found = true
		for _, line := range rd.Roster() {
			if line.Student.StudentID == studentID {
				detail.StudentResponse = studentResponse(line)
				break
			}
		}
		detail.ConversationList = make([]ConversationResponse, 0, len(convs))
		for _, c := range convs {
			detail.ConversationList = append(detail.ConversationList, ConversationResponse{
				Number:          c.Number,
				Subject:         c.Subject,
				Messages:        c.NumMessages,
				Undeleted:       c.NumUndeleted,
				UnreadByStudent: c.NumUnreadByStudent,
				UnreadByStaff:   c.NumUnreadByStaff,
			})
		}
	})
	if !found {
		s.sendError(w, "Student not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// FUNCTIONAL DISCOVERY: Handle login session collection (POST /api/sessions)
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.CreateLoginSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := req.Validate(); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ls, err := s.deps.Sessions.Create(r.Context(), req)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to create login session")
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusCreated, CreateSessionResponse{Session: ls})
}

// FUNCTIONAL DISCOVERY: DELETE /api/sessions/{token} - End a login session
func (s *Server) handleSessionByToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")[0]
	if token == "" {
		s.sendError(w, "Session token required", http.StatusBadRequest)
		return
	}

	err := s.deps.Sessions.End(r.Context(), token)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusOK, map[string]string{"message": "Session ended successfully"})
	case errors.Is(err, interfaces.ErrSessionNotFound):
		s.sendError(w, "Session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrSessionAlreadyEnded):
		s.sendError(w, "Session already ended", http.StatusBadRequest)
	default:
		s.log.Error().Err(err).Msg("Failed to end login session")
		s.sendError(w, "Failed to end session", http.StatusInternalServerError)
	}
}

// FUNCTIONAL DISCOVERY: GET /health - System health check with component validation
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"
	if s.deps.Store != nil {
		if err := s.deps.Store.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = fmt.Sprintf("error: %v", err)
		}
	}

	var connections map[string]int
	if s.deps.Registry != nil {
		connections = s.deps.Registry.GetStats()
	}
	var memory runtime.MemStats
	runtime.ReadMemStats(&memory)

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().In(s.deps.Location),
		Database:    dbStatus,
		Connections: connections,
		Model:       s.deps.Container.Stats(),
		Sessions:    s.deps.Sessions.ActiveCount(),
		System: map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"heap_bytes":     memory.HeapAlloc,
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		},
	}

	// FUNCTIONAL DISCOVERY: Return 503 if any component is unhealthy
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write response")
	}
}

// FUNCTIONAL DISCOVERY: Consistent error response format
func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

// adminMiddleware guards the login-session routes with the shared admin key.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminKey == "" {
			s.sendError(w, "Admin API disabled", http.StatusForbidden)
			return
		}
		key := r.Header.Get(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.deps.AdminKey)) != 1 {
			s.sendError(w, "Invalid admin key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ARCHITECTURAL DISCOVERY: CORS middleware enables web client access
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+AdminKeyHeader)
		w.Header().Set("Access-Control-Max-Age", "86400")

		// FUNCTIONAL DISCOVERY: Handle preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// FUNCTIONAL DISCOVERY: JSON middleware ensures proper content-type headers
func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
