package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"studygroup-server/internal/apperr"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.indexHandler)
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.HandleFunc("/websocket", s.websocketHandler)

	mux.HandleFunc("POST /api/register", s.registerHandler)
	mux.HandleFunc("POST /api/login", s.loginHandler)
	mux.HandleFunc("GET /api/profile/{id}", s.profileHandler)

	mux.HandleFunc("GET /api/categories", s.categoriesHandler)
	mux.HandleFunc("POST /api/join-group", s.joinGroupHandler)
	mux.HandleFunc("GET /api/groups/{id}/history", s.groupHistoryHandler)

	mux.HandleFunc("GET /api/quiz/{category}", s.quizHandler)
	mux.HandleFunc("POST /api/submit-quiz", s.submitQuizHandler)
	mux.HandleFunc("POST /api/suggest-question", s.suggestQuestionHandler)

	mux.HandleFunc("GET /api/admin/pending-questions", s.pendingQuestionsHandler)
	mux.HandleFunc("POST /api/admin/approve-question/{id}", s.approveQuestionHandler)
	mux.HandleFunc("DELETE /api/admin/reject-question/{id}", s.rejectQuestionHandler)
	mux.HandleFunc("GET /api/admin/archive/{run}/groups/{id}", s.archivedGroupHandler)

	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, IndexResponse{
		Service:           "studygroup-server",
		RegisteredUsers:   s.directory.UserCount(),
		ActiveGroups:      s.registry.ActiveGroupCount(""),
		ApprovedQuestions: s.directory.TotalApproved(),
		PendingQuestions:  s.directory.PendingCount(),
		Connections:       s.connectionManager.Count(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.persistenceManager == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "up", "storage": "in-memory"})
		return
	}

	stats := s.persistenceManager.Health(r.Context())
	status := http.StatusOK
	if stats["status"] != "up" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, stats)
}

func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()

	connectionID := uuid.New().String()
	log.Printf("New connection: %s", connectionID)
	s.connectionManager.AddConnection(connectionID, socket)
	s.connectionHealth.UpdateActivity(connectionID)
	defer func() {
		s.router.Unbind(connectionID)
		s.connectionManager.RemoveConnection(connectionID)
		s.rateLimiter.RemoveConnection(connectionID)
		s.connectionHealth.RemoveConnection(connectionID)
		log.Printf("Connection closed: %s", connectionID)
	}()

	for {
		msgType, data, err := socket.Read(ctx)
		if err != nil {
			log.Printf("Connection %s read error: %v", connectionID, err)
			return
		}

		if !s.rateLimiter.Allow(connectionID) {
			s.sendError(connectionID, "Too many messages, slow down", string(apperr.CodeRateLimited))
			continue
		}
		s.connectionHealth.UpdateActivity(connectionID)

		if msgType != websocket.MessageText {
			log.Printf("Non-text input from %s", connectionID)
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("Invalid JSON from %s: %v", connectionID, err)
			s.sendError(connectionID, "Invalid JSON", string(apperr.CodeInvalidPayload))
			continue
		}

		log.Printf("Message Type '%s' from %s", msg.Type, connectionID)

		if err := ValidateMessageType(msg.Type); err != nil {
			s.sendError(connectionID, err.Error(), string(apperr.CodeOf(err)))
			continue
		}

		switch msg.Type {
		case TypePing:
			s.handlePing(connectionID)
		case TypeJoin:
			s.handleJoin(connectionID, msg.Payload)
		case TypeChat:
			s.handleChat(connectionID, msg.Payload)
		case TypeResult:
			s.handleResult(connectionID, msg.Payload)
		case TypeLeave:
			s.router.Unbind(connectionID)
		}
	}
}

func (s *Server) handlePing(connectionID string) {
	if err := s.connectionManager.Enqueue(connectionID, ServerMessage{Type: TypePong, Payload: struct{}{}}); err != nil {
		log.Printf("Failed to send pong to %s: %v", connectionID, err)
	}
}

func (s *Server) handleJoin(connectionID string, payload json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "Invalid join payload", string(apperr.CodeInvalidPayload))
		return
	}
	if _, err := s.router.Bind(connectionID, req.UserID, req.GroupID); err != nil {
		s.dropRealtime(connectionID, TypeJoin, err)
	}
}

func (s *Server) handleChat(connectionID string, payload json.RawMessage) {
	var req ChatRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "Invalid chat payload", string(apperr.CodeInvalidPayload))
		return
	}
	if _, err := s.router.RouteChat(connectionID, req.Message); err != nil {
		s.dropRealtime(connectionID, TypeChat, err)
	}
}

func (s *Server) handleResult(connectionID string, payload json.RawMessage) {
	var req ResultRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		s.sendError(connectionID, "Invalid result payload", string(apperr.CodeInvalidPayload))
		return
	}
	if _, err := s.router.RouteResult(connectionID, req.Score, req.TotalQuestions); err != nil {
		s.dropRealtime(connectionID, TypeResult, err)
	}
}

// dropRealtime logs a failed join/chat/result. The client is not told; these events are
// fire-and-forget.
func (s *Server) dropRealtime(connectionID, msgType string, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		log.Printf("Dropped %s from %s: %v", msgType, connectionID, err)
		return
	}
	log.Printf("Failed to handle %s from %s: %v", msgType, connectionID, err)
}

func (s *Server) sendError(connectionID, message, code string) {
	response := ServerMessage{
		Type:    TypeError,
		Payload: ErrorMessage{Message: message, Code: code},
	}
	if err := s.connectionManager.Enqueue(connectionID, response); err != nil {
		log.Printf("Failed to send error message to %s: %v", connectionID, err)
	}
}
