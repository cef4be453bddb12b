package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"studygroup-server/internal/apperr"
	"studygroup-server/internal/directory"
	"studygroup-server/internal/groups"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	resp, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(resp); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

func statusOf(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", r.Method, r.URL.Path, err)
		writeJSON(w, status, ErrorResponse{Message: "Server Fehler"})
		return
	}
	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	writeJSON(w, status, ErrorResponse{Message: message, Code: string(apperr.CodeOf(err))})
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.InvalidInput(apperr.CodeInvalidPayload, "invalid request body: %v", err)
	}
	return nil
}

func pathID(r *http.Request) (int, error) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		return 0, apperr.InvalidInput(apperr.CodeInvalidPayload, "invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.directory.Register(directory.Registration{
		Prename:  req.Prename,
		Surname:  req.Surname,
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Avatar:   req.Avatar,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Printf("Registered user %d (%s)", user.ID, user.Username)
	writeJSON(w, http.StatusCreated, UserResponse{
		Success: true,
		Message: "Registrierung erfolgreich! Willkommen an Bord!",
		User:    user,
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.directory.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, UserResponse{Success: true, Message: "Erfolgreich eingeloggt!", User: user})
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	user, err := s.directory.GetUser(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ProfileResponse{Success: true, Profile: user})
}

func (s *Server) categoriesHandler(w http.ResponseWriter, r *http.Request) {
	names := directory.Categories()
	categories := make([]CategoryInfo, 0, len(names))
	for _, name := range names {
		categories = append(categories, CategoryInfo{
			Name:          name,
			QuestionCount: s.directory.ApprovedCount(name),
			ActiveGroups:  s.registry.ActiveGroupCount(name),
		})
	}
	writeJSON(w, http.StatusOK, CategoriesResponse{Success: true, Categories: categories})
}

func (s *Server) joinGroupHandler(w http.ResponseWriter, r *http.Request) {
	var req JoinGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.directory.GetUser(req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	category, ok := directory.NormalizeCategory(req.Category)
	if !ok {
		writeError(w, r, apperr.InvalidInput(apperr.CodeCategoryInvalid, "unknown category %q", req.Category))
		return
	}

	group, joined, err := s.registry.JoinGroup(req.UserID, category)
	if err != nil {
		writeError(w, r, err)
		return
	}

	message := "Bereits in Gruppe"
	if joined {
		message = fmt.Sprintf("Erfolgreich Gruppe beigetreten! %d/%d Piraten", len(group.Members), s.registry.Capacity())
	}

	writeJSON(w, http.StatusOK, JoinGroupResponse{
		Success: true,
		Message: message,
		Group:   s.groupView(group),
	})
}

func (s *Server) groupView(g groups.Group) GroupView {
	details := make([]MemberDetail, 0, len(g.Members))
	for _, id := range g.Members {
		member, err := s.directory.GetUser(id)
		if err != nil {
			continue
		}
		details = append(details, MemberDetail{ID: member.ID, Username: member.Username, Avatar: member.Avatar})
	}
	return GroupView{Group: g, MemberDetails: details}
}

func (s *Server) groupHistoryHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	messages, err := s.channel.History(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, GroupHistoryResponse{Success: true, Messages: messages})
}

func (s *Server) quizHandler(w http.ResponseWriter, r *http.Request) {
	questions, err := s.directory.Quiz(r.PathValue("category"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QuizResponse{Success: true, Questions: questions, Total: len(questions)})
}

// submitQuizHandler grades the answers, credits the goldtaler to the user and stores the
// score on the group. Announcing the result in chat is the client's job via a "result" event.
func (s *Server) submitQuizHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitQuizRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.directory.GetUser(req.UserID); err != nil {
		writeError(w, r, err)
		return
	}
	if _, err := s.registry.Group(req.GroupID); err != nil {
		writeError(w, r, err)
		return
	}

	grade, err := s.directory.Grade(req.Category, req.Answers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.registry.RecordScore(req.UserID, req.GroupID, grade.Score); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.directory.RecordScore(req.UserID, grade.Goldtaler); err != nil {
		writeError(w, r, err)
		return
	}

	log.Printf("User %d scored %d/%d in group %d", req.UserID, grade.Score, grade.TotalQuestions, req.GroupID)
	writeJSON(w, http.StatusOK, SubmitQuizResponse{
		Success: true,
		Result: QuizResult{
			Grade:     grade,
			TimeSpent: req.TimeSpent,
			Message:   fmt.Sprintf("Ahoi! %d richtige Antworten! Du hast %d Goldtaler verdient! 💰", grade.Score, grade.Goldtaler),
		},
	})
}

func (s *Server) suggestQuestionHandler(w http.ResponseWriter, r *http.Request) {
	var req SuggestQuestionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	question, err := s.directory.Suggest(req.UserID, directory.Suggestion{
		Category:      req.Category,
		Question:      req.Question,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, QuestionResponse{
		Success:  true,
		Message:  "Frage erfolgreich eingereicht! Sie wird vom Admin geprüft.",
		Question: question,
	})
}

func (s *Server) pendingQuestionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PendingQuestionsResponse{Success: true, Questions: s.directory.Pending()})
}

func (s *Server) approveQuestionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	question, err := s.directory.Approve(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QuestionResponse{Success: true, Message: "Frage genehmigt und aktiviert!", Question: question})
}

func (s *Server) rejectQuestionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.directory.Reject(id); err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: "Frage abgelehnt und entfernt"})
}

// archivedGroupHandler reads a group and its chat log back from the archive. {run} is a run
// id from /health or "current" for this process; earlier runs stay readable after a restart.
func (s *Server) archivedGroupHandler(w http.ResponseWriter, r *http.Request) {
	if s.persistenceManager == nil {
		writeError(w, r, apperr.NotFound(apperr.CodeArchiveDisabled, "archive is not configured"))
		return
	}

	runID := s.persistenceManager.RunID()
	if run := r.PathValue("run"); run != "current" {
		parsed, err := uuid.Parse(run)
		if err != nil {
			writeError(w, r, apperr.InvalidInput(apperr.CodeInvalidPayload, "invalid run id %q", run))
			return
		}
		runID = parsed
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	group, err := s.persistenceManager.LoadGroup(r.Context(), runID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	messages, err := s.persistenceManager.LoadMessages(r.Context(), runID, id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, ArchivedGroupResponse{
		Success:  true,
		RunID:    runID.String(),
		Group:    group,
		Messages: messages,
	})
}
