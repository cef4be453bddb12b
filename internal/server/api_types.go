package server

import (
	"studygroup-server/internal/chat"
	"studygroup-server/internal/directory"
	"studygroup-server/internal/groups"
)

// ============================================================================
// WEBSOCKET PAYLOADS
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// tygo:generate
type JoinRequest struct {
	UserID  int `json:"userId"`
	GroupID int `json:"groupId"`
}

// tygo:generate
type ChatRequest struct {
	Message string `json:"message"`
}

// tygo:generate
type ResultRequest struct {
	Score          int `json:"score"`
	TotalQuestions int `json:"totalQuestions"`
}

// tygo:generate
type HistoryPayload struct {
	Messages []chat.Message `json:"messages"`
}

// ============================================================================
// REST: ACCOUNTS
// ============================================================================
type RegisterRequest struct {
	Prename  string `json:"prename"`
	Surname  string `json:"surname"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Avatar   string `json:"avatar"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type UserResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	User    directory.User `json:"user"`
}

type ProfileResponse struct {
	Success bool           `json:"success"`
	Profile directory.User `json:"profile"`
}

// ============================================================================
// REST: GROUPS
// ============================================================================
type JoinGroupRequest struct {
	UserID   int    `json:"userId"`
	Category string `json:"category"`
}

type MemberDetail struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

type GroupView struct {
	groups.Group
	MemberDetails []MemberDetail `json:"memberDetails"`
}

type JoinGroupResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	Group   GroupView `json:"group"`
}

type GroupHistoryResponse struct {
	Success  bool           `json:"success"`
	Messages []chat.Message `json:"messages"`
}

// ============================================================================
// REST: QUIZ
// ============================================================================
type CategoryInfo struct {
	Name          string `json:"name"`
	QuestionCount int    `json:"questionCount"`
	ActiveGroups  int    `json:"activeGroups"`
}

type CategoriesResponse struct {
	Success    bool           `json:"success"`
	Categories []CategoryInfo `json:"categories"`
}

type QuizResponse struct {
	Success   bool                     `json:"success"`
	Questions []directory.QuizQuestion `json:"questions"`
	Total     int                      `json:"total"`
}

type SubmitQuizRequest struct {
	UserID    int    `json:"userId"`
	GroupID   int    `json:"groupId"`
	Category  string `json:"category"`
	Answers   []int  `json:"answers"`
	TimeSpent int    `json:"timeSpent"`
}

type QuizResult struct {
	directory.Grade
	TimeSpent int    `json:"timeSpent"`
	Message   string `json:"message"`
}

type SubmitQuizResponse struct {
	Success bool       `json:"success"`
	Result  QuizResult `json:"result"`
}

type SuggestQuestionRequest struct {
	UserID        int      `json:"userId"`
	Category      string   `json:"category"`
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer *int     `json:"correctAnswer"`
}

type QuestionResponse struct {
	Success  bool               `json:"success"`
	Message  string             `json:"message"`
	Question directory.Question `json:"question"`
}

type PendingQuestionsResponse struct {
	Success   bool                 `json:"success"`
	Questions []directory.Question `json:"questions"`
}

type ArchivedGroupResponse struct {
	Success  bool           `json:"success"`
	RunID    string         `json:"runId"`
	Group    groups.Group   `json:"group"`
	Messages []chat.Message `json:"messages"`
}

// ============================================================================
// REST: MISC
// ============================================================================
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type IndexResponse struct {
	Service           string `json:"service"`
	RegisteredUsers   int    `json:"registeredUsers"`
	ActiveGroups      int    `json:"activeGroups"`
	ApprovedQuestions int    `json:"approvedQuestions"`
	PendingQuestions  int    `json:"pendingQuestions"`
	Connections       int    `json:"connections"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
