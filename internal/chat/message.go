package chat

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindSystem Kind = "system"
	KindUser   Kind = "user"
	KindResult Kind = "result"
)

const (
	SystemSender = "Käpt'n Blackbeard"
	ResultSender = "Quiz-Master"
)

// Message is one entry of a group's log. Entries are never changed once appended.
type Message struct {
	ID        string    `json:"id"`
	GroupID   int       `json:"groupId"`
	Seq       int       `json:"seq"`
	Kind      Kind      `json:"type"`
	UserID    int       `json:"userId,omitempty"`
	Username  string    `json:"username"`
	Avatar    string    `json:"avatar,omitempty"`
	Body      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sender identifies the user on whose behalf a message is built.
type Sender struct {
	UserID   int
	Username string
	Avatar   string
}

func welcomeMessage(s Sender) Message {
	return Message{
		Kind:     KindSystem,
		Username: SystemSender,
		Body:     fmt.Sprintf("🏴‍☠️ %s ist der Crew beigetreten! Ahoi!", s.Username),
	}
}

func userMessage(s Sender, body string) Message {
	return Message{
		Kind:     KindUser,
		UserID:   s.UserID,
		Username: s.Username,
		Avatar:   s.Avatar,
		Body:     body,
	}
}

func resultMessage(s Sender, score, total int) Message {
	body := fmt.Sprintf("🏆 %s hat %d/%d Fragen richtig beantwortet! %d Goldtaler gewonnen! 💰",
		s.Username, score, total, score)
	return Message{
		Kind:     KindResult,
		Username: ResultSender,
		Body:     body,
	}
}

type EventType string

const (
	EventMessage EventType = "message"
	EventHistory EventType = "history"
)

// Event is what a connection receives: either a single new message or a full history replay.
type Event struct {
	Type     EventType
	Message  Message
	Messages []Message
}
