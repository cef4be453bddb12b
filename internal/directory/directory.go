// Package directory holds user and question records. The session core reads users through it
// and records accumulated quiz scores back into it.
package directory

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"studygroup-server/internal/apperr"
)

const (
	DefaultAvatar = "avatar1.jpeg"

	RoleStudent = "student"
	RoleAdmin   = "admin"
)

type User struct {
	ID               int        `json:"id"`
	Prename          string     `json:"prename"`
	Surname          string     `json:"surname"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Avatar           string     `json:"avatar"`
	Role             string     `json:"role"`
	Active           bool       `json:"active"`
	TotalGoldtaler   int        `json:"totalGoldtaler"`
	CompletedQuizzes int        `json:"completedQuizzes"`
	CreatedAt        time.Time  `json:"createdAt"`
	LastLogin        *time.Time `json:"lastLogin,omitempty"`
}

type Registration struct {
	Prename  string
	Surname  string
	Username string
	Email    string
	Password string
	Avatar   string
}

// Directory is the in-memory user and question store. It is safe for concurrent use.
type Directory struct {
	mu             sync.RWMutex
	users          map[int]*User
	usersByName    map[string]int
	usersByEmail   map[string]int
	nextUserID     int
	questions      []Question
	pending        []Question
	nextQuestionID int
	bcryptCost     int
	now            func() time.Time
}

type Option func(*Directory)

// WithBcryptCost overrides the password hashing cost. Tests use bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(d *Directory) { d.bcryptCost = cost }
}

func WithClock(now func() time.Time) Option {
	return func(d *Directory) { d.now = now }
}

// New returns a directory seeded with the sample question catalog.
func New(opts ...Option) *Directory {
	d := &Directory{
		users:        make(map[int]*User),
		usersByName:  make(map[string]int),
		usersByEmail: make(map[string]int),
		nextUserID:   1,
		bcryptCost:   bcrypt.DefaultCost,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seedQuestions()
	return d
}

// Register creates an active student account.
func (d *Directory) Register(reg Registration) (User, error) {
	reg.Username = strings.TrimSpace(reg.Username)
	reg.Email = strings.TrimSpace(reg.Email)
	if reg.Prename == "" || reg.Surname == "" || reg.Username == "" || reg.Email == "" || reg.Password == "" {
		return User{}, apperr.InvalidInput(apperr.CodeMissingFields, "all fields are required")
	}

	// Hash before taking the lock, bcrypt is slow on purpose.
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), d.bcryptCost)
	if err != nil {
		return User{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.usersByName[reg.Username]; taken {
		return User{}, apperr.Conflict(apperr.CodeUsernameTaken, "username %q already taken", reg.Username)
	}
	if _, taken := d.usersByEmail[strings.ToLower(reg.Email)]; taken {
		return User{}, apperr.Conflict(apperr.CodeEmailTaken, "email already registered")
	}

	avatar := reg.Avatar
	if avatar == "" {
		avatar = DefaultAvatar
	}

	user := &User{
		ID:           d.nextUserID,
		Prename:      reg.Prename,
		Surname:      reg.Surname,
		Username:     reg.Username,
		Email:        reg.Email,
		PasswordHash: string(hash),
		Avatar:       avatar,
		Role:         RoleStudent,
		Active:       true,
		CreatedAt:    d.now().UTC(),
	}
	d.nextUserID++
	d.users[user.ID] = user
	d.usersByName[user.Username] = user.ID
	d.usersByEmail[strings.ToLower(user.Email)] = user.ID

	return *user, nil
}

// Login verifies credentials, refuses deactivated accounts and stamps LastLogin.
func (d *Directory) Login(username, password string) (User, error) {
	d.mu.RLock()
	id, ok := d.usersByName[strings.TrimSpace(username)]
	var hash string
	if ok {
		hash = d.users[id].PasswordHash
	}
	d.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return User{}, apperr.Unauthorized(apperr.CodeInvalidCredentials, "invalid username or password")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	user := d.users[id]
	if !user.Active {
		return User{}, apperr.Forbidden(apperr.CodeUserInactive, "account %q is deactivated", user.Username)
	}
	now := d.now().UTC()
	user.LastLogin = &now
	return *user, nil
}

func (d *Directory) GetUser(id int) (User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	user, ok := d.users[id]
	if !ok {
		return User{}, apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", id)
	}
	return *user, nil
}

// SetActive toggles whether the account may log in.
func (d *Directory) SetActive(id int, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[id]
	if !ok {
		return apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", id)
	}
	user.Active = active
	return nil
}

// RecordScore adds score to the user's running goldtaler total and counts one completed quiz.
func (d *Directory) RecordScore(userID, score int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	user, ok := d.users[userID]
	if !ok {
		return apperr.NotFound(apperr.CodeUserNotFound, "user %d not found", userID)
	}
	user.TotalGoldtaler += score
	user.CompletedQuizzes++
	return nil
}

func (d *Directory) UserCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
