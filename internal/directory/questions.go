package directory

import (
	"math"
	"slices"
	"strings"
	"time"

	"studygroup-server/internal/apperr"
)

const (
	// QuizLength caps how many approved questions a quiz contains.
	QuizLength  = 5
	optionCount = 4
)

type Question struct {
	ID        int       `json:"id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	Correct   int       `json:"correct"`
	Category  string    `json:"category"`
	Approved  bool      `json:"approved"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// QuizQuestion is a Question as shown to players, without the answer.
type QuizQuestion struct {
	ID        int      `json:"id"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
	Category  string   `json:"category"`
	CreatedBy string   `json:"createdBy"`
}

type Suggestion struct {
	Category      string
	Question      string
	Options       []string
	CorrectAnswer *int
}

type AnswerResult struct {
	QuestionID    int      `json:"questionId"`
	Question      string   `json:"question"`
	UserAnswer    int      `json:"userAnswer"`
	CorrectAnswer int      `json:"correctAnswer"`
	IsCorrect     bool     `json:"isCorrect"`
	Options       []string `json:"options"`
}

type Grade struct {
	Score          int            `json:"score"`
	TotalQuestions int            `json:"totalQuestions"`
	Goldtaler      int            `json:"goldtaler"`
	Percentage     int            `json:"percentage"`
	Results        []AnswerResult `json:"results"`
}

func (d *Directory) seedQuestions() {
	now := d.now().UTC()
	seed := []Question{
		{Question: "Was ist 15 × 8?", Options: []string{"120", "125", "115", "130"}, Correct: 0, Category: "Mathematik"},
		{Question: "Was ist die Ableitung von x²?", Options: []string{"2x", "x", "2", "x²"}, Correct: 0, Category: "Mathematik"},
		{Question: "Was bedeutet HTML?", Options: []string{"HyperText Markup Language", "High Tech Modern Language", "Home Tool Markup Language", "Hyperlink Text Management Language"}, Correct: 0, Category: "Informatik"},
		{Question: "Welche Programmiersprache wird hauptsächlich für Webentwicklung verwendet?", Options: []string{"Python", "JavaScript", "C++", "Java"}, Correct: 1, Category: "Informatik"},
	}
	for i := range seed {
		seed[i].ID = i + 1
		seed[i].Approved = true
		seed[i].CreatedBy = "System"
		seed[i].CreatedAt = now
	}
	d.questions = seed
	d.nextQuestionID = len(seed) + 1
}

// approvedLocked returns up to limit approved questions of category in catalog order.
func (d *Directory) approvedLocked(category string, limit int) []Question {
	var out []Question
	for _, q := range d.questions {
		if q.Category == category && q.Approved {
			out = append(out, q)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out
}

func (d *Directory) ApprovedCount(category string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.approvedLocked(category, 0))
}

func (d *Directory) TotalApproved() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, q := range d.questions {
		if q.Approved {
			n++
		}
	}
	return n
}

// Quiz returns the first QuizLength approved questions of category with answers stripped.
func (d *Directory) Quiz(category string) ([]QuizQuestion, error) {
	name, ok := NormalizeCategory(category)
	if !ok {
		return nil, apperr.InvalidInput(apperr.CodeCategoryInvalid, "unknown category %q", category)
	}

	d.mu.RLock()
	questions := d.approvedLocked(name, QuizLength)
	d.mu.RUnlock()

	if len(questions) == 0 {
		return nil, apperr.NotFound(apperr.CodeNoQuestions, "no questions available for %s", name)
	}

	quiz := make([]QuizQuestion, 0, len(questions))
	for _, q := range questions {
		quiz = append(quiz, QuizQuestion{
			ID:        q.ID,
			Question:  q.Question,
			Options:   slices.Clone(q.Options),
			Category:  q.Category,
			CreatedBy: q.CreatedBy,
		})
	}
	return quiz, nil
}

// Grade scores answers positionally against the quiz for category. One goldtaler per
// correct answer.
func (d *Directory) Grade(category string, answers []int) (Grade, error) {
	name, ok := NormalizeCategory(category)
	if !ok {
		return Grade{}, apperr.InvalidInput(apperr.CodeCategoryInvalid, "unknown category %q", category)
	}
	if len(answers) == 0 {
		return Grade{}, apperr.InvalidInput(apperr.CodeAnswersInvalid, "no answers submitted")
	}

	d.mu.RLock()
	questions := d.approvedLocked(name, QuizLength)
	d.mu.RUnlock()

	if len(answers) > len(questions) {
		return Grade{}, apperr.InvalidInput(apperr.CodeAnswersInvalid,
			"%d answers for %d questions", len(answers), len(questions))
	}

	grade := Grade{TotalQuestions: len(answers), Results: make([]AnswerResult, 0, len(answers))}
	for i, answer := range answers {
		q := questions[i]
		correct := answer == q.Correct
		if correct {
			grade.Score++
		}
		grade.Results = append(grade.Results, AnswerResult{
			QuestionID:    q.ID,
			Question:      q.Question,
			UserAnswer:    answer,
			CorrectAnswer: q.Correct,
			IsCorrect:     correct,
			Options:       slices.Clone(q.Options),
		})
	}
	grade.Goldtaler = grade.Score
	grade.Percentage = int(math.Round(float64(grade.Score) / float64(len(answers)) * 100))
	return grade, nil
}

// Suggest queues a user-submitted question for admin review.
func (d *Directory) Suggest(userID int, s Suggestion) (Question, error) {
	user, err := d.GetUser(userID)
	if err != nil {
		return Question{}, err
	}

	text := strings.TrimSpace(s.Question)
	if text == "" || len(s.Options) != optionCount || s.CorrectAnswer == nil {
		return Question{}, apperr.InvalidInput(apperr.CodeQuestionInvalid,
			"question, %d options and the correct answer are required", optionCount)
	}
	if *s.CorrectAnswer < 0 || *s.CorrectAnswer >= optionCount {
		return Question{}, apperr.InvalidInput(apperr.CodeQuestionInvalid, "correct answer must be 0-%d", optionCount-1)
	}
	category, ok := NormalizeCategory(s.Category)
	if !ok {
		return Question{}, apperr.InvalidInput(apperr.CodeCategoryInvalid, "unknown category %q", s.Category)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	q := Question{
		ID:        d.nextQuestionID,
		Question:  text,
		Options:   slices.Clone(s.Options),
		Correct:   *s.CorrectAnswer,
		Category:  category,
		CreatedBy: user.Username,
		CreatedAt: d.now().UTC(),
	}
	d.nextQuestionID++
	d.pending = append(d.pending, q)
	return q, nil
}

func (d *Directory) Pending() []Question {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append(make([]Question, 0, len(d.pending)), d.pending...)
}

func (d *Directory) PendingCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.pending)
}

// Approve moves a pending question into the catalog.
func (d *Directory) Approve(id int) (Question, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.pendingIndexLocked(id)
	if i < 0 {
		return Question{}, apperr.NotFound(apperr.CodeQuestionNotFound, "question %d not found", id)
	}
	q := d.pending[i]
	q.Approved = true
	d.questions = append(d.questions, q)
	d.pending = slices.Delete(d.pending, i, i+1)
	return q, nil
}

func (d *Directory) Reject(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	i := d.pendingIndexLocked(id)
	if i < 0 {
		return apperr.NotFound(apperr.CodeQuestionNotFound, "question %d not found", id)
	}
	d.pending = slices.Delete(d.pending, i, i+1)
	return nil
}

func (d *Directory) pendingIndexLocked(id int) int {
	return slices.IndexFunc(d.pending, func(q Question) bool { return q.ID == id })
}
