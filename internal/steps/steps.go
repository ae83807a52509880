// Package steps defines the static step tables that drive the scripted
// conversation flows. A table is pure data plus pure functions over it:
// no I/O, no hidden state.
package steps

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aivira/jobchat/internal/domain"
)

// FallbackStep is where a flow lands when a transition points at a step
// that does not exist in the table.
const FallbackStep = "welcome"

// Config describes one step of a scripted flow.
type Config struct {
	ID       string
	Field    string // collected_data key the answer is stored under; empty for navigational steps
	Question string
	Type     domain.MessageType
	Terminal bool

	// Buttons is the static choice list; ChoicesFn computes one from prior
	// answers instead. At most one of the two is set.
	Buttons   []domain.Button
	ChoicesFn func(answers map[string]any) []domain.Button

	// Validate blocks local submission only; it is advisory, not a server
	// guarantee.
	Validate func(value string) error

	// NextID is the static successor; NextFn overrides it when branching
	// depends on the submitted value or accumulated answers.
	NextID string
	NextFn func(value string, answers map[string]any) string
}

// Table is an immutable step table for one session type.
type Table struct {
	flow  domain.SessionType
	start string
	steps map[string]Config
}

// ForFlow returns the step table for a session type. Unknown types get the
// job creation table.
func ForFlow(t domain.SessionType) *Table {
	if t == domain.SessionResumeCreation {
		return resumeTable
	}
	return jobTable
}

// Flow returns the session type this table drives.
func (t *Table) Flow() domain.SessionType { return t.flow }

// Start returns the first step id of the flow.
func (t *Table) Start() string { return t.start }

// Get looks up a step by id.
func (t *Table) Get(id string) (Config, bool) {
	c, ok := t.steps[id]
	return c, ok
}

// Prompt returns the bot question for a step: text, message type, and the
// resolved payload (choices may depend on prior answers).
func (t *Table) Prompt(id string, answers map[string]any) (string, domain.MessageType, *domain.MessageData) {
	cfg, ok := t.steps[id]
	if !ok {
		cfg = t.steps[t.start]
	}

	var data *domain.MessageData
	switch {
	case cfg.ChoicesFn != nil:
		data = &domain.MessageData{Buttons: cfg.ChoicesFn(answers)}
	case len(cfg.Buttons) > 0:
		data = &domain.MessageData{Buttons: cfg.Buttons}
	case cfg.Type == domain.MessagePreview:
		data = &domain.MessageData{Preview: previewOf(answers)}
	}
	return cfg.Question, cfg.Type, data
}

// NextStep computes the successor of a step given the submitted value and
// accumulated answers. A dangling transition falls back to FallbackStep.
func (t *Table) NextStep(id string, value string, answers map[string]any) string {
	cfg, ok := t.steps[id]
	if !ok {
		return FallbackStep
	}

	next := cfg.NextID
	if cfg.NextFn != nil {
		next = cfg.NextFn(value, answers)
	}
	if _, ok := t.steps[next]; !ok {
		return FallbackStep
	}
	return next
}

// ValidateAnswer runs the step's advisory validation against a raw value.
func (t *Table) ValidateAnswer(id string, value string) error {
	cfg, ok := t.steps[id]
	if !ok || cfg.Validate == nil {
		return nil
	}
	return cfg.Validate(value)
}

// IsTerminal reports whether a step ends the flow.
func (t *Table) IsTerminal(id string) bool {
	cfg, ok := t.steps[id]
	return ok && cfg.Terminal
}

func previewOf(answers map[string]any) map[string]any {
	out := make(map[string]any, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	return out
}

func minLen(n int) func(string) error {
	return func(v string) error {
		if len(strings.TrimSpace(v)) < n {
			return fmt.Errorf("answer must be at least %d characters", n)
		}
		return nil
	}
}

func numericRange(lo, hi int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("answer must be a number")
		}
		if n < lo || n > hi {
			return fmt.Errorf("answer must be between %d and %d", lo, hi)
		}
		return nil
	}
}

var citiesByState = map[string][]string{
	"California": {"San Francisco", "Los Angeles", "San Diego", "Sacramento"},
	"New York":   {"New York City", "Buffalo", "Rochester", "Albany"},
	"Texas":      {"Austin", "Houston", "Dallas", "San Antonio"},
	"Washington": {"Seattle", "Tacoma", "Spokane"},
}

func cityChoices(answers map[string]any) []domain.Button {
	state, _ := answers["location_state"].(string)
	cities := citiesByState[state]

	buttons := make([]domain.Button, 0, len(cities)+1)
	for _, c := range cities {
		buttons = append(buttons, domain.Button{ID: c, Label: c})
	}
	buttons = append(buttons, domain.Button{ID: "Other", Label: "Other"})
	return buttons
}

var jobTable = &Table{
	flow:  domain.SessionJobCreation,
	start: "welcome",
	steps: map[string]Config{
		"welcome": {
			ID:       "welcome",
			Question: "Hi! I can help you create a job posting. How would you like to start?",
			Type:     domain.MessageButtons,
			Buttons: []domain.Button{
				{ID: "create_job", Label: "Create a job posting"},
				{ID: "paste_jd", Label: "Paste an existing job description"},
			},
			NextFn: func(value string, _ map[string]any) string {
				if value == "paste_jd" {
					return "paste_jd"
				}
				return "job_title"
			},
		},
		"paste_jd": {
			ID:       "paste_jd",
			Field:    "jd_text",
			Question: "Paste the job description and I will extract the details.",
			Type:     domain.MessageInputTextarea,
			Validate: minLen(30),
			NextID:   "experience_level",
		},
		"job_title": {
			ID:       "job_title",
			Field:    "job_title",
			Question: "What is the job title?",
			Type:     domain.MessageInputText,
			Validate: minLen(3),
			NextID:   "job_requirements",
		},
		"job_requirements": {
			ID:       "job_requirements",
			Field:    "job_requirements",
			Question: "Describe the role and its requirements.",
			Type:     domain.MessageInputTextarea,
			Validate: minLen(10),
			NextID:   "experience_level",
		},
		"experience_level": {
			ID:       "experience_level",
			Field:    "experience_level",
			Question: "What level of experience are you hiring for?",
			Type:     domain.MessageButtons,
			Buttons: []domain.Button{
				{ID: "junior", Label: "Junior"},
				{ID: "mid", Label: "Mid-level"},
				{ID: "senior", Label: "Senior"},
				{ID: "lead", Label: "Lead / Principal"},
			},
			NextID: "location_state",
		},
		"location_state": {
			ID:       "location_state",
			Field:    "location_state",
			Question: "Which state is the position based in?",
			Type:     domain.MessageButtons,
			Buttons: []domain.Button{
				{ID: "California", Label: "California"},
				{ID: "New York", Label: "New York"},
				{ID: "Texas", Label: "Texas"},
				{ID: "Washington", Label: "Washington"},
			},
			NextID: "location_city",
		},
		"location_city": {
			ID:        "location_city",
			Field:     "location_city",
			Question:  "Which city?",
			Type:      domain.MessageButtons,
			ChoicesFn: cityChoices,
			NextFn: func(value string, _ map[string]any) string {
				if value == "Other" {
					return "location_city_other"
				}
				return "salary_min"
			},
		},
		"location_city_other": {
			ID:       "location_city_other",
			Field:    "location_city",
			Question: "Type the city name.",
			Type:     domain.MessageInputText,
			Validate: minLen(2),
			NextID:   "salary_min",
		},
		"salary_min": {
			ID:       "salary_min",
			Field:    "salary_min",
			Question: "What is the minimum annual salary (USD)?",
			Type:     domain.MessageInputNumber,
			Validate: numericRange(0, 10_000_000),
			NextID:   "salary_max",
		},
		"salary_max": {
			ID:       "salary_max",
			Field:    "salary_max",
			Question: "And the maximum annual salary (USD)?",
			Type:     domain.MessageInputNumber,
			Validate: numericRange(0, 10_000_000),
			NextID:   "remote_ok",
		},
		"remote_ok": {
			ID:       "remote_ok",
			Field:    "remote_ok",
			Question: "Is remote work an option for this role?",
			Type:     domain.MessageBoolean,
			NextID:   "preview",
		},
		"preview": {
			ID:       "preview",
			Question: "Here is your job posting so far. Publish it?",
			Type:     domain.MessagePreview,
			NextFn: func(value string, _ map[string]any) string {
				if value == "edit" {
					return "job_title"
				}
				return "done"
			},
		},
		"done": {
			ID:       "done",
			Question: "Your job posting has been published. Good luck with the search!",
			Type:     domain.MessageText,
			Terminal: true,
		},
	},
}

var resumeTable = &Table{
	flow:  domain.SessionResumeCreation,
	start: "welcome",
	steps: map[string]Config{
		"welcome": {
			ID:       "welcome",
			Question: "Let's build your resume. Start from scratch or upload an existing one?",
			Type:     domain.MessageButtons,
			Buttons: []domain.Button{
				{ID: "build_resume", Label: "Build from scratch"},
				{ID: "upload_resume", Label: "Upload a resume"},
			},
			NextFn: func(value string, _ map[string]any) string {
				if value == "upload_resume" {
					return "upload_file"
				}
				return "full_name"
			},
		},
		"upload_file": {
			ID:       "upload_file",
			Field:    "resume_file",
			Question: "Upload your resume file (PDF or DOCX).",
			Type:     domain.MessageFileUpload,
			NextID:   "preview",
		},
		"full_name": {
			ID:       "full_name",
			Field:    "full_name",
			Question: "What is your full name?",
			Type:     domain.MessageInputText,
			Validate: minLen(2),
			NextID:   "headline",
		},
		"headline": {
			ID:       "headline",
			Field:    "headline",
			Question: "Give yourself a professional headline, e.g. \"Backend Engineer\".",
			Type:     domain.MessageInputText,
			Validate: minLen(3),
			NextID:   "experience_years",
		},
		"experience_years": {
			ID:       "experience_years",
			Field:    "experience_years",
			Question: "How many years of experience do you have?",
			Type:     domain.MessageInputNumber,
			Validate: numericRange(0, 60),
			NextID:   "skills",
		},
		"skills": {
			ID:       "skills",
			Field:    "skills",
			Question: "Pick your core skills.",
			Type:     domain.MessageMultiSelect,
			Buttons: []domain.Button{
				{ID: "go", Label: "Go"},
				{ID: "python", Label: "Python"},
				{ID: "typescript", Label: "TypeScript"},
				{ID: "sql", Label: "SQL"},
				{ID: "kubernetes", Label: "Kubernetes"},
			},
			NextID: "education",
		},
		"education": {
			ID:       "education",
			Field:    "education",
			Question: "Summarize your education.",
			Type:     domain.MessageInputTextarea,
			Validate: minLen(5),
			NextID:   "preview",
		},
		"preview": {
			ID:       "preview",
			Question: "Here is your resume so far. Finish it?",
			Type:     domain.MessagePreview,
			NextFn: func(value string, _ map[string]any) string {
				if value == "edit" {
					return "full_name"
				}
				return "done"
			},
		},
		"done": {
			ID:       "done",
			Question: "Your resume is ready. You can attach it to applications now.",
			Type:     domain.MessageText,
			Terminal: true,
		},
	},
}
