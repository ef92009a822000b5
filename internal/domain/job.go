package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"

	DefaultAspectRatio = "1:1"
	DefaultStyle       = "cool_ngau"
)

// SupportedAspectRatios are the ratios accepted by the image model.
var SupportedAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

var validate = validator.New()

type SubmitRequest struct {
	Image       []byte `validate:"required,min=1"`
	Filename    string `validate:"max=255"`
	ContentType string
	Prompt      string `validate:"required,max=2000"`
	TemplateID  string `validate:"required,max=128"`
	AspectRatio string `validate:"required,oneof=1:1 2:3 3:2 3:4 4:3 4:5 5:4 9:16 16:9 21:9"`
	Style       string `validate:"max=64"`
	CallbackURL string `validate:"omitempty,url"`
}

// Normalize trims user input and fills defaults before validation.
func (r *SubmitRequest) Normalize() {
	r.Prompt = strings.TrimSpace(r.Prompt)
	r.TemplateID = strings.TrimSpace(r.TemplateID)
	r.AspectRatio = strings.TrimSpace(r.AspectRatio)
	if r.AspectRatio == "" {
		r.AspectRatio = DefaultAspectRatio
	}
	r.Style = strings.TrimSpace(r.Style)
	if r.Style == "" {
		r.Style = DefaultStyle
	}
	r.CallbackURL = strings.TrimSpace(r.CallbackURL)
}

func (r SubmitRequest) Validate() error {
	if len(r.Image) == 0 {
		return fmt.Errorf("%w: no file uploaded", ErrValidation)
	}
	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s", ErrValidation, describeFieldError(fieldErrs[0]))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field()[:1]) + fe.Field()[1:]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Job is the immutable unit of work handed to the queue.
type Job struct {
	ID          string
	Image       []byte
	Filename    string
	ContentType string
	Prompt      string
	TemplateID  string
	AspectRatio string
	Style       string
	CallbackURL string
	RequestedAt time.Time
}

type JobMetadata struct {
	Status       JobStatus  `json:"status"`
	Progress     int        `json:"progress"`
	Message      string     `json:"message"`
	TemplateID   string     `json:"templateId,omitempty"`
	Attempt      int        `json:"attempt,omitempty"`
	MaxAttempts  int        `json:"maxAttempts,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorDetails string     `json:"errorDetails,omitempty"`
}

func (m JobMetadata) Terminal() bool {
	return m.Status == JobStatusCompleted || m.Status == JobStatusFailed
}

type JobResult struct {
	Data      []byte
	MIMEType  string
	Filename  string
	CreatedAt time.Time
}

// ResultFilename is the download name offered for a job's output.
func ResultFilename(jobID, ext string) string {
	return fmt.Sprintf("ai-generated-%s.%s", jobID, strings.TrimPrefix(ext, "."))
}
