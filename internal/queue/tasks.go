package queue

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/hibiken/asynq"
)

const TypeGenerateImage = "image:generate"

// ImageBytes is the uploaded photo carried in a task payload. It is written
// as base64 and also accepts the serialized-buffer shape
// {"type":"Buffer","data":[...]} or a bare byte array.
type ImageBytes []byte

func (b ImageBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

func (b *ImageBytes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	switch data[0] {
	case '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode base64 image: %w", err)
		}
		*b = decoded
		return nil
	case '{':
		var buf struct {
			Type string `json:"type"`
			Data []int  `json:"data"`
		}
		if err := json.Unmarshal(data, &buf); err != nil {
			return err
		}
		if buf.Type != "Buffer" {
			return fmt.Errorf("unsupported image object type %q", buf.Type)
		}
		return b.fromInts(buf.Data)
	case '[':
		var ints []int
		if err := json.Unmarshal(data, &ints); err != nil {
			return err
		}
		return b.fromInts(ints)
	default:
		return fmt.Errorf("unsupported image encoding")
	}
}

func (b *ImageBytes) fromInts(ints []int) error {
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("image byte %d out of range: %d", i, v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type GenerateImagePayload struct {
	JobID       string     `json:"jobId"`
	Image       ImageBytes `json:"image"`
	Filename    string     `json:"filename,omitempty"`
	ContentType string     `json:"contentType,omitempty"`
	Prompt      string     `json:"prompt"`
	TemplateID  string     `json:"templateId"`
	AspectRatio string     `json:"aspectRatio"`
	Style       string     `json:"style,omitempty"`
	CallbackURL string     `json:"callbackUrl,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
}

func PayloadFromJob(job domain.Job) GenerateImagePayload {
	return GenerateImagePayload{
		JobID:       job.ID,
		Image:       ImageBytes(job.Image),
		Filename:    job.Filename,
		ContentType: job.ContentType,
		Prompt:      job.Prompt,
		TemplateID:  job.TemplateID,
		AspectRatio: job.AspectRatio,
		Style:       job.Style,
		CallbackURL: job.CallbackURL,
		RequestedAt: job.RequestedAt,
	}
}

func (p GenerateImagePayload) Job() domain.Job {
	aspect := p.AspectRatio
	if aspect == "" {
		aspect = domain.DefaultAspectRatio
	}
	return domain.Job{
		ID:          p.JobID,
		Image:       []byte(p.Image),
		Filename:    p.Filename,
		ContentType: p.ContentType,
		Prompt:      p.Prompt,
		TemplateID:  p.TemplateID,
		AspectRatio: aspect,
		Style:       p.Style,
		CallbackURL: p.CallbackURL,
		RequestedAt: p.RequestedAt,
	}
}

func NewGenerateImageTask(payload GenerateImagePayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal generate payload: %w", err)
	}
	return asynq.NewTask(TypeGenerateImage, body), nil
}

func ParseGenerateImagePayload(task *asynq.Task) (GenerateImagePayload, error) {
	var payload GenerateImagePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return GenerateImagePayload{}, fmt.Errorf("unmarshal generate payload: %w", err)
	}
	if payload.JobID == "" {
		return GenerateImagePayload{}, fmt.Errorf("generate payload has no job id")
	}
	return payload, nil
}
