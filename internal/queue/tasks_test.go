package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dunamismax/stylegen/internal/domain"
	"github.com/hibiken/asynq"
)

func TestGenerateImageTaskRoundTrip(t *testing.T) {
	job := domain.Job{
		ID:          "job-123",
		Image:       []byte{0xff, 0xd8, 0xff, 0xe0},
		Prompt:      "cool style",
		TemplateID:  "t1",
		AspectRatio: "3:4",
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewGenerateImageTask(PayloadFromJob(job))
	if err != nil {
		t.Fatalf("NewGenerateImageTask returned error: %v", err)
	}
	if task.Type() != TypeGenerateImage {
		t.Fatalf("expected task type %q, got %q", TypeGenerateImage, task.Type())
	}

	parsed, err := ParseGenerateImagePayload(task)
	if err != nil {
		t.Fatalf("ParseGenerateImagePayload returned error: %v", err)
	}

	got := parsed.Job()
	if got.ID != job.ID || got.TemplateID != job.TemplateID || got.AspectRatio != "3:4" {
		t.Fatalf("unexpected job after round trip: %+v", got)
	}
	if string(got.Image) != string(job.Image) {
		t.Fatalf("image bytes changed: %v", got.Image)
	}
}

func TestImageBytesAcceptsSerializedBuffer(t *testing.T) {
	cases := map[string]string{
		"base64": `{"jobId":"j","image":"AQID"}`,
		"buffer": `{"jobId":"j","image":{"type":"Buffer","data":[1,2,3]}}`,
		"array":  `{"jobId":"j","image":[1,2,3]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			payload, err := ParseGenerateImagePayload(asynq.NewTask(TypeGenerateImage, []byte(body)))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if string(payload.Image) != "\x01\x02\x03" {
				t.Fatalf("expected bytes 1,2,3, got %v", []byte(payload.Image))
			}
		})
	}
}

func TestImageBytesRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad base64":   `"%%%"`,
		"wrong type":   `{"type":"Blob","data":[1]}`,
		"out of range": `[1,256]`,
		"number":       `42`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var b ImageBytes
			if err := json.Unmarshal([]byte(body), &b); err == nil {
				t.Fatalf("expected error for %s", body)
			}
		})
	}
}

func TestParseRejectsMissingJobID(t *testing.T) {
	if _, err := ParseGenerateImagePayload(asynq.NewTask(TypeGenerateImage, []byte(`{"image":"AQID"}`))); err == nil {
		t.Fatal("expected error for payload without job id")
	}
	if _, err := ParseGenerateImagePayload(asynq.NewTask(TypeGenerateImage, []byte(`not json`))); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestRetryDelayDoubles(t *testing.T) {
	delay := RetryDelay(2 * time.Second)
	task := asynq.NewTask(TypeGenerateImage, nil)
	if got := delay(0, nil, task); got != 2*time.Second {
		t.Fatalf("first retry: expected 2s, got %s", got)
	}
	if got := delay(1, nil, task); got != 4*time.Second {
		t.Fatalf("second retry: expected 4s, got %s", got)
	}
}
