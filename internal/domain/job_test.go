package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRequestValidate(t *testing.T) {
	valid := SubmitRequest{
		Image:      []byte{0xff, 0xd8, 0xff},
		Prompt:     "cool style",
		TemplateID: "t1",
	}
	valid.Normalize()
	require.NoError(t, valid.Validate())
	assert.Equal(t, DefaultAspectRatio, valid.AspectRatio)
	assert.Equal(t, DefaultStyle, valid.Style)

	cases := map[string]SubmitRequest{
		"no image":         {Prompt: "p", TemplateID: "t1", AspectRatio: "1:1"},
		"empty image":      {Image: []byte{}, Prompt: "p", TemplateID: "t1", AspectRatio: "1:1"},
		"missing prompt":   {Image: []byte{1}, TemplateID: "t1", AspectRatio: "1:1"},
		"missing template": {Image: []byte{1}, Prompt: "p", AspectRatio: "1:1"},
		"bad ratio":        {Image: []byte{1}, Prompt: "p", TemplateID: "t1", AspectRatio: "7:3"},
		"bad callback":     {Image: []byte{1}, Prompt: "p", TemplateID: "t1", AspectRatio: "1:1", CallbackURL: "not a url"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			err := req.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(fmt.Errorf("%w: nope", ErrValidation)))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("lookup: %w", ErrNotFound)))
	assert.Equal(t, KindUpstream, KindOf(fmt.Errorf("call: %w", ErrUpstream)))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
}

func TestResultFilename(t *testing.T) {
	assert.Equal(t, "ai-generated-abc.webp", ResultFilename("abc", ".webp"))
	assert.Equal(t, "ai-generated-abc.png", ResultFilename("abc", "png"))
}
