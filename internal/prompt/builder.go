// Package prompt renders the instruction sent alongside the images.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Input describes one generation request.
type Input struct {
	Style        string
	Prompt       string
	TemplateName string
	AspectRatio  string
	HasLogo      bool
}

const instructionText = `You are given {{ .ImageCount }} images in order.
IMAGE 1 (FACE): the user's real photo. Preserve identity, facial structure, skin tone and expression exactly.
IMAGE 2 (BACKGROUND): the {{ with .TemplateName }}"{{ . }}" {{ end }}template canvas. Keep its colours, layout and every element unchanged.
{{- if .HasLogo }}
IMAGE 3 (LOGO): the brand logo. Reproduce it faithfully without recolouring or distortion.
{{- end }}

Create one photorealistic {{ .AspectRatio }} image: place the person from IMAGE 1 into IMAGE 2,
centred and framed from the waist up, with lighting that matches the background.

Style preset: {{ .Style }}.
Outfit and vibe: "{{ .Prompt }}"

Return only the final image.`

var instruction = template.Must(template.New("instruction").Parse(instructionText))

// Build returns the instruction text for in.
func Build(in Input) (string, error) {
	data := struct {
		Input
		ImageCount int
	}{Input: in, ImageCount: 2}
	if in.HasLogo {
		data.ImageCount = 3
	}
	data.Prompt = strings.ReplaceAll(strings.TrimSpace(in.Prompt), `"`, `'`)
	if data.Style == "" {
		data.Style = "natural"
	}
	if data.AspectRatio == "" {
		data.AspectRatio = "1:1"
	}

	var buf bytes.Buffer
	if err := instruction.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render instruction: %w", err)
	}
	return buf.String(), nil
}
