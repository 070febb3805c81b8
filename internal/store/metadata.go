package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"unicode/utf8"
)

const generatedBy = "PromptMint"

type Attribute struct {
	TraitType string `json:"trait_type"`
	Value     string `json:"value"`
}

// Metadata is the json document published next to an image for downstream
// token consumers.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Image       string      `json:"image"`
	Attributes  []Attribute `json:"attributes"`
	Prompt      string      `json:"prompt"`
	CreatedAt   string      `json:"created_at"`
	GeneratedBy string      `json:"generated_by"`
}

func NewMetadata(a Artifact, imageURL string) Metadata {
	created := a.CreatedAt.UTC()
	return Metadata{
		Name:        "AI Generated Art: " + truncate(a.Prompt, 50),
		Description: fmt.Sprintf("AI-generated artwork created from the prompt: %q", a.Prompt),
		Image:       imageURL,
		Attributes: []Attribute{
			{TraitType: "Generation Method", Value: "Doubao Seedream"},
			{TraitType: "Created At", Value: created.Format("2006-01-02")},
			{TraitType: "Prompt Length", Value: strconv.Itoa(utf8.RuneCountInString(a.Prompt))},
		},
		Prompt:      a.Prompt,
		CreatedAt:   created.Format("2006-01-02T15:04:05.000Z07:00"),
		GeneratedBy: generatedBy,
	}
}

func (m Metadata) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
