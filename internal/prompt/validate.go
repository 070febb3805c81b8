package prompt

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/samber/do"
	"github.com/samber/lo"
)

const (
	MaxLength   = 1000
	DefaultSize = "1024x1024"
	DefaultSeed = int64(42)
)

var ForbiddenTerms = []string{"nsfw", "explicit", "violence", "hate"}

// Sizes accepted by the seedream text-to-image models.
var Sizes = []string{
	"1024x1024",
	"864x1152",
	"1152x864",
	"1280x720",
	"720x1280",
	"832x1248",
	"1248x832",
	"1512x648",
}

type Validator struct {
	MaxLength int
	Forbidden []string
}

func NewValidator(i *do.Injector) (*Validator, error) {
	return &Validator{MaxLength: MaxLength, Forbidden: ForbiddenTerms}, nil
}

// Validate checks a raw prompt value as decoded from a request. The first
// failing rule decides the reason.
func (v *Validator) Validate(ctx context.Context, raw any) (string, error) {
	s, ok := raw.(string)
	if !ok {
		return "", failure.New(failure.InvalidInput, "Prompt is required and must be a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", failure.New(failure.InvalidInput, "Prompt cannot be empty")
	}
	if utf8.RuneCountInString(s) > v.MaxLength {
		return "", failure.New(failure.InvalidInput, fmt.Sprintf("Prompt must be less than %d characters", v.MaxLength))
	}

	lower := strings.ToLower(s)
	if term, found := lo.Find(v.Forbidden, func(term string) bool {
		return strings.Contains(lower, strings.ToLower(term))
	}); found {
		log.FromContextOrDiscard(ctx).WithGroup("validator").Info("rejected prompt", "term", term)
		return "", failure.New(failure.InvalidInput, "Prompt contains inappropriate content")
	}
	return s, nil
}

func ValidateSize(size string) (string, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return DefaultSize, nil
	}
	if !lo.Contains(Sizes, size) {
		return "", failure.New(failure.InvalidInput, fmt.Sprintf("Unsupported size %q", size))
	}
	return size, nil
}

// ValidateSeed accepts -1 (provider picks a seed) up to the provider's int32 ceiling.
func ValidateSeed(seed *int64) (int64, error) {
	if seed == nil {
		return DefaultSeed, nil
	}
	if *seed < -1 || *seed > math.MaxInt32 {
		return 0, failure.New(failure.InvalidInput, fmt.Sprintf("Seed must be between -1 and %d", math.MaxInt32))
	}
	return *seed, nil
}
