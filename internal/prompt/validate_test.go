package prompt

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validator() *Validator {
	v, _ := NewValidator(nil)
	return v
}

func requireInvalid(t *testing.T, err error, message string) {
	t.Helper()
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.InvalidInput, fe.Kind)
	assert.Equal(t, message, fe.Message)
}

func TestValidateRulesInOrder(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		raw     any
		message string
	}{
		{"absent", nil, "Prompt is required and must be a string"},
		{"not textual", 42, "Prompt is required and must be a string"},
		{"empty", "", "Prompt cannot be empty"},
		{"whitespace", " \t\n ", "Prompt cannot be empty"},
		{"too long", strings.Repeat("a", MaxLength+1), "Prompt must be less than 1000 characters"},
		{"too long and forbidden", strings.Repeat("nsfw", 300), "Prompt must be less than 1000 characters"},
		{"forbidden", "a HATEful cat", "Prompt contains inappropriate content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validator().Validate(ctx, tt.raw)
			requireInvalid(t, err, tt.message)
		})
	}
}

func TestValidateForbiddenTermsCaseInsensitive(t *testing.T) {
	for _, term := range ForbiddenTerms {
		for _, variant := range []string{term, strings.ToUpper(term), "xx" + strings.ToUpper(term[:1]) + term[1:] + "yy"} {
			_, err := validator().Validate(context.Background(), "a fox "+variant)
			requireInvalid(t, err, "Prompt contains inappropriate content")
		}
	}
}

func TestValidateAccepts(t *testing.T) {
	got, err := validator().Validate(context.Background(), "a red fox in snow")
	require.NoError(t, err)
	assert.Equal(t, "a red fox in snow", got)

	exact := strings.Repeat("狐", MaxLength)
	got, err = validator().Validate(context.Background(), exact)
	require.NoError(t, err)
	assert.Equal(t, exact, got)
}

func TestValidateSize(t *testing.T) {
	size, err := ValidateSize("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, size)

	size, err = ValidateSize("1280x720")
	require.NoError(t, err)
	assert.Equal(t, "1280x720", size)

	_, err = ValidateSize("10x10")
	requireInvalid(t, err, `Unsupported size "10x10"`)
}

func TestValidateSeed(t *testing.T) {
	seed, err := ValidateSeed(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSeed, seed)

	seed, err = ValidateSeed(lo.ToPtr(int64(-1)))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), seed)

	_, err = ValidateSeed(lo.ToPtr(int64(math.MaxInt32) + 1))
	assert.Equal(t, failure.InvalidInput, failure.KindOf(err))
	_, err = ValidateSeed(lo.ToPtr(int64(-2)))
	assert.Equal(t, failure.InvalidInput, failure.KindOf(err))
}
