package validators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestYAMLValidatorReportsMissingRequiredField(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{
		Options: map[string]any{
			"required_fields": []any{"title", "date"},
		},
	}))

	content := []byte("---\ntitle: hello\n---\n\nbody\n")
	issues, err := v.Validate(context.Background(), content, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "yaml.missing_required_field", issues[0].Type)
	assert.Contains(t, issues[0].Message, "date")
}

func TestYAMLValidatorNoFrontMatterIsNotReportedByDefault(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{}))

	issues, err := v.Validate(context.Background(), []byte("just body text\n"), Context{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestYAMLValidatorReportsNoFrontMatterWhenRequired(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{
		Options: map[string]any{"require_front_matter": true},
	}))

	issues, err := v.Validate(context.Background(), []byte("just body text\n"), Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "yaml.no_front_matter", issues[0].Type)
	assert.Equal(t, "info", issues[0].Severity)
}

func TestYAMLValidatorReportsWrongType(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{
		Options: map[string]any{
			"field_types": map[string]any{"weight": "number"},
		},
	}))

	content := []byte("---\nweight: \"heavy\"\n---\nbody\n")
	issues, err := v.Validate(context.Background(), content, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "yaml.wrong_type", issues[0].Type)
}

func TestYAMLValidatorRejectsUnknownFields(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{
		Options: map[string]any{
			"required_fields":       []any{"title"},
			"reject_unknown_fields": true,
		},
	}))

	content := []byte("---\ntitle: hi\nextra_field: 1\n---\nbody\n")
	issues, err := v.Validate(context.Background(), content, Context{})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "yaml.unknown_field", issues[0].Type)
	assert.Equal(t, "warning", issues[0].Severity)
}

func TestExtractFrontMatterNoDelimiter(t *testing.T) {
	_, _, found := extractFrontMatter([]byte("no delimiter here\n"))
	assert.False(t, found)
}

func TestExtractFrontMatterUnclosed(t *testing.T) {
	_, _, found := extractFrontMatter([]byte("---\ntitle: hi\n"))
	assert.False(t, found)
}

func TestYAMLValidatorReportsDuplicateKey(t *testing.T) {
	v := NewYAMLValidator()
	require.NoError(t, v.Configure(ValidatorConfig{}))

	content := []byte("---\ntitle: hi\ntitle: again\n---\nbody\n")
	issues, err := v.Validate(context.Background(), content, Context{})
	require.NoError(t, err)
	require.NotEmpty(t, issues)
	assert.Equal(t, "yaml.duplicate_key", issues[0].Type)
}
