package validators

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubValidator struct {
	id string
}

func (s *stubValidator) ID() string                                            { return s.id }
func (s *stubValidator) Configure(cfg ValidatorConfig) error                   { return nil }
func (s *stubValidator) Validate(ctx context.Context, c []byte, v Context) ([]Issue, error) {
	return nil, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubValidator{id: "alpha"})

	v, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", v.ID())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}

func TestRegistryListIsSortedByID(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubValidator{id: "zeta"})
	r.Register(&stubValidator{id: "alpha"})
	r.Register(&stubValidator{id: "mu"})

	ids := r.IDs()
	assert.Equal(t, []string{"alpha", "mu", "zeta"}, ids)

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "alpha", list[0].ID())
}

func TestRegistryRegisterReplacesSameID(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubValidator{id: "alpha"})
	replacement := &stubValidator{id: "alpha"}
	r.Register(replacement)

	v, _ := r.Get("alpha")
	assert.Same(t, replacement, v)
}

func TestErrorIssueBuildsHighSeverityIssue(t *testing.T) {
	issue := ErrorIssue("links", errors.New("boom"))
	assert.Equal(t, "validator.error", issue.Type)
	assert.Equal(t, "high", issue.Severity)
	assert.Contains(t, issue.Message, "links")
	assert.Contains(t, issue.Message, "boom")
}

func TestRegisterDefaultsRegistersAllSevenValidators(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterDefaults(r, map[string]ValidatorConfig{}))

	ids := r.IDs()
	assert.Equal(t, []string{"code", "links", "markdown", "seo", "structure", "truth", "yaml"}, ids)
}

var _ Validator = (*stubValidator)(nil)
