package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"PECorpus/internal/domain"
	"PECorpus/internal/state"
)

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string           { return s.name }
func (s stubAdapter) Dir() string            { return s.name }
func (s stubAdapter) CursorSpec() state.Spec { return state.Spec{Initial: 1, Step: 1} }
func (s stubAdapter) Queries() []string      { return nil }
func (s stubAdapter) Discover(context.Context, string, int) ([]domain.Candidate, error) {
	return nil, nil
}
func (s stubAdapter) Resolve(context.Context, domain.Candidate) ([]string, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubAdapter{name: "nuget"})
	reg.Register(stubAdapter{name: "github"})

	got, err := reg.Resolve("github")
	require.NoError(t, err)
	require.Equal(t, "github", got.Name())

	_, err = reg.Resolve("sourceforge")
	require.Error(t, err)

	require.Equal(t, []string{"github", "nuget"}, reg.Names())

	var zero Registry
	zero.Register(stubAdapter{name: "portableapps"})
	require.Equal(t, []string{"portableapps"}, zero.Names())
}

func TestRegistrySelect(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(stubAdapter{name: "github"})
	reg.Register(stubAdapter{name: "nuget"})
	reg.Register(stubAdapter{name: "portableapps"})

	got, err := reg.Select([]string{"nuget", " GitHub ", "nuget"})
	require.NoError(t, err)
	require.Equal(t, []string{"nuget", "github"}, names(got))

	all, err := reg.Select(nil)
	require.NoError(t, err)
	require.Equal(t, []string{"github", "nuget", "portableapps"}, names(all))

	_, err = reg.Select([]string{"github", "sourceforge"})
	require.ErrorContains(t, err, `unknown source "sourceforge"`)
}

func names(adapters []Adapter) []string {
	out := make([]string, 0, len(adapters))
	for _, a := range adapters {
		out = append(out, a.Name())
	}
	return out
}
