package mapping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/fetchgraph/mapping"
)

func TestFilterRender(t *testing.T) {
	tests := []struct {
		name      string
		condition string
		params    map[string]any
		want      string
		args      []any
	}{
		{
			name:      "Alias",
			condition: "{alias}.deleted = false",
			want:      "o.deleted = false",
		},
		{
			name:      "Params",
			condition: "{alias}.tenant_id = :tenant and {alias}.region in (:region, :fallback)",
			params:    map[string]any{"tenant": 1, "region": "eu", "fallback": "us"},
			want:      "o.tenant_id = ? and o.region in (?, ?)",
			args:      []any{1, "eu", "us"},
		},
		{
			name:      "Cast",
			condition: "{alias}.created::date = :day",
			params:    map[string]any{"day": "2024-01-01"},
			want:      "o.created::date = ?",
			args:      []any{"2024-01-01"},
		},
		{
			name:      "Quoted",
			condition: "{alias}.note <> ':skip' and {alias}.id = :id",
			params:    map[string]any{"id": 3},
			want:      "o.note <> ':skip' and o.id = ?",
			args:      []any{3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &mapping.Filter{Name: tt.name, Condition: tt.condition}
			got, args, err := f.Render("o", tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.args, args)
		})
	}

	f := &mapping.Filter{Name: "tenant", Condition: "{alias}.tenant_id = :tenant"}
	_, _, err := f.Render("o", nil)
	assert.ErrorContains(t, err, `parameter "tenant" is not bound`)
}

func TestInfluencers(t *testing.T) {
	var nilInf *mapping.Influencers
	assert.False(t, nilInf.HasEnabledFilters())
	assert.Nil(t, nilInf.EnabledFilters())
	assert.Nil(t, nilInf.EnabledFetchProfiles())
	_, ok := nilInf.FilterParams("x")
	assert.False(t, ok)

	params := map[string]any{"tenant": 1}
	inf := mapping.NewInfluencers().
		EnableFilter("visible", nil).
		EnableFilter("tenant", params).
		EnableFetchProfile("b").
		EnableFetchProfile("a")
	params["tenant"] = 2
	got, ok := inf.FilterParams("tenant")
	require.True(t, ok)
	assert.Equal(t, 1, got["tenant"], "parameters are copied")

	assert.True(t, inf.HasEnabledFilters())
	fs := inf.EnabledFilters()
	require.Len(t, fs, 2)
	assert.Equal(t, "tenant", fs[0].Name)
	assert.Equal(t, "visible", fs[1].Name)
	assert.Equal(t, []string{"a", "b"}, inf.EnabledFetchProfiles())

	inf.DisableFilter("tenant").DisableFetchProfile("a")
	assert.Len(t, inf.EnabledFilters(), 1)
	assert.Equal(t, []string{"b"}, inf.EnabledFetchProfiles())
}

func TestRenderFilters(t *testing.T) {
	fs := []*mapping.Filter{
		{Name: "tenant", Condition: "{alias}.tenant_id = :tenant"},
		{Name: "visible", Condition: "{alias}.hidden = false"},
		{Name: "archived", Condition: "{alias}.archived"},
	}
	inf := mapping.NewInfluencers().
		EnableFilter("tenant", map[string]any{"tenant": 9}).
		EnableFilter("visible", nil)
	cond, args, err := mapping.RenderFilters(fs, "t0_", inf)
	require.NoError(t, err)
	assert.Equal(t, "t0_.tenant_id = ? and t0_.hidden = false", cond)
	assert.Equal(t, []any{9}, args)

	cond, args, err = mapping.RenderFilters(fs, "t0_", nil)
	require.NoError(t, err)
	assert.Empty(t, cond)
	assert.Empty(t, args)
}
