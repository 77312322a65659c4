package mapping

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type (
	// FilterDef declares a named filter and its parameters.
	FilterDef struct {
		Name   string
		Params []string
	}

	// Filter applies a filter definition to an entity or collection table.
	// Condition is a SQL fragment where {alias} stands for the table alias
	// and :name for a filter parameter, e.g.
	//
	//	{alias}.tenant_id = :tenant and {alias}.deleted = false
	Filter struct {
		Name      string
		Condition string
	}

	// FetchProfile forces join fetching of a set of associations when enabled.
	FetchProfile struct {
		Name    string
		Fetches []ProfileFetch
	}

	// ProfileFetch names one association of a fetch profile.
	ProfileFetch struct {
		Entity      string
		Association string
	}

	// EnabledFilter is a filter enabled with bound parameters.
	EnabledFilter struct {
		Name   string
		Params map[string]any
	}
)

// Render expands the condition for alias, replacing parameters by
// positional placeholders. The returned args are in placeholder order.
func (f *Filter) Render(alias string, params map[string]any) (string, []any, error) {
	cond := strings.ReplaceAll(f.Condition, "{alias}", alias)
	var (
		b     strings.Builder
		args  []any
		quote byte
	)
	for i := 0; i < len(cond); i++ {
		c := cond[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
			b.WriteByte(c)
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == ':' && i+1 < len(cond) && cond[i+1] == ':':
			// Postgres casts.
			b.WriteString("::")
			i++
		case c == ':' && i+1 < len(cond) && isIdentStart(cond[i+1]):
			j := i + 1
			for j < len(cond) && isIdent(cond[j]) {
				j++
			}
			name := cond[i+1 : j]
			v, ok := params[name]
			if !ok {
				return "", nil, fmt.Errorf("mapping: filter %s: parameter %q is not bound", f.Name, name)
			}
			b.WriteByte('?')
			args = append(args, v)
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), args, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdent(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

// Influencers are the per-session settings changing how statements are
// built: enabled filters and enabled fetch profiles. The zero value has
// nothing enabled.
type Influencers struct {
	filters  map[string]map[string]any
	profiles map[string]struct{}
}

// NewInfluencers returns empty influencers.
func NewInfluencers() *Influencers {
	return &Influencers{}
}

// EnableFilter enables the named filter with its parameter values.
func (i *Influencers) EnableFilter(name string, params map[string]any) *Influencers {
	if i.filters == nil {
		i.filters = make(map[string]map[string]any)
	}
	i.filters[name] = maps.Clone(params)
	return i
}

// DisableFilter disables the named filter.
func (i *Influencers) DisableFilter(name string) *Influencers {
	delete(i.filters, name)
	return i
}

// EnabledFilters returns the enabled filters sorted by name.
func (i *Influencers) EnabledFilters() []EnabledFilter {
	if i == nil {
		return nil
	}
	names := slices.Sorted(maps.Keys(i.filters))
	fs := make([]EnabledFilter, len(names))
	for j, name := range names {
		fs[j] = EnabledFilter{Name: name, Params: i.filters[name]}
	}
	return fs
}

// FilterParams returns the parameters of an enabled filter.
func (i *Influencers) FilterParams(name string) (map[string]any, bool) {
	if i == nil {
		return nil, false
	}
	p, ok := i.filters[name]
	return p, ok
}

// HasEnabledFilters reports whether any filter is enabled.
func (i *Influencers) HasEnabledFilters() bool {
	return i != nil && len(i.filters) > 0
}

// EnableFetchProfile enables the named fetch profile.
func (i *Influencers) EnableFetchProfile(name string) *Influencers {
	if i.profiles == nil {
		i.profiles = make(map[string]struct{})
	}
	i.profiles[name] = struct{}{}
	return i
}

// DisableFetchProfile disables the named fetch profile.
func (i *Influencers) DisableFetchProfile(name string) *Influencers {
	delete(i.profiles, name)
	return i
}

// EnabledFetchProfiles returns the enabled profile names, sorted.
func (i *Influencers) EnabledFetchProfiles() []string {
	if i == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(i.profiles))
}

// RenderFilters renders the enabled filters among fs for alias, joined
// with "and". It returns an empty string when none applies.
func RenderFilters(fs []*Filter, alias string, inf *Influencers) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	for _, f := range fs {
		params, ok := inf.FilterParams(f.Name)
		if !ok {
			continue
		}
		cond, a, err := f.Render(alias, params)
		if err != nil {
			return "", nil, err
		}
		conds = append(conds, cond)
		args = append(args, a...)
	}
	return strings.Join(conds, " and "), args, nil
}
