package query

import "github.com/jdbx/jdbx/internal/jdbxerr"

// ProjectionMode distinguishes include vs exclude shaping (spec §4.3).
type ProjectionMode int

const (
	ProjectNone ProjectionMode = iota
	ProjectInclude
	ProjectExclude
)

// ProjectionPlan is applied to each decoded document after the SQL round
// trip; it never touches the SQL itself (spec §4.2's "do not affect SQL").
type ProjectionPlan struct {
	Mode      ProjectionMode
	Fields    map[string]bool // field name -> true, meaning varies with Mode
	KeepID    bool            // only meaningful in ProjectInclude mode
	ExcludeID bool            // only meaningful in ProjectExclude mode
}

// BuildProjectionPlan exposes buildProjection to callers outside the
// translator (e.g. coll.FindById's _id-only fast path, which never calls
// Translate).
func BuildProjectionPlan(opts Options) (*ProjectionPlan, error) {
	return buildProjection(opts)
}

// buildProjection resolves opts.Projection/Select/Omit into a single plan,
// honouring the precedence projection > select > omit (spec §4.2).
func buildProjection(opts Options) (*ProjectionPlan, error) {
	if len(opts.Projection) > 0 {
		return planFromProjection(opts.Projection)
	}
	if len(opts.Select) > 0 {
		fields := make(map[string]bool, len(opts.Select))
		for _, f := range opts.Select {
			fields[f] = true
		}
		return &ProjectionPlan{Mode: ProjectInclude, Fields: fields, KeepID: true}, nil
	}
	if len(opts.Omit) > 0 {
		fields := make(map[string]bool, len(opts.Omit))
		for _, f := range opts.Omit {
			fields[f] = true
		}
		return &ProjectionPlan{Mode: ProjectExclude, Fields: fields}, nil
	}
	return nil, nil
}

func planFromProjection(spec M) (*ProjectionPlan, error) {
	var includes, excludes int
	idExcluded := false
	for field, v := range spec {
		on := truthy(v)
		if field == "_id" && !on {
			idExcluded = true
			continue
		}
		if on {
			includes++
		} else {
			excludes++
		}
	}
	if includes > 0 && excludes > 0 {
		return nil, jdbxerr.New(jdbxerr.Query, "query.project", "projection cannot mix include and exclude fields")
	}

	fields := make(map[string]bool)
	if includes > 0 {
		for field, v := range spec {
			if field == "_id" {
				continue
			}
			if truthy(v) {
				fields[field] = true
			}
		}
		return &ProjectionPlan{Mode: ProjectInclude, Fields: fields, KeepID: !idExcluded}, nil
	}

	for field, v := range spec {
		if field == "_id" {
			continue
		}
		if !truthy(v) {
			fields[field] = true
		}
	}
	return &ProjectionPlan{Mode: ProjectExclude, Fields: fields, ExcludeID: idExcluded}, nil
}

func truthy(v any) bool {
	switch n := v.(type) {
	case bool:
		return n
	case int:
		return n != 0
	case int64:
		return n != 0
	case float64:
		return n != 0
	default:
		return v != nil
	}
}

// Apply shapes a single decoded document according to the plan and returns
// the result: doc itself when there is no plan, otherwise a new map.
// doc always retains "_id" as a map key coming in; Apply decides whether it
// survives.
func (p *ProjectionPlan) Apply(doc map[string]any) map[string]any {
	if p == nil || p.Mode == ProjectNone {
		return doc
	}
	switch p.Mode {
	case ProjectInclude:
		out := make(map[string]any, len(p.Fields)+1)
		for f := range p.Fields {
			if v, ok := doc[f]; ok {
				out[f] = v
			}
		}
		if p.KeepID {
			if id, ok := doc["_id"]; ok {
				out["_id"] = id
			}
		}
		return out
	case ProjectExclude:
		out := make(map[string]any, len(doc))
		for k, v := range doc {
			if p.Fields[k] {
				continue
			}
			if k == "_id" && p.ExcludeID {
				continue
			}
			out[k] = v
		}
		return out
	default:
		return doc
	}
}
