package query

import (
	"strconv"
	"strings"
	"sync"

	"github.com/jdbx/jdbx/internal/schema"
)

// pathStep is one hop of a replay path into a filter tree: either a map
// key (into an M) or a slice index (into a $and/$or/$nor list or an $in
// array).
type pathStep struct {
	key     string
	index   int
	isIndex bool
}

// entry is one cached translation: the compiled SQL/projection plan plus
// the ordered list of paths needed to re-extract bind values from a new,
// structurally identical filter.
type entry struct {
	result *Result
	paths  []boundPath // one per WHERE-arg slot, in Args order
}

// boundPath is the path from the filter root down to one leaf value, plus
// the transform translateOneOperator applied to the raw leaf when
// producing the original bind arg ($contains/$startsWith/$endsWith wrap
// and escape the value; everything else binds it as-is).
type boundPath struct {
	path      []pathStep
	transform string
}

const (
	xformNone        = ""
	xformContains    = "contains"
	xformStartsWith  = "startsWith"
	xformEndsWith    = "endsWith"
)

func applyTransform(xform string, v any) any {
	s, _ := v.(string)
	switch xform {
	case xformContains:
		return "%" + escapeLike(s) + "%"
	case xformStartsWith:
		return escapeLike(s) + "%"
	case xformEndsWith:
		return "%" + escapeLike(s)
	default:
		return v
	}
}

// Cache is a FIFO-evicted template cache keyed on filter+options shape
// (spec §4.2's "Template cache" paragraph). Not safe to share across
// schemas with different Definitions for the same shape key — callers key
// one Cache per collection, matching "default 500 entries per collection".
type Cache struct {
	mu       sync.Mutex
	cap      int
	order    []string
	entries  map[string]entry
}

const DefaultCacheCap = 500

func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCap
	}
	return &Cache{cap: capacity, entries: make(map[string]entry)}
}

// TranslateCached is Translate with a shape-keyed front cache. Filters
// containing $elemMatch/$index/$all are never cached, per spec.
func (c *Cache) TranslateCached(filter M, opts Options, def *schema.Definition, cursorFilter M) (*Result, error) {
	if opts.TextSearch != nil ||
		containsNonCacheable(filter) ||
		(cursorFilter != nil && containsNonCacheable(cursorFilter)) {
		return Translate(filter, opts, def, cursorFilter)
	}

	key := shapeKey(filter, opts, cursorFilter)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return replay(e, filter, opts, cursorFilter)
	}
	c.mu.Unlock()

	result, err := Translate(filter, opts, def, cursorFilter)
	if err != nil {
		return nil, err
	}

	paths := extractPaths(filter, opts, cursorFilter)
	c.put(key, entry{result: result, paths: paths})
	return result, nil
}

func (c *Cache) put(key string, e entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = e
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, key)
	c.entries[key] = e
}

// replay re-extracts bind values from a structurally identical new filter
// using the cached entry's paths, and re-binds LIMIT/OFFSET from opts,
// without re-running SQL generation.
func replay(e entry, filter M, opts Options, cursorFilter M) (*Result, error) {
	root := replayRoot(filter, opts, cursorFilter)
	args := make([]any, 0, len(e.paths))
	for _, p := range e.paths {
		v, err := pathGet(root, p.path)
		if err != nil {
			return nil, err
		}
		args = append(args, encodeScalar(applyTransform(p.transform, v)))
	}
	out := *e.result
	out.Args = args
	_, out.LimitArgs = buildLimit(opts.Limit, opts.Skip)
	return &out, nil
}

// replayRoot builds the same synthetic root node extractPaths walked, so
// paths recorded at compile time still resolve on a cache hit.
func replayRoot(filter M, _ Options, cursorFilter M) M {
	if cursorFilter != nil {
		return M{"__filter": filter, "__cursor": cursorFilter}
	}
	return filter
}

// containsNonCacheable reports whether filter contains any $elemMatch,
// $index, or $all construct anywhere in its tree (spec: these skip the
// cache because their value shapes vary call to call).
func containsNonCacheable(filter M) bool {
	for k, v := range filter {
		switch k {
		case OpElemMatch, OpIndex, OpAll:
			return true
		case OpAnd, OpOr, OpNor:
			list, _ := asSlice(v)
			for _, item := range list {
				if sub, ok := asM(item); ok && containsNonCacheable(sub) {
					return true
				}
			}
		case OpNot:
			if sub, ok := asM(v); ok && containsNonCacheable(sub) {
				return true
			}
		default:
			if sub, ok := isOperatorObject(v); ok {
				for op := range sub {
					if op == OpElemMatch || op == OpIndex || op == OpAll {
						return true
					}
				}
			}
		}
	}
	return false
}

// shapeKey derives a cache key from filter/option/cursor structure only:
// operator identities, field names, and null-vs-nonnull per leaf — never
// leaf values (spec §4.2).
func shapeKey(filter M, opts Options, cursorFilter M) string {
	var b strings.Builder
	writeShape(&b, filter)
	b.WriteString("|cur:")
	writeShape(&b, cursorFilter)
	b.WriteString("|sort:")
	for _, s := range opts.Sort {
		b.WriteString(s.Field)
		if s.Desc {
			b.WriteString("-")
		} else {
			b.WriteString("+")
		}
	}
	b.WriteString("|lim:")
	b.WriteString(strconv.FormatBool(opts.Limit != nil))
	b.WriteString("|skip:")
	b.WriteString(strconv.FormatBool(opts.Skip != nil))
	b.WriteString("|proj:")
	for _, f := range opts.Select {
		b.WriteString(f)
		b.WriteByte(',')
	}
	for _, f := range opts.Omit {
		b.WriteString("!")
		b.WriteString(f)
		b.WriteByte(',')
	}
	for f, v := range opts.Projection {
		b.WriteString(f)
		if truthy(v) {
			b.WriteString("+,")
		} else {
			b.WriteString("-,")
		}
	}
	if opts.TextSearch != nil {
		b.WriteString("|ts:")
		b.WriteString(strings.Join(opts.TextSearch.Fields, ","))
	}
	return b.String()
}

func writeShape(b *strings.Builder, node M) {
	b.WriteByte('{')
	for _, k := range sortedKeys(node) {
		v := node[k]
		b.WriteString(k)
		b.WriteByte(':')
		switch k {
		case OpAnd, OpOr, OpNor:
			list, _ := asSlice(v)
			b.WriteByte('[')
			for _, item := range list {
				if sub, ok := asM(item); ok {
					writeShape(b, sub)
				}
				b.WriteByte(',')
			}
			b.WriteByte(']')
		case OpNot:
			if sub, ok := asM(v); ok {
				writeShape(b, sub)
			}
		default:
			if sub, ok := isOperatorObject(v); ok {
				for _, op := range sortedKeys(sub) {
					b.WriteString(op)
					switch {
					case op == OpExists:
						want, _ := sub[op].(bool)
						b.WriteString(strconv.FormatBool(want))
					case op == OpIn || op == OpNin:
						list, _ := asSlice(sub[op])
						b.WriteString("#" + strconv.Itoa(len(list)))
					case sub[op] == nil:
						b.WriteString("(null)")
					}
					b.WriteByte(';')
				}
			} else if v == nil {
				b.WriteString("(null)")
			} else {
				b.WriteString("(v)")
			}
		}
		b.WriteByte(';')
	}
	b.WriteByte('}')
}

// extractPaths walks filter in exactly the order translateNode/
// translateOperators visit leaves (sorted-key order) and records, for
// every bind value, the path needed to re-fetch it from a structurally
// identical filter on a cache hit.
func extractPaths(filter M, opts Options, cursorFilter M) []boundPath {
	var paths []boundPath
	var prefix []pathStep
	if cursorFilter != nil {
		prefix = []pathStep{{key: "__filter"}}
	}
	walkLeaves(filter, prefix, &paths)
	if cursorFilter != nil {
		walkLeaves(cursorFilter, []pathStep{{key: "__cursor"}}, &paths)
	}
	return paths
}

func walkLeaves(node M, prefix []pathStep, out *[]boundPath) {
	for _, field := range sortedKeys(node) {
		val := node[field]
		path := append(append([]pathStep{}, prefix...), pathStep{key: field})
		switch field {
		case OpAnd, OpOr, OpNor:
			list, _ := asSlice(val)
			for i, item := range list {
				if sub, ok := asM(item); ok {
					walkLeaves(sub, append(append([]pathStep{}, path...), pathStep{index: i, isIndex: true}), out)
				}
			}
		case OpNot:
			if sub, ok := asM(val); ok {
				walkLeaves(sub, path, out)
			}
		default:
			if sub, ok := isOperatorObject(val); ok {
				for _, op := range sortedKeys(sub) {
					leafVal := sub[op]
					if op == OpExists {
						continue // bool flag baked into SQL text, not a bind arg
					}
					if op == OpIn || op == OpNin {
						list, _ := asSlice(leafVal)
						for i := range list {
							p := append(append([]pathStep{}, path...), pathStep{key: op}, pathStep{index: i, isIndex: true})
							*out = append(*out, boundPath{path: p})
						}
						continue
					}
					if leafVal == nil {
						continue // IS NULL/IS NOT NULL, no bind arg
					}
					p := append(append([]pathStep{}, path...), pathStep{key: op})
					*out = append(*out, boundPath{path: p, transform: transformFor(op)})
				}
			} else if val != nil {
				*out = append(*out, boundPath{path: path})
			}
		}
	}
}

func transformFor(op string) string {
	switch op {
	case OpContains:
		return xformContains
	case OpStartsWith:
		return xformStartsWith
	case OpEndsWith:
		return xformEndsWith
	default:
		return xformNone
	}
}

// pathGet walks root following path, returning the value found.
func pathGet(root any, path []pathStep) (any, error) {
	cur := root
	for _, step := range path {
		if step.isIndex {
			list, ok := cur.([]any)
			if !ok || step.index >= len(list) {
				return nil, errPathMiss(path)
			}
			cur = list[step.index]
			continue
		}
		m, ok := asM(cur)
		if !ok {
			if mm, ok2 := cur.(map[string]any); ok2 {
				m = M(mm)
			} else {
				return nil, errPathMiss(path)
			}
		}
		v, ok := m[step.key]
		if !ok {
			return nil, errPathMiss(path)
		}
		cur = v
	}
	return cur, nil
}

func errPathMiss(path []pathStep) error {
	return &pathMissError{path: path}
}

type pathMissError struct{ path []pathStep }

func (e *pathMissError) Error() string {
	return "query: cache replay path did not resolve against new filter (shape mismatch)"
}
