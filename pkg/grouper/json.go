package grouper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	dec "github.com/govalues/decimal"

	"github.com/daviszhen/ranker/pkg/common"
	"github.com/daviszhen/ranker/pkg/match"
	"github.com/daviszhen/ranker/pkg/util"
)

// SplitPath splits "attr.a.b" into the attribute name and the path
// inside the document. Array elements are addressed by number, "tags.0".
func SplitPath(name string) (string, []string) {
	parts := strings.Split(name, ".")
	return parts[0], parts[1:]
}

func decodeJSON(data []byte) (any, bool) {
	if len(data) == 0 {
		return nil, false
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var v any
	if err := decoder.Decode(&v); err != nil {
		return nil, false
	}
	return v, true
}

func lookupJSON(v any, path []string) (any, bool) {
	for _, p := range path {
		switch x := v.(type) {
		case map[string]any:
			next, has := x[p]
			if !has {
				return nil, false
			}
			v = next
		case []any:
			idx, err := strconv.Atoi(p)
			if err != nil || idx < 0 || idx >= len(x) {
				return nil, false
			}
			v = x[idx]
		default:
			return nil, false
		}
	}
	return v, true
}

// canonNumber renders a json number so that 1, 1.0 and 1e0 print
// the same way.
func canonNumber(s string) string {
	d, err := dec.Parse(s)
	if err == nil {
		return d.Trim(0).String()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return s
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// jsonText returns the text a json value groups by. Null and missing
// values report false.
func jsonText(v any) ([]byte, bool) {
	switch x := v.(type) {
	case nil:
		return nil, false
	case string:
		return []byte(x), true
	case json.Number:
		return []byte(canonNumber(string(x))), true
	case bool:
		if x {
			return []byte("true"), true
		}
		return []byte("false"), true
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return nil, false
		}
		return data, true
	}
}

// jsonGrouper groups by a subfield of a json attribute.
type jsonGrouper struct {
	_name string
	_loc  match.Locator
	_path []string
	_coll *common.Collator
	_pool *match.BlobPool
}

func NewJSONGrouper(name string, loc match.Locator, path []string, coll common.Collation) Grouper {
	util.AssertFunc(loc.Blob)
	return &jsonGrouper{
		_name: name,
		_loc:  loc,
		_path: path,
		_coll: common.NewCollator(coll),
	}
}

func (g *jsonGrouper) KeyFromMatch(m *match.Match) uint64 {
	return g.KeyFromValue(m.GetAttr(g._loc))
}

// KeyFromValue takes a blob handle of a json document.
func (g *jsonGrouper) KeyFromValue(v uint64) uint64 {
	doc, ok := decodeJSON(g._pool.Get(v))
	if !ok {
		return 0
	}
	field, ok := lookupJSON(doc, g._path)
	if !ok {
		return 0
	}
	return g.hashValue(field)
}

func (g *jsonGrouper) hashValue(v any) uint64 {
	text, ok := jsonText(v)
	if !ok || len(text) == 0 {
		return 0
	}
	return g._coll.Hash(text)
}

func (g *jsonGrouper) ResultType() common.AttrType {
	return common.AttrBigint
}

func (g *jsonGrouper) SetBlobPool(pool *match.BlobPool) {
	g._pool = pool
}

func (g *jsonGrouper) Fixup(old, s *match.Schema) {
	g._loc = s.FixupLocator(g._loc, old)
}

func (g *jsonGrouper) Clone() Grouper {
	return &jsonGrouper{
		_name: g._name,
		_loc:  g._loc,
		_path: g._path,
		_coll: g._coll.Clone(),
		_pool: g._pool,
	}
}

func (g *jsonGrouper) String() string {
	return fmt.Sprintf("json(%s.%s)", g._name, strings.Join(g._path, "."))
}

// jsonArrayGrouper explodes a json array into one key per distinct
// element. A scalar counts as a one element array.
type jsonArrayGrouper struct {
	jsonGrouper
}

func NewJSONArrayGrouper(name string, loc match.Locator, path []string, coll common.Collation) MultiGrouper {
	util.AssertFunc(loc.Blob)
	return &jsonArrayGrouper{
		jsonGrouper: jsonGrouper{
			_name: name,
			_loc:  loc,
			_path: path,
			_coll: common.NewCollator(coll),
		},
	}
}

func (g *jsonArrayGrouper) Keys(m *match.Match, dst []uint64) []uint64 {
	dst = dst[:0]
	doc, ok := decodeJSON(g._pool.Get(m.GetAttr(g._loc)))
	if !ok {
		return dst
	}
	field, ok := lookupJSON(doc, g._path)
	if !ok {
		return dst
	}
	arr, isArr := field.([]any)
	if !isArr {
		if key := g.hashValue(field); key != 0 {
			dst = append(dst, key)
		}
		return dst
	}
	for _, elem := range arr {
		if key := g.hashValue(elem); key != 0 {
			dst = append(dst, key)
		}
	}
	return uniqueKeys(dst)
}

func (g *jsonArrayGrouper) Clone() Grouper {
	return &jsonArrayGrouper{
		jsonGrouper: *g.jsonGrouper.Clone().(*jsonGrouper),
	}
}

func (g *jsonArrayGrouper) String() string {
	return fmt.Sprintf("json_array(%s.%s)", g._name, strings.Join(g._path, "."))
}
