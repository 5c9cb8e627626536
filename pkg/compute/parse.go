package compute

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/daviszhen/ranker/pkg/match"
)

// ParseOrder reads "a desc, b asc, c". The direction defaults to asc.
func ParseOrder(text string) ([]OrderItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	var ret []OrderItem
	for _, part := range strings.Split(text, ",") {
		fields := strings.Fields(part)
		switch len(fields) {
		case 1:
			ret = append(ret, OrderItem{Name: fields[0]})
		case 2:
			item := OrderItem{Name: fields[0]}
			switch strings.ToLower(fields[1]) {
			case "asc":
			case "desc":
				item.Desc = true
			default:
				return nil, errors.Errorf("invalid sort direction '%s'", fields[1])
			}
			ret = append(ret, item)
		default:
			return nil, errors.Errorf("invalid sort key '%s'", strings.TrimSpace(part))
		}
	}
	return ret, nil
}

var aggrFuncs = map[string]match.AggrKind{
	"sum":          match.AggrSum,
	"avg":          match.AggrAvg,
	"min":          match.AggrMin,
	"max":          match.AggrMax,
	"group_concat": match.AggrCat,
}

// ParseAggr reads "sum(price) as total". The alias is optional.
func ParseAggr(text string) (AggrSpec, error) {
	text = strings.TrimSpace(text)
	lp := strings.IndexByte(text, '(')
	rp := strings.IndexByte(text, ')')
	if lp <= 0 || rp < lp {
		return AggrSpec{}, errors.Errorf("invalid aggregate '%s'", text)
	}
	kind, has := aggrFuncs[strings.ToLower(strings.TrimSpace(text[:lp]))]
	if !has {
		return AggrSpec{}, errors.Errorf("unknown aggregate function '%s'", text[:lp])
	}
	ret := AggrSpec{
		Func: kind,
		Attr: strings.TrimSpace(text[lp+1 : rp]),
	}
	if ret.Attr == "" {
		return AggrSpec{}, errors.Errorf("aggregate '%s' has no argument", text)
	}
	rest := strings.Fields(text[rp+1:])
	switch {
	case len(rest) == 0:
	case len(rest) == 2 && strings.EqualFold(rest[0], "as"):
		ret.Alias = rest[1]
	default:
		return AggrSpec{}, errors.Errorf("invalid aggregate alias in '%s'", text)
	}
	return ret, nil
}

// ParseHaving reads "name op value", e.g. "@count >= 2".
func ParseHaving(text string) (*HavingSpec, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, nil
	}
	//longest operators first
	for _, op := range []string{">=", "<=", "!=", "<>", "==", ">", "<", "="} {
		pos := strings.Index(text, op)
		if pos <= 0 {
			continue
		}
		name := strings.TrimSpace(text[:pos])
		value, err := strconv.ParseFloat(strings.TrimSpace(text[pos+len(op):]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "having '%s'", text)
		}
		return &HavingSpec{Name: name, Op: op, Value: value}, nil
	}
	return nil, errors.Errorf("invalid having '%s'", text)
}

func ParseGroupFunc(name string) (GroupFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "attr":
		return GroupAttr, nil
	case "day":
		return GroupDay, nil
	case "week":
		return GroupWeek, nil
	case "month":
		return GroupMonth, nil
	case "year":
		return GroupYear, nil
	default:
		return GroupAttr, errors.Errorf("unknown group function '%s'", name)
	}
}
