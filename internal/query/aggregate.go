package query

import (
	"fmt"

	"github.com/roach88/objgraph/internal/schema"
	"github.com/roach88/objgraph/internal/value"
)

// Aggregate evaluates expressions over records in memory.
//
// count yields Int, avg yields Float, sum/min/max yield the attribute's
// type. Over no values count is 0 and every other aggregate is Null.
// Null attribute values are skipped.
func Aggregate(e *schema.EntityType, exprs []Expression, records []Record) (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(exprs))
	for _, x := range exprs {
		v, err := aggregateOne(e, x, records)
		if err != nil {
			return nil, fmt.Errorf("aggregate %s: %w", x.Name, err)
		}
		out[x.Name] = v
	}
	return out, nil
}

func aggregateOne(e *schema.EntityType, x Expression, records []Record) (value.Value, error) {
	if x.Func == Count && x.Attribute == "" {
		return value.Int(len(records)), nil
	}

	attr, ok := e.Attribute(x.Attribute)
	if !ok {
		return nil, fmt.Errorf("unknown attribute %q", x.Attribute)
	}

	var (
		n      int
		sum    float64
		isum   int64
		floaty bool
		best   value.Value = value.Null{}
	)
	for _, r := range records {
		v := r.Attr(x.Attribute)
		if value.IsNull(v) {
			continue
		}
		n++
		switch num := v.(type) {
		case value.Int:
			isum += int64(num)
			sum += float64(num)
		case value.Float:
			floaty = true
			sum += float64(num)
		}
		switch x.Func {
		case Min:
			if value.IsNull(best) || value.Compare(v, best) < 0 {
				best = v
			}
		case Max:
			if value.IsNull(best) || value.Compare(v, best) > 0 {
				best = v
			}
		}
	}

	switch x.Func {
	case Count:
		return value.Int(n), nil
	case Avg:
		if n == 0 {
			return value.Null{}, nil
		}
		return value.Float(sum / float64(n)), nil
	case Sum:
		if n == 0 {
			return value.Null{}, nil
		}
		if floaty {
			return CoerceAggregate(attr.Type, value.Float(sum))
		}
		return CoerceAggregate(attr.Type, value.Int(isum))
	case Min, Max:
		return CoerceAggregate(attr.Type, best)
	default:
		return nil, fmt.Errorf("unknown aggregate function %q", x.Func)
	}
}

// CoerceAggregate converts a sum/min/max result to the attribute type.
// A non-integral float sum over an int attribute stays Float.
func CoerceAggregate(t value.Type, v value.Value) (value.Value, error) {
	if value.IsNull(v) {
		return value.Null{}, nil
	}
	c, err := value.Coerce(t, v)
	if err != nil {
		if _, ok := v.(value.Float); ok && t == value.TypeInt {
			return v, nil
		}
		return nil, err
	}
	return c, nil
}
