// ABOUTME: Ordered query-string builder for the intranet API conventions.
// ABOUTME: Emits filter[...], range[...], page[...] and sort parameters with literal brackets.

package intra

import (
	"net/url"
	"strconv"
	"strings"
)

// Query is an ordered list of query parameters. The zero value is empty and
// ready to use; builder methods return a new Query.
type Query struct {
	params []param
}

type param struct {
	key   string
	value string
}

// Set appends a raw key/value pair.
func (q Query) Set(key, value string) Query {
	params := make([]param, len(q.params), len(q.params)+1)
	copy(params, q.params)
	return Query{params: append(params, param{key: key, value: value})}
}

// Filter adds filter[field]=value. Empty values are skipped.
func (q Query) Filter(field, value string) Query {
	if value == "" {
		return q
	}
	return q.Set("filter["+field+"]", value)
}

// Range adds range[field]=min,max.
func (q Query) Range(field, min, max string) Query {
	return q.Set("range["+field+"]", min+","+max)
}

// PageSize adds page[size]=n. Non-positive sizes are skipped.
func (q Query) PageSize(n int) Query {
	if n <= 0 {
		return q
	}
	return q.Set("page[size]", strconv.Itoa(n))
}

// PageNumber adds page[number]=n. Non-positive numbers are skipped.
func (q Query) PageNumber(n int) Query {
	if n <= 0 {
		return q
	}
	return q.Set("page[number]", strconv.Itoa(n))
}

// Sort adds sort=field; prefix the field with "-" for descending order.
func (q Query) Sort(field string) Query {
	if field == "" {
		return q
	}
	return q.Set("sort", field)
}

// Len returns the number of parameters.
func (q Query) Len() int { return len(q.params) }

// Encode renders the parameters in insertion order. Brackets in keys are kept
// literal; everything else is percent-encoded.
func (q Query) Encode() string {
	if len(q.params) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range q.params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(escapeKey(p.key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.value))
	}
	return b.String()
}

func (q Query) String() string { return q.Encode() }

func escapeKey(key string) string {
	escaped := url.QueryEscape(key)
	return strings.NewReplacer("%5B", "[", "%5D", "]").Replace(escaped)
}
