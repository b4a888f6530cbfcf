package respond

import (
	"strconv"
	"strings"
)

type mediaRange struct {
	typ     string
	subtype string
	q       float64
}

var (
	jsonTypes = [][2]string{{"application", "json"}, {"application", "problem+json"}}
	cborTypes = [][2]string{{"application", "cbor"}, {"application", "problem+cbor"}}
)

// parseAccept splits an Accept header into media ranges. Missing, malformed,
// or out-of-range q values count as 1.
func parseAccept(header string) []mediaRange {
	var ranges []mediaRange
	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		params := strings.Split(part, ";")
		mt := strings.ToLower(strings.TrimSpace(params[0]))
		mr := mediaRange{q: 1.0}
		if typ, sub, ok := strings.Cut(mt, "/"); ok {
			mr.typ, mr.subtype = typ, sub
		} else {
			mr.typ, mr.subtype = mt, "*"
		}
		for _, p := range params[1:] {
			key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "q") {
				continue
			}
			q, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
			if err != nil || q < 0 || q > 1 {
				q = 1.0
			}
			mr.q = q
		}
		ranges = append(ranges, mr)
	}
	return ranges
}

// specificity ranks how closely a range matches typ/sub: -1 for no match,
// then */*, type/*, type/*+suffix, exact, exact structured type.
func (m mediaRange) specificity(typ, sub string) int {
	switch {
	case m.typ == "*" && m.subtype == "*":
		return 0
	case m.typ != typ:
		return -1
	case m.subtype == sub && strings.Contains(sub, "+"):
		return 4
	case m.subtype == sub:
		return 3
	case strings.HasPrefix(m.subtype, "*+") && strings.HasSuffix(sub, m.subtype[1:]):
		return 2
	case m.subtype == "*":
		return 1
	}
	return -1
}

type preference struct {
	q    float64
	spec int
}

// bestPreference returns the strongest acceptable preference among types.
// Each type is judged by its most specific matching range, so q=0 on an exact
// range excludes it even when a wildcard would allow it.
func bestPreference(ranges []mediaRange, types [][2]string) (preference, bool) {
	var (
		best  preference
		found bool
	)
	for _, t := range types {
		cur := preference{spec: -1}
		for _, r := range ranges {
			s := r.specificity(t[0], t[1])
			if s < 0 {
				continue
			}
			if s > cur.spec || (s == cur.spec && r.q > cur.q) {
				cur = preference{q: r.q, spec: s}
			}
		}
		if cur.spec < 0 || cur.q <= 0 {
			continue
		}
		if !found || cur.q > best.q || (cur.q == best.q && cur.spec > best.spec) {
			best, found = cur, true
		}
	}
	return best, found
}

// selectFormat reports whether the client prefers CBOR over JSON. Ties and
// anything unrecognised fall back to JSON. q-value ranks first, specificity
// breaks ties.
func selectFormat(accept string) bool {
	if strings.TrimSpace(accept) == "" {
		return false
	}
	ranges := parseAccept(accept)
	cborPref, ok := bestPreference(ranges, cborTypes)
	if !ok {
		return false
	}
	jsonPref, ok := bestPreference(ranges, jsonTypes)
	if !ok {
		return true
	}
	if cborPref.q != jsonPref.q {
		return cborPref.q > jsonPref.q
	}
	return cborPref.spec > jsonPref.spec
}
