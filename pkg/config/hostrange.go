package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/ridgeline/pkg/ridgeerr"
)

// ExpandHostRange expands a SLURM-style hostlist expression such as
// "node[01-03,05]" into ["node01","node02","node03","node05"]. A bare name
// with no brackets expands to itself. Multiple comma-separated top-level
// expressions are all expanded and concatenated.
func ExpandHostRange(expr string) ([]string, error) {
	var out []string
	for _, part := range splitTopLevel(expr) {
		expanded, err := expandOne(part)
		if err != nil {
			return nil, err
		}
		out = append(out, expanded...)
	}
	return out, nil
}

// splitTopLevel splits on commas that are not inside a [...] bracket.
func splitTopLevel(expr string) []string {
	var parts []string
	depth := 0
	start := 0
	for i, c := range expr {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, expr[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, expr[start:])
	return parts
}

func expandOne(name string) ([]string, error) {
	lb := strings.IndexByte(name, '[')
	if lb < 0 {
		return []string{name}, nil
	}
	rb := strings.LastIndexByte(name, ']')
	if rb < 0 || rb < lb {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("unbalanced host range %q", name))
	}
	prefix := name[:lb]
	suffix := name[rb+1:]
	body := name[lb+1 : rb]

	var out []string
	for _, rangeExpr := range strings.Split(body, ",") {
		vals, err := expandRangeExpr(rangeExpr)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			out = append(out, prefix+v+suffix)
		}
	}
	return out, nil
}

// expandRangeExpr expands "01-05" (zero-padded, inclusive) or a bare
// number/token into the literal strings in that range.
func expandRangeExpr(s string) ([]string, error) {
	dash := strings.IndexByte(s, '-')
	if dash < 0 {
		return []string{s}, nil
	}
	loStr, hiStr := s[:dash], s[dash+1:]
	lo, errLo := strconv.Atoi(loStr)
	hi, errHi := strconv.Atoi(hiStr)
	if errLo != nil || errHi != nil {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("invalid numeric range %q", s))
	}
	if hi < lo {
		return nil, ridgeerr.New(ridgeerr.CodeUserInput, fmt.Sprintf("descending range %q", s))
	}
	width := len(loStr)
	var out []string
	for n := lo; n <= hi; n++ {
		out = append(out, fmt.Sprintf("%0*d", width, n))
	}
	return out, nil
}

// expandLine implements EXPLINE semantics: a line containing a bracketed
// host-range expression in its first field is replicated once per expanded
// host, with that field substituted by the single host name, and every
// other host-range-looking field on the line must expand to the SAME
// cardinality or the line is rejected. Lines with no host range expand to
// themselves unchanged.
func expandLine(line string) ([]string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return []string{line}, nil
	}

	type col struct {
		idx  int
		vals []string
	}
	var cols []col
	card := -1
	for i, f := range fields {
		key, val, _, ok := splitPair(f)
		target := f
		hasKV := ok
		if hasKV {
			target = val
			_ = key
		}
		if !strings.Contains(target, "[") {
			continue
		}
		vals, err := ExpandHostRange(target)
		if err != nil {
			return nil, err
		}
		if len(vals) <= 1 {
			continue
		}
		if card == -1 {
			card = len(vals)
		} else if card != len(vals) {
			return nil, ridgeerr.New(ridgeerr.CodeUserInput,
				fmt.Sprintf("host range cardinality mismatch in line %q: %d vs %d", line, card, len(vals)))
		}
		cols = append(cols, col{idx: i, vals: vals})
	}

	if card <= 0 {
		return []string{line}, nil
	}

	out := make([]string, card)
	for n := 0; n < card; n++ {
		cp := make([]string, len(fields))
		copy(cp, fields)
		for _, c := range cols {
			key, _, op, ok := splitPair(fields[c.idx])
			if ok {
				cp[c.idx] = key + opToken(op) + c.vals[n]
			} else {
				cp[c.idx] = c.vals[n]
			}
		}
		out[n] = strings.Join(cp, " ")
	}
	return out, nil
}

func opToken(op Op) string {
	for _, ot := range opTokens {
		if ot.op == op {
			return ot.tok
		}
	}
	return "="
}
