package version

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/xekr/packsmith/internal/domain"
)

// Range is a span of registry positions. Unbounded ends are open.
type Range struct {
	expr   string
	lo, hi int
	hasLo  bool
	hasHi  bool
	loIncl bool
	hiIncl bool
	reg    *Registry
}

// ParseRange parses a version range expression against the registry.
// Accepted forms: "*", "[a,b]", "(a,b)", "[a,)", "(,b]", ">=a", ">a", "<=a", "<a", "a".
func (r *Registry) ParseRange(expr string) (*Range, error) {
	s := strings.TrimSpace(expr)
	rg := &Range{expr: s, reg: r}

	switch {
	case s == "" || s == "*":
		return rg, nil

	case (strings.HasPrefix(s, "[") || strings.HasPrefix(s, "(")) &&
		(strings.HasSuffix(s, "]") || strings.HasSuffix(s, ")")) && len(s) >= 2:
		rg.loIncl = s[0] == '['
		rg.hiIncl = s[len(s)-1] == ']'
		lo, hi, found := strings.Cut(s[1:len(s)-1], ",")
		if !found {
			hi = lo
		}
		if err := rg.setLower(strings.TrimSpace(lo), rg.loIncl); err != nil {
			return nil, err
		}
		if err := rg.setUpper(strings.TrimSpace(hi), rg.hiIncl); err != nil {
			return nil, err
		}

	case strings.HasPrefix(s, ">="):
		if err := rg.setLower(strings.TrimSpace(s[2:]), true); err != nil {
			return nil, err
		}
	case strings.HasPrefix(s, ">"):
		if err := rg.setLower(strings.TrimSpace(s[1:]), false); err != nil {
			return nil, err
		}
	case strings.HasPrefix(s, "<="):
		if err := rg.setUpper(strings.TrimSpace(s[2:]), true); err != nil {
			return nil, err
		}
	case strings.HasPrefix(s, "<"):
		if err := rg.setUpper(strings.TrimSpace(s[1:]), false); err != nil {
			return nil, err
		}

	default:
		if err := rg.setLower(s, true); err != nil {
			return nil, err
		}
		if err := rg.setUpper(s, true); err != nil {
			return nil, err
		}
	}

	if rg.hasLo && rg.hasHi && rg.lo > rg.hi {
		return nil, domain.NewAppError(domain.ErrValidationFailed, fmt.Sprintf("version range %q is inverted", s), http.StatusUnprocessableEntity, nil)
	}
	return rg, nil
}

func (rg *Range) setLower(id string, inclusive bool) error {
	if id == "" {
		return nil
	}
	i, err := rg.reg.Position(id)
	if err != nil {
		return err
	}
	rg.lo, rg.hasLo, rg.loIncl = i, true, inclusive
	return nil
}

func (rg *Range) setUpper(id string, inclusive bool) error {
	if id == "" {
		return nil
	}
	i, err := rg.reg.Position(id)
	if err != nil {
		return err
	}
	rg.hi, rg.hasHi, rg.hiIncl = i, true, inclusive
	return nil
}

// Contains reports whether id falls inside the range
func (rg *Range) Contains(id string) (bool, error) {
	i, err := rg.reg.Position(id)
	if err != nil {
		return false, err
	}
	if rg.hasLo && (i < rg.lo || (i == rg.lo && !rg.loIncl)) {
		return false, nil
	}
	if rg.hasHi && (i > rg.hi || (i == rg.hi && !rg.hiIncl)) {
		return false, nil
	}
	return true, nil
}

// Entries lists every registry entry inside the range
func (rg *Range) Entries() []Entry {
	var out []Entry
	for _, e := range rg.reg.entries {
		if ok, _ := rg.Contains(e.ID); ok {
			out = append(out, e)
		}
	}
	return out
}

func (rg *Range) String() string {
	if rg.expr == "" {
		return "*"
	}
	return rg.expr
}
