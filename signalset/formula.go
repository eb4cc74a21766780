package signalset

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Scaling is the mul/div/add triple a formula reduces to.
type Scaling struct {
	Multiplier float64
	Divisor    float64
	Offset     float64
}

// ParseFormula folds a left-to-right arithmetic formula such as "/100",
// "*0.5-40" or "x*100/255-40" into mul/div/add. Constants may carry a sign,
// as in "*-1". An empty formula is the
// identity. Operations apply in order to the running value, so "+40/2"
// halves the offset too.
func ParseFormula(formula string) (Scaling, error) {
	s := Scaling{Multiplier: 1, Divisor: 1}
	rest := strings.Join(strings.Fields(formula), "")

	// optional leading variable name
	i := 0
	for i < len(rest) && (isLetter(rest[i]) || (i > 0 && isDigit(rest[i]))) {
		i++
	}
	rest = rest[i:]

	for rest != "" {
		op := rest[0]
		if !strings.ContainsRune("*/+-", rune(op)) {
			return Scaling{}, errors.Errorf("formula %q: expected operator at %q", formula, rest)
		}
		j := 1
		if j < len(rest) && (rest[j] == '-' || rest[j] == '+') {
			j++
		}
		for j < len(rest) && (isDigit(rest[j]) || rest[j] == '.' || rest[j] == 'e' || rest[j] == 'E' ||
			((rest[j] == '-' || rest[j] == '+') && (rest[j-1] == 'e' || rest[j-1] == 'E'))) {
			j++
		}
		k, err := strconv.ParseFloat(rest[1:j], 64)
		if err != nil {
			return Scaling{}, errors.Errorf("formula %q: bad number %q", formula, rest[1:j])
		}
		switch op {
		case '*':
			s.Multiplier *= k
			s.Offset *= k
		case '/':
			if k == 0 {
				return Scaling{}, errors.Errorf("formula %q: division by zero", formula)
			}
			s.Divisor *= k
			s.Offset /= k
		case '+':
			s.Offset += k
		case '-':
			s.Offset -= k
		}
		rest = rest[j:]
	}
	return s, nil
}

func isLetter(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
