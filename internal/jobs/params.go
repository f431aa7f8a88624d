package jobs

import (
	"encoding/json"
	"fmt"
)

// String decodes parameter i as a string.
func (inv Invocation) String(i int) (string, error) {
	var s string
	if err := inv.decode(i, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Float decodes parameter i as a number.
func (inv Invocation) Float(i int) (float64, error) {
	var f float64
	if err := inv.decode(i, &f); err != nil {
		return 0, err
	}
	return f, nil
}

// Strings decodes every parameter from i onward as strings.
func (inv Invocation) Strings(from int) ([]string, error) {
	out := make([]string, 0, len(inv.Parameters))
	for i := from; i < len(inv.Parameters); i++ {
		s, err := inv.String(i)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (inv Invocation) decode(i int, dest any) error {
	if i < 0 || i >= len(inv.Parameters) {
		return Wrap(ErrInvalidParameters, inv.Command, "decode", fmt.Sprintf("missing parameter %d", i), nil)
	}
	if err := json.Unmarshal(inv.Parameters[i], dest); err != nil {
		return Wrap(ErrInvalidParameters, inv.Command, "decode", fmt.Sprintf("parameter %d", i), err)
	}
	return nil
}
