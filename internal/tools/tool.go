// Package tools implements the concierge's side-effect tools: the ROI
// calculator, list calculator, meeting booking, and URL analysis. Every
// handler implements gateway.Handler and is invoked exclusively through
// the tool gateway.
//
// Handlers consult the demo budget manager themselves before expensive
// work and record their true token cost afterwards; the gateway cannot
// know either. Input validation uses struct tags
// (go-playground/validator); validation failures surface as
// gateway.ErrInvalidInput and map to HTTP 400.
package tools

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/conciergehq/concierge/internal/gateway"
)

// validate is shared by all handlers; the validator is safe for
// concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// decodeInput unmarshals and validates a tool input. All failures are
// validation-shaped: the caller sent something malformed.
func decodeInput[T any](raw json.RawMessage, dst *T) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty request body", gateway.ErrInvalidInput)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: %s", gateway.ErrInvalidInput, err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", gateway.ErrInvalidInput, err)
	}
	return nil
}

// round2 rounds to two decimal places for money-ish outputs.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
