package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/conciergehq/concierge/internal/budget"
)

const calcTokenCost = 20

// CalcInput aggregates a list of numbers with one operation.
type CalcInput struct {
	Values []float64 `json:"values" validate:"required,min=1"`
	Op     string    `json:"op"     validate:"required,oneof=sum avg min max count"`
}

// Calc is the list-aggregation tool. It returns a bare number so the
// envelope reads {"ok":true,"output":2}.
type Calc struct {
	budget *budget.Manager
}

// NewCalc builds the calculator tool.
func NewCalc(b *budget.Manager) *Calc {
	return &Calc{budget: b}
}

func (t *Calc) Name() string    { return "calc" }
func (t *Calc) Feature() string { return "calc" }

func (t *Calc) Run(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
	var in CalcInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if err := t.budget.CheckAccess(sessionID, t.Feature()); err != nil {
		return nil, fmt.Errorf("calc: %w", err)
	}

	var result float64
	switch in.Op {
	case "sum":
		for _, v := range in.Values {
			result += v
		}
	case "avg":
		for _, v := range in.Values {
			result += v
		}
		result /= float64(len(in.Values))
	case "min":
		result = in.Values[0]
		for _, v := range in.Values[1:] {
			if v < result {
				result = v
			}
		}
	case "max":
		result = in.Values[0]
		for _, v := range in.Values[1:] {
			if v > result {
				result = v
			}
		}
	case "count":
		result = float64(len(in.Values))
	}

	t.budget.RecordUsage(sessionID, t.Feature(), calcTokenCost)
	return result, nil
}
