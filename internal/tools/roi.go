package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/conciergehq/concierge/internal/budget"
)

// roiTokenCost is the flat budget charge for one ROI computation. The
// arithmetic is local, so the cost models the response text the
// assistant will produce around it.
const roiTokenCost = 40

// ROIInput is the client-facing shape of the ROI calculator.
type ROIInput struct {
	InitialInvestment float64 `json:"initialInvestment" validate:"required,gt=0"`
	MonthlyRevenue    float64 `json:"monthlyRevenue"    validate:"gte=0"`
	MonthlyExpenses   float64 `json:"monthlyExpenses"   validate:"gte=0"`
	TimePeriod        int     `json:"timePeriod"        validate:"required,gt=0,lte=120"`
}

// ROIOutput reports the projection over the requested period. All money
// figures are rounded to cents.
type ROIOutput struct {
	MonthlyProfit  float64 `json:"monthlyProfit"`
	TotalProfit    float64 `json:"totalProfit"`
	ROI            float64 `json:"roi"`
	PaybackPeriod  float64 `json:"paybackPeriod"`
	BreakEvenMonth int     `json:"breakEvenMonth"`
	AnnualizedROI  float64 `json:"annualizedROI"`
}

// ROI projects return on investment from a monthly revenue/expense pair.
type ROI struct {
	budget *budget.Manager
}

// NewROI builds the ROI calculator tool.
func NewROI(b *budget.Manager) *ROI {
	return &ROI{budget: b}
}

func (t *ROI) Name() string    { return "roi" }
func (t *ROI) Feature() string { return "roi" }

func (t *ROI) Run(ctx context.Context, sessionID string, raw json.RawMessage) (any, error) {
	var in ROIInput
	if err := decodeInput(raw, &in); err != nil {
		return nil, err
	}
	if err := t.budget.CheckAccess(sessionID, t.Feature()); err != nil {
		return nil, fmt.Errorf("roi: %w", err)
	}

	monthlyProfit := in.MonthlyRevenue - in.MonthlyExpenses
	totalProfit := monthlyProfit * float64(in.TimePeriod)
	roi := (totalProfit - in.InitialInvestment) / in.InitialInvestment * 100

	out := ROIOutput{
		MonthlyProfit: round2(monthlyProfit),
		TotalProfit:   round2(totalProfit),
		ROI:           round2(roi),
		AnnualizedROI: round2(roi / float64(in.TimePeriod) * 12),
	}
	if monthlyProfit > 0 {
		payback := in.InitialInvestment / monthlyProfit
		out.PaybackPeriod = round2(payback)
		out.BreakEvenMonth = int(math.Ceil(payback))
	}

	t.budget.RecordUsage(sessionID, t.Feature(), roiTokenCost)
	return out, nil
}
