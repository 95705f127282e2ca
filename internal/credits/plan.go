package credits

import "fmt"

// Plan is a subscription tier. The tier determines how many credits the
// daily refresh restores.
type Plan string

const (
	PlanFree Plan = "free"
	PlanBase Plan = "base"
	PlanPlus Plan = "plus"
)

// StartingCredits is the balance seeded into a newly provisioned account.
// Free accounts never receive credits beyond this allotment.
const StartingCredits int64 = 5

// MaxDailyCredits returns the balance a daily refresh restores for the plan.
// Free accounts return 0: they are excluded from the daily top-up entirely.
func (p Plan) MaxDailyCredits() int64 {
	switch p {
	case PlanBase:
		return 20
	case PlanPlus:
		return 100
	default:
		return 0
	}
}

// ParsePlan converts a stored or user-supplied tier name into a Plan.
func ParsePlan(s string) (Plan, error) {
	switch Plan(s) {
	case PlanFree, PlanBase, PlanPlus:
		return Plan(s), nil
	}
	return "", fmt.Errorf("unknown plan %q", s)
}
