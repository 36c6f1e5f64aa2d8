// Package plan holds the subscription tier catalogue. Billing itself lives
// elsewhere; this package only maps a tier name to its throughput numbers.
package plan

const (
	Starter      = "starter"
	Professional = "professional"
	Team         = "team"
)

// Unlimited marks a tier without a monthly task allowance.
const Unlimited = -1

// Plan describes what a tier is entitled to.
type Plan struct {
	Name          string  `json:"name"`
	BurstCapacity int     `json:"burstCapacity"`
	RefillPerSec  float64 `json:"refillPerSecond"`
	TasksPerMonth int     `json:"tasksPerMonth"`
}

var catalogue = map[string]Plan{
	Starter:      {Name: Starter, BurstCapacity: 2, RefillPerSec: 0.03, TasksPerMonth: 20},
	Professional: {Name: Professional, BurstCapacity: 5, RefillPerSec: 0.1, TasksPerMonth: 100},
	Team:         {Name: Team, BurstCapacity: 20, RefillPerSec: 0.5, TasksPerMonth: Unlimited},
}

// Lookup returns the plan for name, falling back to Starter for unknown tiers.
func Lookup(name string) Plan {
	if p, ok := catalogue[name]; ok {
		return p
	}
	return catalogue[Starter]
}

// Valid reports whether name is a known tier.
func Valid(name string) bool {
	_, ok := catalogue[name]
	return ok
}

// All returns every plan ordered from smallest to largest.
func All() []Plan {
	return []Plan{catalogue[Starter], catalogue[Professional], catalogue[Team]}
}
