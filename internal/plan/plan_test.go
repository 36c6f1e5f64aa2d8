package plan_test

import (
	"testing"

	"github.com/kiranshivaraju/codeagent/internal/plan"
	"github.com/stretchr/testify/assert"
)

func TestLookup_KnownTiers(t *testing.T) {
	assert.Equal(t, 2, plan.Lookup(plan.Starter).BurstCapacity)
	assert.Equal(t, 100, plan.Lookup(plan.Professional).TasksPerMonth)
	assert.Equal(t, plan.Unlimited, plan.Lookup(plan.Team).TasksPerMonth)
}

func TestLookup_UnknownFallsBackToStarter(t *testing.T) {
	assert.Equal(t, plan.Starter, plan.Lookup("enterprise").Name)
	assert.False(t, plan.Valid("enterprise"))
	assert.True(t, plan.Valid(plan.Team))
}

func TestAll_Ordered(t *testing.T) {
	all := plan.All()
	assert.Len(t, all, 3)
	assert.Equal(t, plan.Starter, all[0].Name)
	assert.Equal(t, plan.Team, all[2].Name)
}
