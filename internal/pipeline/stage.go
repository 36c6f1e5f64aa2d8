// Package pipeline runs a claimed job through its stages and records every
// transition in the store.
package pipeline

import (
	"context"

	"github.com/kiranshivaraju/codeagent/internal/ai"
	"github.com/kiranshivaraju/codeagent/pkg/models"
)

// Stage names as recorded in a failed job's error.
const (
	StageProducer  = "producer"
	StageValidator = "validator"
)

// Input is what a stage sees: the task text plus the outputs of earlier stages.
type Input struct {
	Task  string
	Prior models.JobResult
}

// Stage is one sequential phase of the pipeline.
type Stage interface {
	Name() string
	// Status is the job status while this stage runs.
	Status() string
	Run(ctx context.Context, in Input) (string, error)
	// Record stores the stage output in the job result.
	Record(res *models.JobResult, output string)
}

type producer struct{ c models.Completer }

// NewProducer returns the stage that turns the task into an artifact.
func NewProducer(c models.Completer) Stage { return producer{c: c} }

func (producer) Name() string   { return StageProducer }
func (producer) Status() string { return models.JobStatusRunningProducer }

func (p producer) Run(ctx context.Context, in Input) (string, error) {
	return p.c.Complete(ctx, models.RoleProducer, in.Task)
}

func (producer) Record(res *models.JobResult, output string) { res.Artifact = output }

type validator struct{ c models.Completer }

// NewValidator returns the stage that reviews the producer's artifact.
func NewValidator(c models.Completer) Stage { return validator{c: c} }

func (validator) Name() string   { return StageValidator }
func (validator) Status() string { return models.JobStatusRunningValidator }

func (v validator) Run(ctx context.Context, in Input) (string, error) {
	return v.c.Complete(ctx, models.RoleValidator, ai.ValidatorInput(in.Task, in.Prior.Artifact))
}

func (validator) Record(res *models.JobResult, output string) { res.Report = output }

// DefaultStages is producer then validator, both backed by c.
func DefaultStages(c models.Completer) []Stage {
	return []Stage{NewProducer(c), NewValidator(c)}
}
