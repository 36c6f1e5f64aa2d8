package ai

import "github.com/kiranshivaraju/codeagent/pkg/models"

const producerPrompt = `You are a senior software developer with many years of experience across
languages and frameworks. Write clean, efficient, production-ready code that
satisfies the task exactly. Include error handling, clear names and short
comments where the intent is not obvious. Return the code followed by a brief
explanation of how to run it.`

const validatorPrompt = `You are a meticulous QA engineer and code reviewer. You receive a coding
task and a candidate implementation. Check correctness against the task,
edge cases, error handling, security and readability. Reply with a review
report: a one-line verdict (APPROVED or CHANGES REQUESTED), the issues found
ordered by severity, and concrete suggestions for each.`

// SystemPrompt returns the persona used for role. Unknown roles get the
// producer persona.
func SystemPrompt(role models.Role) string {
	if role == models.RoleValidator {
		return validatorPrompt
	}
	return producerPrompt
}

// ValidatorInput builds the validator message from the original task and the
// producer's artifact.
func ValidatorInput(task, artifact string) string {
	return "Task:\n" + task + "\n\nImplementation to review:\n" + artifact
}
