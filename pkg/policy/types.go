package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is logged but does not block the call.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the call.
	SeverityError Severity = "error"

	// SeverityCritical blocks the call.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the call.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set is evaluated against every
// capability call.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Metadata contains additional policy metadata, such as its source file.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Input is the document policies see as input.
type Input struct {
	// Workspace is the workspace the script runs in.
	Workspace string `json:"workspace"`

	// Object and Member identify the call, e.g. "process" and "runCommand".
	Object string `json:"object"`
	Member string `json:"member"`

	// Op is "object.member".
	Op string `json:"op"`

	// Args are the call arguments as plain JSON values.
	Args []interface{} `json:"args"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Op is the capability call that was evaluated.
	Op string `json:"op"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating all enabled policies for one call.
type Decision struct {
	// Allowed is false when any violation blocks.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}
