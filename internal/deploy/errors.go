package deploy

import "fmt"

// DeploymentFailure reports that a unit could not be resolved or deployed.
// It aborts the run.
type DeploymentFailure struct {
	Unit string
	Err  error
}

// Error implements the error interface.
func (e *DeploymentFailure) Error() string {
	return fmt.Sprintf("deploy %s: %v", e.Unit, e.Err)
}

// Unwrap returns the underlying error.
func (e *DeploymentFailure) Unwrap() error {
	return e.Err
}

// LinkFailure reports that Dependency could not be linked into Dependent.
// It aborts the run.
type LinkFailure struct {
	Dependent  string
	Dependency string
	Err        error
}

// Error implements the error interface.
func (e *LinkFailure) Error() string {
	return fmt.Sprintf("link %s into %s: %v", e.Dependency, e.Dependent, e.Err)
}

// Unwrap returns the underlying error.
func (e *LinkFailure) Unwrap() error {
	return e.Err
}
