package deploy

import (
	"errors"
	"fmt"
)

var (
	// ErrPrerequisite means the host cannot take a deployment at all:
	// the engine is missing, a port is taken, or GeoIP enrichment is absent.
	ErrPrerequisite = errors.New("unmet prerequisite")
	// ErrStepFailed matches any *StepError.
	ErrStepFailed = errors.New("deployment step failed")
)

const (
	StepCompile       = "compile"
	StepValidate      = "validate"
	StepBootstrap     = "bootstrap"
	StepHostDocuments = "host_documents"
	StepRelocate      = "relocate"
	StepActivate      = "activate"
	StepWrite         = "write"
	StepReconcile     = "reconcile"
	StepWireProxy     = "wire_proxy"
	StepReload        = "reload"
	StepPostValidate  = "post_validate"
	StepHealth        = "health"
	StepRecord        = "record"

	StepPreflight = "preflight"
	StepCompose   = "compose"
	StepStartup   = "startup"
	StepHub       = "hub"
	StepTeardown  = "teardown"
)

type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

func (e *StepError) Is(target error) bool { return target == ErrStepFailed }

func prerequisite(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrerequisite, fmt.Sprintf(format, args...))
}
