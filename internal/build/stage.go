package build

import "fmt"

// Stage is the position of a build in its linear lifecycle. A build only
// ever moves forward; there is no retry path between stages.
type Stage string

const (
	StageInit              Stage = "Init"
	StageQuotaChecked      Stage = "QuotaChecked"
	StageProvisioned       Stage = "Provisioned"
	StageCustomized        Stage = "Customized"
	StageSyspreped         Stage = "Syspreped"
	StageShutdownConfirmed Stage = "ShutdownConfirmed"
	StageCaptured          Stage = "Captured"
	StageCleanedUp         Stage = "CleanedUp"
	StageDone              Stage = "Done"
	StageFailed            Stage = "Failed"
)

// stageOrder is the only legal forward path.
var stageOrder = []Stage{
	StageInit,
	StageQuotaChecked,
	StageProvisioned,
	StageCustomized,
	StageSyspreped,
	StageShutdownConfirmed,
	StageCaptured,
	StageCleanedUp,
	StageDone,
}

// Next returns the stage that follows s on the forward path.
func (s Stage) Next() (Stage, error) {
	for i, stage := range stageOrder {
		if stage == s {
			if i == len(stageOrder)-1 {
				return "", fmt.Errorf("no stage follows %s", s)
			}
			return stageOrder[i+1], nil
		}
	}
	return "", fmt.Errorf("unknown stage %s", s)
}

// Transition advances a job to the given stage.
// Only the immediate successor is legal; anything else is a bug.
func Transition(job *Job, to Stage) error {
	next, err := job.Stage.Next()
	if err != nil {
		return fmt.Errorf("cannot leave stage %s: %w", job.Stage, err)
	}
	if to != next {
		return fmt.Errorf("cannot transition from %s to %s (next is %s)", job.Stage, to, next)
	}
	job.Stage = to
	return nil
}

// Fail marks a job failed. This is legal from any stage.
func Fail(job *Job) {
	job.Stage = StageFailed
}

// IsTerminal returns true if the stage ends the build.
func IsTerminal(s Stage) bool {
	return s == StageDone || s == StageFailed
}
