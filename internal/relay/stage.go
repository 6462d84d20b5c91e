package relay

import "time"

// Stage is a step of the per-request state machine. Failed is terminal: an
// upstream error event moves a turn to Failed while relaying, and the
// explanation text is still normalized and emitted without further stages
// being recorded.
type Stage string

const (
	StageIdle        Stage = "idle"
	StageValidating  Stage = "validating"
	StageRelaying    Stage = "relaying"
	StageParsing     Stage = "parsing"
	StageNormalizing Stage = "normalizing"
	StageChunking    Stage = "chunking"
	StageEmitting    Stage = "emitting"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Outcome labels how a turn ended.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeUpstreamError Outcome = "upstream_error"
	OutcomeInvalid       Outcome = "invalid"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeAborted       Outcome = "aborted"
)

type tracker struct {
	start   time.Time
	current Stage
	trace   []Stage
}

func newTracker() *tracker {
	return &tracker{start: time.Now(), current: StageIdle}
}

func (t *tracker) enter(s Stage) {
	if t.current == s || t.current == StageFailed {
		return
	}
	t.current = s
	t.trace = append(t.trace, s)
}

func (t *tracker) elapsed() time.Duration {
	return time.Since(t.start)
}
