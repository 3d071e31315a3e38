package workflow

import (
	"log/slog"
	"slices"
	"strings"

	"capstan/internal/queue"
	"capstan/internal/stage"
)

// StageSet bundles the concrete workflow handlers the manager orchestrates.
type StageSet struct {
	Resolver  stage.Handler
	Builder   stage.Handler
	Attester  stage.Handler
	Publisher stage.Handler
}

// pipelineStage binds one handler to the statuses that drive it. Items
// are claimed at startStatus and held at processingStatus while the
// handler runs; doneStatus hands them to the next stage.
type pipelineStage struct {
	name    string
	handler stage.Handler

	startStatus      queue.Status
	processingStatus queue.Status
	doneStatus       queue.Status
}

type laneState struct {
	kind               queue.ProcessingLane
	name               string
	stages             []pipelineStage
	statusOrder        []queue.Status
	stageByStart       map[queue.Status]pipelineStage
	processingStatuses []queue.Status
	logger             *slog.Logger
	runReclaimer       bool
}

// finalize derives the lookup structures from the stage list. Safe to
// call again after reconfiguring stages.
func (l *laneState) finalize() {
	if l == nil {
		return
	}
	l.stageByStart = make(map[queue.Status]pipelineStage, len(l.stages))
	l.statusOrder = make([]queue.Status, 0, len(l.stages))
	l.processingStatuses = nil
	for _, stg := range l.stages {
		l.stageByStart[stg.startStatus] = stg
		l.statusOrder = append(l.statusOrder, stg.startStatus)
		if stg.processingStatus == "" {
			continue
		}
		if !slices.Contains(l.processingStatuses, stg.processingStatus) {
			l.processingStatuses = append(l.processingStatuses, stg.processingStatus)
		}
	}
	l.runReclaimer = len(l.processingStatuses) > 0
}

// stageForStatus looks up the stage whose claim status matches.
func (l *laneState) stageForStatus(status queue.Status) (pipelineStage, bool) {
	if l == nil {
		return pipelineStage{}, false
	}
	stg, ok := l.stageByStart[status]
	return stg, ok
}

// label is the lane's display name, falling back to its kind.
func (l *laneState) label() string {
	if name := strings.TrimSpace(l.name); name != "" {
		return name
	}
	return string(l.kind)
}
