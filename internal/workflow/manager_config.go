package workflow

import "capstan/internal/queue"

// ConfigureStages registers the concrete stage handlers the workflow will run.
// Intake keeps trigger turnaround fast; delivery carries the long external
// waits on the runner, attestor, index, and forge.
func (m *Manager) ConfigureStages(set StageSet) {
	intake := &laneState{kind: queue.LaneIntake, name: string(queue.LaneIntake)}
	delivery := &laneState{kind: queue.LaneDelivery, name: string(queue.LaneDelivery)}

	if set.Resolver != nil {
		intake.stages = append(intake.stages, pipelineStage{
			name:             "resolve",
			handler:          set.Resolver,
			startStatus:      queue.StatusPending,
			processingStatus: queue.StatusResolving,
			doneStatus:       queue.StatusResolved,
		})
	}
	if set.Builder != nil {
		delivery.stages = append(delivery.stages, pipelineStage{
			name:             "builder",
			handler:          set.Builder,
			startStatus:      queue.StatusResolved,
			processingStatus: queue.StatusBuilding,
			doneStatus:       queue.StatusBuilt,
		})
	}
	if set.Attester != nil {
		delivery.stages = append(delivery.stages, pipelineStage{
			name:             "attest",
			handler:          set.Attester,
			startStatus:      queue.StatusBuilt,
			processingStatus: queue.StatusAttesting,
			doneStatus:       queue.StatusAttested,
		})
	}
	if set.Publisher != nil {
		delivery.stages = append(delivery.stages, pipelineStage{
			name:             "publish",
			handler:          set.Publisher,
			startStatus:      queue.StatusAttested,
			processingStatus: queue.StatusPublishing,
			doneStatus:       queue.StatusPublished,
		})
	}

	lanes := make(map[queue.ProcessingLane]*laneState)
	order := make([]queue.ProcessingLane, 0, 2)

	if len(intake.stages) > 0 {
		intake.finalize()
		lanes[intake.kind] = intake
		order = append(order, intake.kind)
	}
	if len(delivery.stages) > 0 {
		delivery.finalize()
		lanes[delivery.kind] = delivery
		order = append(order, delivery.kind)
	}

	m.mu.Lock()
	m.lanes = lanes
	m.laneOrder = order
	m.mu.Unlock()
}
