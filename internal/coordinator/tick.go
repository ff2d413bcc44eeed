package coordinator

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hivemind-dev/hivemind/internal/executor"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// Tick runs one scheduling pass. Passes run in a fixed order so a tick is
// deterministic for a given state: ingest completions, activate planned
// objectives, cancel overdue tasks, detect stalls, enforce cancel grace,
// promote unblocked tasks, assign and launch, steal from overloaded
// agents, sweep consensus, reconcile objectives. A tick over unchanged
// state makes no transitions.
func (c *Coordinator) Tick(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.applyPendingTopologies(now)
	c.drainCompletions(now)
	c.activatePass(now)
	c.deadlinePass(now)
	c.stallPass(now)
	c.gracePass(now)
	c.promotePass(now)
	c.launchQueuedPass(now)
	c.assignPass(now)
	c.stealPass(now)
	c.consensusPass(now)
	c.reconcilePass(now)
}

// ingest applies a single completion received by the run loop.
func (c *Coordinator) ingest(comp executor.Completion) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishCompletion(comp, c.now())
}

// drainCompletions consumes every completion already delivered by the pool.
// Caller holds mu.
func (c *Coordinator) drainCompletions(now time.Time) {
	for {
		select {
		case comp := <-c.pool.Completions():
			c.finishCompletion(comp, now)
		default:
			return
		}
	}
}

// finishCompletion folds one executor completion into scheduler state.
// Stale completions, from executions that were cancelled after a
// reassignment or a stall, are dropped; a stale completion from an agent
// held for a cancel acknowledgement releases the agent back to the pool.
// Caller holds mu.
func (c *Coordinator) finishCompletion(comp executor.Completion, now time.Time) {
	task, ok := c.tasks[comp.TaskID]
	if !ok || task.Status != models.TaskStatusRunning || task.AssignedTo != comp.AgentID {
		if agent, held := c.agents[comp.AgentID]; held && agent.CurrentTaskID == comp.TaskID {
			delete(c.canceling, agent.ID)
			agent.CurrentTaskID = ""
			agent.LastHeartbeat = now
			c.index.disengage(agent.ID)
			if agent.Status == models.AgentStatusBusy {
				agent.Status = models.AgentStatusIdle
			}
			c.logger.Log("[tick] agent %s acknowledged cancel of task %s", comp.AgentID, comp.TaskID)
			return
		}
		c.logger.Log("[tick] dropping stale completion for task %s from agent %s", comp.TaskID, comp.AgentID)
		return
	}

	agent := c.agents[comp.AgentID]
	var duration time.Duration
	if task.StartedAt != nil {
		duration = now.Sub(*task.StartedAt)
	}

	if agent != nil && agent.CurrentTaskID == task.ID {
		agent.CurrentTaskID = ""
		agent.Status = models.AgentStatusIdle
		agent.LastHeartbeat = now
		c.index.disengage(agent.ID)
	}

	if comp.Err != nil || !comp.Result.Success {
		reason := comp.Result.Error
		if comp.Err != nil {
			reason = comp.Err.Error()
		}
		task.Result = &models.TaskResult{Success: false, Output: comp.Result.Output, Error: reason}
		if agent != nil {
			agent.Performance.RecordFailure()
			c.strat.RecordPerformance(agent.ID, agent.Performance)
			c.persistAgent(agent)
		}
		c.logger.Log("[tick] task %s failed on agent %s: %s", task.ID, comp.AgentID, reason)
		c.requeueTask(task, now, true)
		return
	}

	task.Status = models.TaskStatusCompleted
	completed := now
	task.CompletedAt = &completed
	task.Result = &models.TaskResult{Success: true, Output: comp.Result.Output}
	task.AssignedTo = ""
	if g := c.graphs[task.ObjectiveID]; g != nil {
		g.MarkComplete(task.ID)
	}
	if agent != nil {
		agent.Performance.RecordSuccess(duration)
		c.strat.RecordPerformance(agent.ID, agent.Performance)
		c.persistAgent(agent)
	}
	c.persistTask(task)

	c.logger.Log("[tick] task %s completed by agent %s in %s", task.ID, comp.AgentID, duration)
	c.emitter.emit(Event{
		Type:        EventTaskCompleted,
		ObjectiveID: task.ObjectiveID,
		TaskID:      task.ID,
		AgentID:     comp.AgentID,
		Timestamp:   now,
	})
}

// applyPendingTopologies installs staged topology changes. Open proposals
// for a changed objective are withdrawn since their voter reachability
// assumptions no longer hold. Caller holds mu.
func (c *Coordinator) applyPendingTopologies(now time.Time) {
	if len(c.pendingTopologies) == 0 {
		return
	}
	ids := make([]string, 0, len(c.pendingTopologies))
	for id := range c.pendingTopologies {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, objectiveID := range ids {
		t := c.pendingTopologies[objectiveID]
		delete(c.pendingTopologies, objectiveID)

		obj, ok := c.objectives[objectiveID]
		if !ok {
			continue
		}
		c.topologies[objectiveID] = t
		c.index.setTopology(objectiveID, t)
		obj.Topology = string(t.Kind)
		c.persistObjective(obj)
		c.persistTopology(objectiveID, t)

		cancelled := c.eng.CancelForObjective(objectiveID)
		c.logger.Log("[tick] topology for objective %s changed to %s, %d proposals cancelled",
			objectiveID, t.Kind, len(cancelled))
		c.emitter.emit(Event{
			Type:        EventTopologyChanged,
			ObjectiveID: objectiveID,
			Message:     string(t.Kind),
			Timestamp:   now,
		})
	}
}

// activatePass moves submitted objectives from planning to executing, which
// opens their tasks to promotion and assignment. Caller holds mu.
func (c *Coordinator) activatePass(now time.Time) {
	for _, obj := range c.sortedObjectives() {
		if obj.Status != models.ObjectiveStatusPlanning {
			continue
		}
		obj.Status = models.ObjectiveStatusExecuting
		c.persistObjective(obj)
		c.logger.Log("[tick] objective %s activated", obj.ID)
	}
}

// deadlinePass cancels tasks that blew their deadline. The owning
// objective fails: a missed deadline is not retryable. A running
// execution is interrupted cooperatively and its agent held until the
// cancel is acknowledged. Caller holds mu.
func (c *Coordinator) deadlinePass(now time.Time) {
	for _, task := range c.sortedTasks() {
		if task.Status.Terminal() || !task.Overdue(now) {
			continue
		}
		if task.Status == models.TaskStatusRunning {
			c.beginCancel(task, now)
		} else if task.AssignedTo != "" {
			c.releaseAgent(task.AssignedTo, task.ID)
		}
		task.AssignedTo = ""
		task.Status = models.TaskStatusCancelled
		completed := now
		task.CompletedAt = &completed
		c.persistTask(task)

		c.logger.Log("[tick] task %s cancelled: deadline exceeded", task.ID)
		c.failObjective(task, "deadline exceeded", now)
	}
}

// stallPass declares agents stalled when their heartbeat is older than the
// stall window and requeues their tasks. The window adapts to the agent's
// mean task duration with a configured floor. Caller holds mu.
func (c *Coordinator) stallPass(now time.Time) {
	for _, agent := range c.sortedAgents() {
		if agent.Status != models.AgentStatusBusy {
			continue
		}
		// Agents awaiting a cancel acknowledgement answer to gracePass.
		if _, held := c.canceling[agent.ID]; held {
			continue
		}
		if now.Sub(agent.LastHeartbeat) <= c.stallWindow(agent) {
			continue
		}

		agent.Status = models.AgentStatusStalled
		c.logger.Log("[tick] agent %s stalled (last heartbeat %s ago)", agent.ID, now.Sub(agent.LastHeartbeat))
		c.emitter.emit(Event{Type: EventAgentStalled, AgentID: agent.ID, Timestamp: now})

		if task, ok := c.tasks[agent.CurrentTaskID]; ok && task.Status == models.TaskStatusRunning {
			c.pool.Cancel(task.ID)
			agent.Performance.RecordFailure()
			c.strat.RecordPerformance(agent.ID, agent.Performance)
			c.requeueTask(task, now, true)
		}
		agent.CurrentTaskID = ""
		c.index.disengage(agent.ID)
		c.persistAgent(agent)
	}
}

// gracePass force-retires cancelled executions that never acknowledged the
// cancel within the grace period. The agent is marked stalled and rejoins
// the pool on its next heartbeat. Caller holds mu.
func (c *Coordinator) gracePass(now time.Time) {
	ids := make([]string, 0, len(c.canceling))
	for id := range c.canceling {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, agentID := range ids {
		if now.Before(c.canceling[agentID]) {
			continue
		}
		delete(c.canceling, agentID)

		agent, ok := c.agents[agentID]
		if !ok || agent.Status != models.AgentStatusBusy {
			continue
		}
		agent.Status = models.AgentStatusStalled
		agent.CurrentTaskID = ""
		c.index.disengage(agentID)
		c.persistAgent(agent)

		c.logger.Log("[tick] agent %s never acknowledged cancel, marked stalled", agentID)
		c.emitter.emit(Event{Type: EventAgentStalled, AgentID: agentID, Timestamp: now})
	}
}

// stallWindow returns how long an agent may be silent mid-task before it
// is declared stalled.
func (c *Coordinator) stallWindow(agent *models.Agent) time.Duration {
	expected := agent.Performance.MeanDuration
	if expected <= 0 {
		expected = c.cfg.ExpectedTaskDuration
	}
	window := 2 * expected
	if window < c.cfg.StallFloor {
		window = c.cfg.StallFloor
	}
	return window
}

// promotePass moves pending tasks whose dependencies all completed to
// ready. Caller holds mu.
func (c *Coordinator) promotePass(now time.Time) {
	for _, obj := range c.sortedObjectives() {
		if obj.Status != models.ObjectiveStatusExecuting {
			continue
		}
		g := c.graphs[obj.ID]
		if g == nil {
			continue
		}
		for _, taskID := range g.Ready() {
			task, ok := c.tasks[taskID]
			if !ok || task.Status != models.TaskStatusPending {
				continue
			}
			task.Status = models.TaskStatusReady
			c.persistTask(task)
			c.emitter.emit(Event{
				Type:        EventTaskReady,
				ObjectiveID: obj.ID,
				TaskID:      task.ID,
				Timestamp:   now,
			})
		}
	}
}

// launchQueuedPass starts queued assignments on agents that became idle.
// Caller holds mu.
func (c *Coordinator) launchQueuedPass(now time.Time) {
	for _, agent := range c.sortedAgents() {
		if !agent.Idle() {
			continue
		}
		var next *models.Task
		for _, task := range c.sortedTasks() {
			if task.Status != models.TaskStatusAssigned || task.AssignedTo != agent.ID {
				continue
			}
			if next == nil || task.Priority > next.Priority {
				next = task
			}
		}
		if next != nil {
			c.launchTask(next, agent, now)
		}
	}
}

// assignPass matches ready tasks to agents by affinity score. Idle agents
// get work immediately; when none fit, the task queues on the best busy
// agent up to the configured queue depth. Ties break on score, then
// completed count, then lowest agent ID, so assignment is deterministic.
// Caller holds mu.
func (c *Coordinator) assignPass(now time.Time) {
	ready := make([]*models.Task, 0)
	for _, task := range c.sortedTasks() {
		if task.Status != models.TaskStatusReady {
			continue
		}
		if at, ok := c.retryAt[task.ID]; ok && now.Before(at) {
			continue
		}
		if obj := c.objectives[task.ObjectiveID]; obj == nil || obj.Status != models.ObjectiveStatusExecuting {
			continue
		}
		ready = append(ready, task)
	}
	// Higher priority first, then stable task-ID order.
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].ID < ready[j].ID
	})

	for _, task := range ready {
		if agent := c.bestAgent(task, func(a *models.Agent) bool { return a.Idle() }); agent != nil {
			delete(c.retryAt, task.ID)
			task.Status = models.TaskStatusAssigned
			task.AssignedTo = agent.ID
			c.persistTask(task)
			c.emitter.emit(Event{
				Type:        EventTaskAssigned,
				ObjectiveID: task.ObjectiveID,
				TaskID:      task.ID,
				AgentID:     agent.ID,
				Timestamp:   now,
			})
			c.launchTask(task, agent, now)
			continue
		}

		if c.cfg.QueueDepth > 0 {
			if agent := c.bestAgent(task, func(a *models.Agent) bool {
				return a.Status == models.AgentStatusBusy && c.queueLen(a.ID) < c.cfg.QueueDepth
			}); agent != nil {
				delete(c.retryAt, task.ID)
				task.Status = models.TaskStatusAssigned
				task.AssignedTo = agent.ID
				c.persistTask(task)
				c.logger.Log("[tick] task %s queued on busy agent %s", task.ID, agent.ID)
				c.emitter.emit(Event{
					Type:        EventTaskAssigned,
					ObjectiveID: task.ObjectiveID,
					TaskID:      task.ID,
					AgentID:     agent.ID,
					Timestamp:   now,
				})
			}
		}
		// No capacity anywhere: the task stays ready for the next tick.
	}
}

// bestAgent returns the eligible agent with the highest affinity score for
// the task. Ties break on completed task count, then lowest agent ID.
// Caller holds mu.
func (c *Coordinator) bestAgent(task *models.Task, eligible func(*models.Agent) bool) *models.Agent {
	var best *models.Agent
	var bestScore float64
	for _, agent := range c.sortedAgents() {
		if !eligible(agent) {
			continue
		}
		score := c.strat.Score(agent, task)
		if best == nil || score > bestScore ||
			(score == bestScore && agent.Performance.Completed > best.Performance.Completed) {
			best = agent
			bestScore = score
		}
	}
	return best
}

// launchTask hands a task to the executor pool and marks it running.
// Caller holds mu.
func (c *Coordinator) launchTask(task *models.Task, agent *models.Agent, now time.Time) {
	task.Status = models.TaskStatusRunning
	started := now
	task.StartedAt = &started
	agent.Status = models.AgentStatusBusy
	agent.CurrentTaskID = task.ID
	agent.LastHeartbeat = now
	c.index.engage(agent.ID, task.ObjectiveID)
	c.persistTask(task)
	c.persistAgent(agent)

	c.pool.Start(c.runCtx, agent.ID, executor.Request{
		TaskID:      task.ID,
		Type:        task.Type,
		Description: task.Description,
	})

	c.logger.Log("[tick] task %s started on agent %s", task.ID, agent.ID)
	c.emitter.emit(Event{
		Type:        EventTaskStarted,
		ObjectiveID: task.ObjectiveID,
		TaskID:      task.ID,
		AgentID:     agent.ID,
		Timestamp:   now,
	})
}

// queueLen counts assignments queued on an agent. Caller holds mu.
func (c *Coordinator) queueLen(agentID string) int {
	n := 0
	for _, task := range c.tasks {
		if task.AssignedTo == agentID && task.Status == models.TaskStatusAssigned {
			n++
		}
	}
	return n
}

// stealPass moves queued assignments from agents of overloaded types to
// idle agents of compatible, underloaded types when the per-type
// utilization gap exceeds the steal threshold. Only queued tasks move;
// running work is never interrupted. Caller holds mu.
func (c *Coordinator) stealPass(now time.Time) {
	if c.cfg.StealThreshold <= 0 {
		return
	}
	util := c.typeUtilization()

	for _, task := range c.sortedTasks() {
		if task.Status != models.TaskStatusAssigned {
			continue
		}
		holder, ok := c.agents[task.AssignedTo]
		if !ok {
			continue
		}

		var thief *models.Agent
		var thiefScore float64
		for _, agent := range c.sortedAgents() {
			if !agent.Idle() || !c.compatible(agent, task) {
				continue
			}
			// Same-type steals are always allowed: an idle twin is strictly
			// better than a queue. Cross-type steals need a utilization gap.
			if holder.Type != agent.Type && util[holder.Type]-util[agent.Type] <= c.cfg.StealThreshold {
				continue
			}
			score := c.strat.Score(agent, task)
			if thief == nil || score > thiefScore {
				thief = agent
				thiefScore = score
			}
		}
		if thief == nil {
			continue
		}

		c.logger.Log("[tick] task %s stolen from agent %s by agent %s", task.ID, holder.ID, thief.ID)
		task.AssignedTo = thief.ID
		c.persistTask(task)
		c.emitter.emit(Event{
			Type:        EventTaskStolen,
			ObjectiveID: task.ObjectiveID,
			TaskID:      task.ID,
			AgentID:     thief.ID,
			Message:     "from " + holder.ID,
			Timestamp:   now,
		})
		c.launchTask(task, thief, now)
		util = c.typeUtilization()
	}
}

// typeUtilization computes the busy fraction per agent type. Caller holds mu.
func (c *Coordinator) typeUtilization() map[models.AgentType]float64 {
	busy := make(map[models.AgentType]int)
	total := make(map[models.AgentType]int)
	for _, agent := range c.agents {
		if agent.Status == models.AgentStatusOffline {
			continue
		}
		total[agent.Type]++
		if agent.Status == models.AgentStatusBusy {
			busy[agent.Type]++
		}
	}
	util := make(map[models.AgentType]float64, len(total))
	for t, n := range total {
		util[t] = float64(busy[t]) / float64(n)
	}
	return util
}

// compatible reports whether an agent's type keywords overlap the task, or
// the agent shares a type with the current holder. Stealing never hands a
// task to an agent with no affinity for it.
func (c *Coordinator) compatible(agent *models.Agent, task *models.Task) bool {
	if holder, ok := c.agents[task.AssignedTo]; ok && holder.Type == agent.Type {
		return true
	}
	text := strings.ToLower(task.Type + " " + task.Description)
	for _, kw := range models.ProfileFor(agent.Type).Keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// consensusPass resolves due proposals and surfaces the outcomes as
// events. Caller holds mu.
func (c *Coordinator) consensusPass(now time.Time) {
	for _, res := range c.eng.Sweep(now) {
		c.logger.Log("[tick] proposal %s resolved: %s decision=%q", res.ProposalID, res.Status, res.Decision)
		c.emitter.emit(Event{
			Type:        EventProposalResolved,
			ObjectiveID: res.ObjectiveID,
			ProposalID:  res.ProposalID,
			Message:     string(res.Status) + ":" + res.Decision,
			Timestamp:   now,
		})
	}
}

// reconcilePass completes objectives whose tasks all finished. Caller
// holds mu.
func (c *Coordinator) reconcilePass(now time.Time) {
	for _, obj := range c.sortedObjectives() {
		if obj.Status != models.ObjectiveStatusExecuting {
			continue
		}
		done := true
		for _, taskID := range obj.TaskIDs {
			task, ok := c.tasks[taskID]
			if !ok || task.Status != models.TaskStatusCompleted {
				done = false
				break
			}
		}
		if !done {
			continue
		}

		obj.Status = models.ObjectiveStatusCompleted
		completed := now
		obj.CompletedAt = &completed
		c.persistObjective(obj)
		c.logger.Log("[tick] objective %s completed", obj.ID)
		c.emitter.emit(Event{Type: EventObjectiveCompleted, ObjectiveID: obj.ID, Timestamp: now})
	}
}

// requeueTask returns a task to the ready queue. With penalty, the retry
// budget is spent and backoff applies; exhausting the budget fails the
// task and its objective. Caller holds mu.
func (c *Coordinator) requeueTask(task *models.Task, now time.Time, penalty bool) {
	if task.AssignedTo != "" {
		c.releaseAgent(task.AssignedTo, task.ID)
	}

	if penalty {
		task.RetryCount++
		if task.RetryCount > c.cfg.MaxRetries {
			c.failTask(task, now)
			return
		}
		c.retryAt[task.ID] = now.Add(c.backoff(task.RetryCount))
	}

	task.Status = models.TaskStatusReady
	task.AssignedTo = ""
	task.StartedAt = nil
	c.persistTask(task)
	c.emitter.emit(Event{
		Type:        EventTaskRetried,
		ObjectiveID: task.ObjectiveID,
		TaskID:      task.ID,
		Message:     "retry " + strconv.Itoa(task.RetryCount),
		Timestamp:   now,
	})
}

// backoff returns the exponential delay before a retried task becomes
// assignable again.
func (c *Coordinator) backoff(retry int) time.Duration {
	if c.cfg.RetryBackoff <= 0 || retry <= 0 {
		return 0
	}
	return c.cfg.RetryBackoff << (retry - 1)
}

// failTask marks a task permanently failed and propagates the failure to
// its objective. Caller holds mu.
func (c *Coordinator) failTask(task *models.Task, now time.Time) {
	task.Status = models.TaskStatusFailed
	completed := now
	task.CompletedAt = &completed
	task.AssignedTo = ""
	c.persistTask(task)

	reason := "retries exhausted"
	if task.Result != nil && task.Result.Error != "" {
		reason = task.Result.Error
	}
	c.logger.Log("[tick] task %s failed permanently: %s", task.ID, reason)
	c.emitter.emit(Event{
		Type:        EventTaskFailed,
		ObjectiveID: task.ObjectiveID,
		TaskID:      task.ID,
		Message:     reason,
		Timestamp:   now,
	})
	c.failObjective(task, reason, now)
}

// failObjective fails a task's objective, recording the cause and
// cancelling the surviving tasks. Caller holds mu.
func (c *Coordinator) failObjective(task *models.Task, reason string, now time.Time) {
	obj, ok := c.objectives[task.ObjectiveID]
	if !ok || obj.Status != models.ObjectiveStatusExecuting {
		return
	}

	obj.Status = models.ObjectiveStatusFailed
	obj.Failure = &models.FailureCause{TaskID: task.ID, Reason: reason}
	completed := now
	obj.CompletedAt = &completed
	c.cancelRemainingTasks(obj, now)
	c.persistObjective(obj)

	for _, id := range c.eng.CancelForObjective(obj.ID) {
		c.logger.Log("[tick] proposal %s cancelled with failed objective %s", id, obj.ID)
	}

	c.emitter.emit(Event{
		Type:        EventObjectiveFailed,
		ObjectiveID: obj.ID,
		TaskID:      task.ID,
		Message:     reason,
		Timestamp:   now,
	})
}

// sortedTasks returns the task set in ID order for deterministic passes.
// Caller holds mu.
func (c *Coordinator) sortedTasks() []*models.Task {
	out := make([]*models.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// sortedAgents returns the agent pool in ID order. Caller holds mu.
func (c *Coordinator) sortedAgents() []*models.Agent {
	out := make([]*models.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// sortedObjectives returns objectives in ID order. Caller holds mu.
func (c *Coordinator) sortedObjectives() []*models.Objective {
	out := make([]*models.Objective, 0, len(c.objectives))
	for _, o := range c.objectives {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
