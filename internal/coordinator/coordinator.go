package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hivemind-dev/hivemind/internal/config"
	"github.com/hivemind-dev/hivemind/internal/consensus"
	"github.com/hivemind-dev/hivemind/internal/executor"
	"github.com/hivemind-dev/hivemind/internal/graph"
	"github.com/hivemind-dev/hivemind/internal/memory"
	"github.com/hivemind-dev/hivemind/internal/strategist"
	"github.com/hivemind-dev/hivemind/internal/topology"
	"github.com/hivemind-dev/hivemind/internal/transport"
	"github.com/hivemind-dev/hivemind/pkg/models"
)

// ErrUnknownObjective indicates the objective ID is not registered.
var ErrUnknownObjective = errors.New("unknown objective")

// ErrUnknownAgent indicates the agent ID is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrDuplicateAgent indicates an agent with the same ID is already registered.
var ErrDuplicateAgent = errors.New("duplicate agent")

// registryIndex is a lock-free-to-deadlock view of the swarm for callbacks
// that run under other components' locks: consensus weight and eligibility
// lookups, and the transport delivery gate. It tracks agent types, each
// objective's topology, and which objective each busy agent is working.
type registryIndex struct {
	mu      sync.RWMutex
	types   map[string]models.AgentType
	topos   map[string]topology.Topology
	engaged map[string]string
}

func newRegistryIndex() *registryIndex {
	return &registryIndex{
		types:   make(map[string]models.AgentType),
		topos:   make(map[string]topology.Topology),
		engaged: make(map[string]string),
	}
}

func (r *registryIndex) set(agentID string, t models.AgentType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[agentID] = t
}

func (r *registryIndex) remove(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.types, agentID)
	delete(r.engaged, agentID)
}

func (r *registryIndex) typeOf(agentID string) (models.AgentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[agentID]
	return t, ok
}

func (r *registryIndex) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.types))
	for id := range r.types {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *registryIndex) setTopology(objectiveID string, t topology.Topology) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topos[objectiveID] = t
}

func (r *registryIndex) topologyOf(objectiveID string) (topology.Topology, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topos[objectiveID]
	return t, ok
}

func (r *registryIndex) engage(agentID, objectiveID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engaged[agentID] = objectiveID
}

func (r *registryIndex) disengage(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engaged, agentID)
}

func (r *registryIndex) engagementOf(agentID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	objectiveID, ok := r.engaged[agentID]
	return objectiveID, ok
}

// Coordinator owns the swarm: the agent registry, objective graphs, the
// scheduling loop, and the consensus engine. All scheduling state is
// mutated by a single goroutine at a time under mu, so a tick observes and
// produces a consistent snapshot.
type Coordinator struct {
	mu sync.Mutex

	cfg   config.CoordinatorConfig
	strat *strategist.Strategist
	eng   *consensus.Engine
	store *memory.Store
	bus   *transport.Bus
	pool  *executor.Pool

	agents     map[string]*models.Agent
	objectives map[string]*models.Objective
	tasks      map[string]*models.Task
	graphs     map[string]*graph.DependencyGraph
	topologies map[string]topology.Topology
	retryAt    map[string]time.Time

	// canceling maps an agent to the deadline by which its interrupted
	// execution must acknowledge the cancel. The agent stays out of the
	// pool until the acknowledgement arrives or the grace period lapses.
	canceling map[string]time.Time

	// pendingTopologies holds SetTopology requests until the next tick so a
	// topology never changes under a tick in progress.
	pendingTopologies map[string]topology.Topology

	index   *registryIndex
	emitter *eventEmitter
	logger  *DebugLogger
	now     func() time.Time
	kick    chan struct{}

	runCtx context.Context
}

// Option configures a Coordinator. Use With* functions to create Options.
type Option func(*Coordinator)

// WithConfig sets the scheduling configuration.
func WithConfig(cfg config.CoordinatorConfig) Option {
	return func(c *Coordinator) { c.cfg = cfg }
}

// WithStore sets the shared memory store backing coordination state.
func WithStore(s *memory.Store) Option {
	return func(c *Coordinator) { c.store = s }
}

// WithStrategist sets a custom strategist (mainly for testing).
func WithStrategist(s *strategist.Strategist) Option {
	return func(c *Coordinator) { c.strat = s }
}

// WithBus sets a custom message bus.
func WithBus(b *transport.Bus) Option {
	return func(c *Coordinator) { c.bus = b }
}

// WithLogger sets the debug logger.
func WithLogger(l *DebugLogger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock sets the time source (mainly for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New creates a Coordinator that dispatches work to the given executor.
func New(exec executor.Executor, opts ...Option) *Coordinator {
	c := &Coordinator{
		cfg:               config.Default().Coordinator,
		agents:            make(map[string]*models.Agent),
		objectives:        make(map[string]*models.Objective),
		tasks:             make(map[string]*models.Task),
		graphs:            make(map[string]*graph.DependencyGraph),
		topologies:        make(map[string]topology.Topology),
		retryAt:           make(map[string]time.Time),
		canceling:         make(map[string]time.Time),
		pendingTopologies: make(map[string]topology.Topology),
		index:             newRegistryIndex(),
		logger:            NopLogger(),
		now:               time.Now,
		kick:              make(chan struct{}, 1),
		runCtx:            context.Background(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.store == nil {
		c.store = memory.NewStore()
	}
	if c.strat == nil {
		c.strat = strategist.New(
			strategist.WithStore(c.store),
			strategist.WithLogf(c.logger.Log),
		)
	}
	if c.bus == nil {
		c.bus = transport.NewBus(0)
	}
	c.bus.BindGate(c.routeGate)
	c.emitter = newEventEmitter(c.cfg.EventBuffer)
	c.pool = executor.NewPool(exec, c.cfg.EventBuffer)

	c.eng = consensus.NewEngine(
		consensus.WithStore(c.store),
		consensus.WithLogf(c.logger.Log),
		consensus.WithClock(c.now),
		consensus.WithWeightFunc(c.agentWeight),
		consensus.WithEligibility(c.voterPeers),
	)

	return c
}

// voterPeers derives proposal eligibility from the objective's topology:
// only agents that may exchange messages with the proposer get a vote.
// Objectives without a restrictive topology, and proposals outside any
// objective, open voting to the whole pool.
func (c *Coordinator) voterPeers(proposerID, objectiveID string) []string {
	ids := c.index.ids()
	t, ok := c.index.topologyOf(objectiveID)
	if !ok || t.Kind == topology.Mesh {
		return ids
	}

	var peers []string
	for _, id := range ids {
		if id == proposerID || t.CanCommunicate(proposerID, id) || t.CanCommunicate(id, proposerID) {
			peers = append(peers, id)
		}
	}
	return peers
}

// routeGate enforces per-objective topologies on the bus. A send is checked
// against the topology of the objective the receiver is working, or the
// sender's when the receiver is between tasks. Agents outside any objective
// are unconstrained.
func (c *Coordinator) routeGate(senderID, receiverID string) error {
	objectiveID, ok := c.index.engagementOf(receiverID)
	if !ok {
		objectiveID, ok = c.index.engagementOf(senderID)
	}
	if !ok {
		return nil
	}
	t, ok := c.index.topologyOf(objectiveID)
	if !ok {
		return nil
	}
	return t.CheckCommunicate(senderID, receiverID)
}

// agentWeight resolves a voter's weight from its registered type. Unknown
// voters count with neutral weight so stale proposals still tally.
func (c *Coordinator) agentWeight(agentID string) float64 {
	t, ok := c.index.typeOf(agentID)
	if !ok {
		return 1.0
	}
	return c.strat.TypeWeight(t)
}

// Events returns the channel of coordinator events.
func (c *Coordinator) Events() <-chan Event {
	return c.emitter.events
}

// DroppedEventCount returns the number of events dropped due to a full channel.
func (c *Coordinator) DroppedEventCount() uint64 {
	return c.emitter.dropped()
}

// Consensus returns the consensus engine for creating proposals and voting.
func (c *Coordinator) Consensus() *consensus.Engine {
	return c.eng
}

// Memory returns the shared memory store.
func (c *Coordinator) Memory() *memory.Store {
	return c.store
}

// Bus returns the message bus agents use for peer communication.
func (c *Coordinator) Bus() *transport.Bus {
	return c.bus
}

// Propose creates a consensus proposal in an objective's context and
// announces it to the swarm over the bus. Eligibility follows the
// objective's topology: only agents that may communicate with the proposer
// get a vote, and the announcement broadcast skips unreachable peers.
func (c *Coordinator) Propose(topic string, options []string, strategy models.ConsensusStrategy, deadline time.Time, proposerID, objectiveID string) (*models.Proposal, error) {
	p, err := c.eng.CreateProposal(topic, options, strategy, deadline, proposerID, objectiveID, nil)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(p)
	if err == nil {
		if n, berr := c.bus.Broadcast(proposerID, "proposal", payload); berr != nil {
			c.logger.Log("[consensus] proposal %s announcement failed: %v", p.ID, berr)
		} else {
			c.logger.Log("[consensus] proposal %s announced to %d peers", p.ID, n)
		}
	}
	return p, nil
}

// Register adds an agent to the pool. A blank ID gets a generated one.
// The agent starts idle and is considered for assignment on the next tick.
func (c *Coordinator) Register(a models.Agent) (models.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.New().String()[:8]
	}
	if _, exists := c.agents[a.ID]; exists {
		return models.Agent{}, fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID)
	}
	if a.Type == "" {
		a.Type = models.AgentTypeCoder
	}

	now := c.now()
	a.Status = models.AgentStatusIdle
	a.CurrentTaskID = ""
	a.LastHeartbeat = now
	a.RegisteredAt = now

	agent := a
	c.agents[agent.ID] = &agent
	c.index.set(agent.ID, agent.Type)
	c.bus.Subscribe(agent.ID)
	c.persistAgent(&agent)

	c.logger.Log("[registry] agent %s registered (type=%s)", agent.ID, agent.Type)
	c.emitter.emit(Event{Type: EventAgentRegistered, AgentID: agent.ID, Timestamp: now})
	c.nudge()

	return agent, nil
}

// Deregister removes an agent from the pool. A task the agent was working
// on is requeued without a retry penalty.
func (c *Coordinator) Deregister(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	now := c.now()
	if agent.CurrentTaskID != "" {
		if task, ok := c.tasks[agent.CurrentTaskID]; ok && !task.Status.Terminal() {
			c.pool.Cancel(task.ID)
			c.requeueTask(task, now, false)
		}
	}
	// Queued assignments lose their agent too.
	for _, task := range c.tasks {
		if task.AssignedTo == agentID && task.Status == models.TaskStatusAssigned {
			c.requeueTask(task, now, false)
		}
	}

	delete(c.agents, agentID)
	delete(c.canceling, agentID)
	c.index.remove(agentID)
	c.bus.Unsubscribe(agentID)

	c.logger.Log("[registry] agent %s deregistered", agentID)
	c.emitter.emit(Event{Type: EventAgentDeregistered, AgentID: agentID, Timestamp: now})

	return nil
}

// Heartbeat records liveness for an agent. A stalled agent that heartbeats
// again rejoins the pool as idle.
func (c *Coordinator) Heartbeat(agentID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}

	agent.LastHeartbeat = c.now()
	if agent.Status == models.AgentStatusStalled || agent.Status == models.AgentStatusOffline {
		// Its task, if any, was already requeued when the stall or
		// restart was handled.
		agent.Status = models.AgentStatusIdle
		agent.CurrentTaskID = ""
		c.index.disengage(agentID)
		c.nudge()
	}
	return nil
}

// Agents returns a snapshot of the registered agents, sorted by ID.
func (c *Coordinator) Agents() []models.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]models.Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Objective returns a snapshot of the given objective.
func (c *Coordinator) Objective(objectiveID string) (models.Objective, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objectives[objectiveID]
	if !ok {
		return models.Objective{}, fmt.Errorf("%w: %s", ErrUnknownObjective, objectiveID)
	}
	return *obj, nil
}

// Tasks returns snapshots of an objective's tasks in task-ID order.
func (c *Coordinator) Tasks(objectiveID string) ([]models.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objectives[objectiveID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObjective, objectiveID)
	}

	out := make([]models.Task, 0, len(obj.TaskIDs))
	for _, id := range obj.TaskIDs {
		if task, ok := c.tasks[id]; ok {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Topology returns the communication topology planned for an objective.
// Objectives without an explicit topology default to mesh.
func (c *Coordinator) Topology(objectiveID string) topology.Topology {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.topologies[objectiveID]; ok {
		return t
	}
	return topology.New()
}

// SetTopology stages a topology change for an objective. The change takes
// effect at the start of the next tick, and open proposals for the
// objective are cancelled because their communication assumptions no
// longer hold.
func (c *Coordinator) SetTopology(objectiveID string, t topology.Topology) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.objectives[objectiveID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObjective, objectiveID)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", topology.ErrInvalidTopology, t.Kind)
	}

	ids := make([]string, 0, len(c.agents))
	for id := range c.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := t.Validate(ids); err != nil {
		return err
	}

	c.pendingTopologies[objectiveID] = t
	c.nudge()
	return nil
}

// CancelObjective cancels an objective and every non-terminal task in it.
// In-flight executions are interrupted and open proposals withdrawn.
func (c *Coordinator) CancelObjective(objectiveID, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objectives[objectiveID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownObjective, objectiveID)
	}
	if obj.Status == models.ObjectiveStatusCompleted || obj.Status == models.ObjectiveStatusFailed ||
		obj.Status == models.ObjectiveStatusCancelled {
		return nil
	}

	now := c.now()
	c.cancelRemainingTasks(obj, now)

	obj.Status = models.ObjectiveStatusCancelled
	completed := now
	obj.CompletedAt = &completed
	c.persistObjective(obj)

	for _, id := range c.eng.CancelForObjective(objectiveID) {
		c.logger.Log("[coordinator] proposal %s cancelled with objective %s", id, objectiveID)
	}

	c.logger.Log("[coordinator] objective %s cancelled: %s", objectiveID, reason)
	c.emitter.emit(Event{
		Type:        EventObjectiveCancelled,
		ObjectiveID: objectiveID,
		Message:     reason,
		Timestamp:   now,
	})
	return nil
}

// cancelRemainingTasks cancels every non-terminal task of an objective.
// Running executions are interrupted cooperatively: their agents stay out
// of the pool until the cancel is acknowledged or the grace period lapses.
// Caller holds mu.
func (c *Coordinator) cancelRemainingTasks(obj *models.Objective, now time.Time) {
	for _, taskID := range obj.TaskIDs {
		task, ok := c.tasks[taskID]
		if !ok || task.Status.Terminal() {
			continue
		}
		if task.Status == models.TaskStatusRunning {
			c.beginCancel(task, now)
		} else if task.AssignedTo != "" {
			c.releaseAgent(task.AssignedTo, task.ID)
		}
		task.Status = models.TaskStatusCancelled
		completed := now
		task.CompletedAt = &completed
		task.AssignedTo = ""
		c.persistTask(task)
	}
}

// beginCancel interrupts a running execution. The agent keeps its busy
// status and current task until the execution's completion arrives, so it
// cannot be double-booked while the external work winds down. Caller
// holds mu.
func (c *Coordinator) beginCancel(task *models.Task, now time.Time) {
	c.pool.Cancel(task.ID)
	if agent, ok := c.agents[task.AssignedTo]; ok && agent.CurrentTaskID == task.ID {
		c.canceling[agent.ID] = now.Add(c.cfg.CancelGracePeriod)
	}
}

// releaseAgent returns an agent to idle if it was working the given task.
// Caller holds mu.
func (c *Coordinator) releaseAgent(agentID, taskID string) {
	agent, ok := c.agents[agentID]
	if !ok {
		return
	}
	if agent.CurrentTaskID == taskID {
		agent.CurrentTaskID = ""
		c.index.disengage(agentID)
		if agent.Status == models.AgentStatusBusy {
			agent.Status = models.AgentStatusIdle
		}
	}
}

// nudge requests an extra tick from the run loop without blocking.
func (c *Coordinator) nudge() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drives the scheduling loop until the context is cancelled. Ticks fire
// on the configured interval, on completions, and on explicit nudges from
// submissions and registrations.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	c.logger.Log("[coordinator] run loop started (tick=%s)", c.cfg.TickInterval)

	for {
		select {
		case <-ctx.Done():
			c.logger.Log("[coordinator] run loop stopping: %v", ctx.Err())
			c.pool.Wait()
			return ctx.Err()
		case <-ticker.C:
			c.Tick(c.now())
		case <-c.kick:
			c.Tick(c.now())
		case comp := <-c.pool.Completions():
			c.ingest(comp)
			c.Tick(c.now())
		}
	}
}

// Quiesce blocks until every in-flight execution has delivered its
// completion to the pool. Useful in tests and during shutdown.
func (c *Coordinator) Quiesce() {
	c.pool.Wait()
}

// Close releases the event channel. Call after Run has returned.
func (c *Coordinator) Close() {
	c.emitter.close()
}
