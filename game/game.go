package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/joaotav/malicious-network-agents/agent"
	"github.com/joaotav/malicious-network-agents/client"
	"github.com/joaotav/malicious-network-agents/protocol"
)

var (
	// ErrNoGame is returned by operations that need a running game.
	ErrNoGame = errors.New("no game in progress")

	// ErrGameInProgress is returned by Start when a game is already running.
	ErrGameInProgress = errors.New("a game is already in progress")

	// ErrInsufficientAgents is returned when an expert round asks for more
	// ready agents of some kind than the game has. It is reported before
	// any network activity happens.
	ErrInsufficientAgents = errors.New("not enough ready agents to sample")

	// ErrUnknownAgent is returned by Kill for an id the game does not hold.
	ErrUnknownAgent = errors.New("unknown agent id")
)

// Game owns one session of the value-oracle game: the agent population, the
// querying client, and the roster file other clients join through. One
// process runs at most one game at a time.
type Game struct {
	settings Settings
	client   *client.Client
	ids      *Sequence
	ports    *Sequence
	log      *slog.Logger

	mu       sync.Mutex
	started  bool
	value    uint64
	maxValue uint64
	agents   map[uint64]*agent.Agent
}

// Status is a point-in-time summary of a running game.
type Status struct {
	Running  bool   `json:"running"`
	Value    uint64 `json:"value,omitempty"`
	MaxValue uint64 `json:"max_value,omitempty"`
	Agents   int    `json:"agents"`
	Ready    int    `json:"ready"`
	Killed   int    `json:"killed"`
}

// New creates a game coordinator with a fresh client key pair. Agents
// spawned later trust directives signed by this client.
func New(settings Settings, log *slog.Logger) (*Game, error) {
	settings.ApplyDefaults()
	if log == nil {
		log = slog.Default()
	}

	c, err := client.New(log)
	if err != nil {
		return nil, err
	}

	return &Game{
		settings: settings,
		client:   c,
		ids:      NewSequence(1),
		ports:    NewSequence(uint64(settings.BasePort)),
		log:      log,
		agents:   make(map[uint64]*agent.Agent),
	}, nil
}

// Client returns the game's querying client.
func (g *Game) Client() *client.Client {
	return g.client
}

// Start launches a new game: numAgents agents holding value, of which
// a liarRatio share lie. The liar count truncates, so a ratio that does not
// divide evenly rounds in favor of honesty. Agents that fail to bind their
// port are pruned; the game starts with whoever made it up.
func (g *Game) Start(value, maxValue uint64, numAgents int, liarRatio float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return ErrGameInProgress
	}
	if numAgents < 1 {
		return fmt.Errorf("need at least one agent, got %d", numAgents)
	}

	cohort, err := g.buildCohort(value, maxValue, numAgents, liarRatio)
	if err != nil {
		return err
	}

	survivors := g.spawnCohort(cohort)
	if len(survivors) == 0 {
		return errors.New("no agent managed to bind its port")
	}
	for _, a := range survivors {
		g.agents[a.ID()] = a
	}

	g.started = true
	g.value = value
	g.maxValue = maxValue

	g.client.SetPeers(g.descriptorsLocked())
	if err := WriteRoster(g.settings.RosterPath, g.client.Peers()); err != nil {
		g.log.Error("roster write failed", "path", g.settings.RosterPath, "err", err)
		return err
	}

	g.log.Info("game started", "agents", len(survivors), "liars", countLiars(survivors))
	return nil
}

// Extend adds agents to a running game. The newcomers hold the game's
// original value and maxValue. If the roster cannot be re-written the new
// agents are torn down again so the file stays in step with the network.
func (g *Game) Extend(numAgents int, liarRatio float64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return ErrNoGame
	}
	if numAgents < 1 {
		return fmt.Errorf("need at least one agent, got %d", numAgents)
	}

	cohort, err := g.buildCohort(g.value, g.maxValue, numAgents, liarRatio)
	if err != nil {
		return err
	}

	survivors := g.spawnCohort(cohort)
	for _, a := range survivors {
		g.agents[a.ID()] = a
	}

	g.client.SetPeers(g.descriptorsLocked())
	if err := WriteRoster(g.settings.RosterPath, g.client.Peers()); err != nil {
		for _, a := range survivors {
			a.Stop()
			delete(g.agents, a.ID())
		}
		g.client.SetPeers(g.descriptorsLocked())
		return err
	}

	g.log.Info("game extended", "added", len(survivors), "total", len(g.agents))
	return nil
}

// Play runs a standard round and returns the inferred network value set.
func (g *Game) Play(ctx context.Context) ([]uint64, error) {
	if !g.running() {
		return nil, ErrNoGame
	}
	values := g.client.QueryStandardRound(ctx)
	return client.InferNetworkValue(values), nil
}

// PlayExpert runs an expert round through a sampled subset of numAgents
// relays, of which a liarRatio share are liars. The sample is drawn before
// any network activity, so an impossible request fails fast with
// ErrInsufficientAgents.
func (g *Game) PlayExpert(ctx context.Context, numAgents int, liarRatio float64) ([]uint64, error) {
	if !g.running() {
		return nil, ErrNoGame
	}

	wantLiars := int(float64(numAgents) * liarRatio)
	wantHonest := numAgents - wantLiars

	subset, err := g.expertSubset(wantHonest, wantLiars)
	if err != nil {
		return nil, err
	}

	values := g.client.QueryExpertRound(ctx, subset)
	return client.InferNetworkValue(values), nil
}

// Kill terminates one agent by id via a signed directive and drops it from
// the registry and the roster file.
func (g *Game) Kill(ctx context.Context, id uint64) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return ErrNoGame
	}
	target, ok := g.agents[id]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAgent, id)
	}

	if err := g.client.KillAgent(ctx, id, target.Address(), target.Port()); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.agents, id)
	g.client.SetPeers(g.descriptorsLocked())
	if err := WriteRoster(g.settings.RosterPath, g.client.Peers()); err != nil {
		g.log.Error("roster write failed", "path", g.settings.RosterPath, "err", err)
		return err
	}
	return nil
}

// Stop ends the game: every agent is told to terminate and the roster file
// is removed. Directive delivery failures are logged, not fatal; the local
// shutdown is unconditional.
func (g *Game) Stop(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.started {
		return ErrNoGame
	}

	for id, a := range g.agents {
		if a.Status() == agent.StatusReady {
			if err := g.client.KillAgent(ctx, id, a.Address(), a.Port()); err != nil {
				g.log.Warn("kill directive undeliverable, stopping locally", "agent_id", id, "err", err)
			}
		}
		a.Stop()
	}

	g.agents = make(map[uint64]*agent.Agent)
	g.client.SetPeers(nil)
	g.started = false

	if err := RemoveRoster(g.settings.RosterPath); err != nil {
		return err
	}
	g.log.Info("game stopped")
	return nil
}

// Status reports the current population counts and settings.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Status{Running: g.started, Agents: len(g.agents)}
	if g.started {
		s.Value = g.value
		s.MaxValue = g.maxValue
	}
	for _, a := range g.agents {
		switch a.Status() {
		case agent.StatusReady:
			s.Ready++
		case agent.StatusKilled:
			s.Killed++
		}
	}
	return s
}

// Roster returns the descriptors of the game's current agents, ordered by id.
func (g *Game) Roster() []protocol.AgentDescriptor {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.descriptorsLocked()
}

func (g *Game) running() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.started
}

// buildCohort constructs numAgents agents with fresh ids and ports. The liar
// count is the truncated share of the cohort.
func (g *Game) buildCohort(value, maxValue uint64, numAgents int, liarRatio float64) ([]*agent.Agent, error) {
	if liarRatio < 0 || liarRatio > 1 {
		return nil, fmt.Errorf("liar ratio must be within [0, 1], got %v", liarRatio)
	}

	numLiars := int(float64(numAgents) * liarRatio)
	cohort := make([]*agent.Agent, 0, numAgents)
	for i := 0; i < numAgents; i++ {
		id := g.ids.Next()
		port := int(g.ports.Next())

		var (
			a   *agent.Agent
			err error
		)
		if i < numLiars {
			a, err = agent.NewLiar(id, g.settings.BindAddress, port, value, maxValue, 1.0, g.client.PublicKey(), g.log)
		} else {
			a, err = agent.NewHonest(id, g.settings.BindAddress, port, value, g.client.PublicKey(), g.log)
		}
		if err != nil {
			return nil, err
		}
		cohort = append(cohort, a)
	}
	return cohort, nil
}

// spawnCohort starts every agent's serve loop and waits for each readiness
// ack. An agent whose ready channel closes without a signal failed to bind
// and is pruned from the game.
func (g *Game) spawnCohort(cohort []*agent.Agent) []*agent.Agent {
	acks := make([]chan uint64, len(cohort))
	for i, a := range cohort {
		acks[i] = make(chan uint64, 1)
		go a.Serve(acks[i])
	}

	survivors := make([]*agent.Agent, 0, len(cohort))
	for i, a := range cohort {
		if _, ok := <-acks[i]; !ok {
			g.log.Warn("agent failed to bind, pruned", "agent_id", a.ID(), "port", a.Port())
			continue
		}
		survivors = append(survivors, a)
	}
	return survivors
}

// expertSubset samples wantHonest honest and wantLiars lying agents,
// uniformly without replacement, from the ready population.
func (g *Game) expertSubset(wantHonest, wantLiars int) ([]protocol.AgentDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var honest, liars []*agent.Agent
	for _, a := range g.agents {
		if a.Status() != agent.StatusReady {
			continue
		}
		if a.IsLiar() {
			liars = append(liars, a)
		} else {
			honest = append(honest, a)
		}
	}

	if len(honest) < wantHonest {
		return nil, fmt.Errorf("%w: want %d honest, have %d", ErrInsufficientAgents, wantHonest, len(honest))
	}
	if len(liars) < wantLiars {
		return nil, fmt.Errorf("%w: want %d liars, have %d", ErrInsufficientAgents, wantLiars, len(liars))
	}

	rand.Shuffle(len(honest), func(i, j int) { honest[i], honest[j] = honest[j], honest[i] })
	rand.Shuffle(len(liars), func(i, j int) { liars[i], liars[j] = liars[j], liars[i] })

	subset := make([]protocol.AgentDescriptor, 0, wantHonest+wantLiars)
	for _, a := range honest[:wantHonest] {
		subset = append(subset, a.Descriptor())
	}
	for _, a := range liars[:wantLiars] {
		subset = append(subset, a.Descriptor())
	}
	return subset, nil
}

func (g *Game) descriptorsLocked() []protocol.AgentDescriptor {
	peers := make([]protocol.AgentDescriptor, 0, len(g.agents))
	for _, a := range g.agents {
		peers = append(peers, a.Descriptor())
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].AgentID < peers[j].AgentID })
	return peers
}

func countLiars(agents []*agent.Agent) int {
	n := 0
	for _, a := range agents {
		if a.IsLiar() {
			n++
		}
	}
	return n
}
