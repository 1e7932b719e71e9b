package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"marketsim/engine"
)

// Config holds the session parameters.
type Config struct {
	SessionID  string
	VirtualEnd float64       // virtual session length, seconds
	WallLength time.Duration // real time the concurrent session runs for
	Poll       time.Duration // run-flag polling interval
	Ticks      int           // tick count for the sequential model
	TapeDepth  int           // bounded tape tail in published snapshots

	// OnTick, when set, is invoked once per sequential tick and once per poll
	// interval in the concurrent model. The upstream customer-order source
	// hangs off this hook.
	OnTick func(t float64)
}

// Session runs one trading day: market open, a scheduling model pumping agent
// orders through the exchange, then market close. Both scheduling models are
// supported: RunSequential processes one agent per tick to completion, and
// RunConcurrent runs every agent as its own goroutine against the single-writer
// coordinator.
type Session struct {
	cfg    Config
	exch   *engine.Exchange
	coord  *Coordinator
	agents []Agent
	byID   map[string]Agent
	log    *zap.Logger
}

// NewSession wires a session for the given exchange and agents.
func NewSession(cfg Config, exch *engine.Exchange, agents []Agent, log *zap.Logger) *Session {
	if cfg.Poll <= 0 {
		cfg.Poll = 10 * time.Millisecond
	}
	if cfg.TapeDepth <= 0 {
		cfg.TapeDepth = 50
	}
	ids := make([]string, len(agents))
	byID := make(map[string]Agent, len(agents))
	for i, a := range agents {
		ids[i] = a.ID()
		byID[a.ID()] = a
	}
	return &Session{
		cfg:    cfg,
		exch:   exch,
		coord:  NewCoordinator(exch, ids, cfg.TapeDepth, log),
		agents: agents,
		byID:   byID,
		log:    log,
	}
}

// Coordinator exposes the session's coordinator, for observers such as the
// market-data feed.
func (s *Session) Coordinator() *Coordinator {
	return s.coord
}

// RunConcurrent runs the concurrent scheduling model: one goroutine per agent
// plus the coordinator. The run flag is cleared when the wall clock expires;
// every unit must observe it within one polling interval and be joined. A
// mismatch between expected and cleanly-exited unit counts invalidates the
// session's results.
func (s *Session) RunConcurrent() error {
	s.deliver(0, s.exch.MktOpen(0))

	clock := NewClock(s.cfg.WallLength, s.cfg.VirtualEnd)
	var running atomic.Bool
	running.Store(true)

	var wg sync.WaitGroup
	var clean atomic.Int64
	expected := int64(len(s.agents)) + 1

	runUnit := func(name string, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("unit crashed", zap.String("unit", name), zap.Any("panic", r))
					return
				}
				clean.Add(1)
			}()
			fn()
		}()
	}

	runUnit("coordinator", func() {
		s.coord.Run(clock, &running, s.cfg.Poll)
	})
	for _, a := range s.agents {
		agent := a
		runUnit(agent.ID(), func() {
			s.runAgent(agent, clock, &running)
		})
	}

	for !clock.Done() {
		if s.cfg.OnTick != nil {
			s.cfg.OnTick(clock.Now())
		}
		time.Sleep(s.cfg.Poll)
	}
	running.Store(false)
	wg.Wait()

	s.deliver(s.cfg.VirtualEnd, s.exch.MktClose(s.cfg.VirtualEnd))

	if got := clean.Load(); got != expected {
		return fmt.Errorf("session %s: %d of %d units exited cleanly; results invalid",
			s.cfg.SessionID, got, expected)
	}
	s.log.Info("session complete", zap.String("session", s.cfg.SessionID))
	return nil
}

// runAgent is one agent's loop: drain pending notifications, update state,
// optionally produce one order, submit it.
func (s *Session) runAgent(agent Agent, clock *Clock, running *atomic.Bool) {
	inbox := s.coord.Notifications(agent.ID())
	for running.Load() {
		time.Sleep(s.cfg.Poll)
		t := clock.Now()

		for {
			n, ok := inbox.TryPop()
			if !ok {
				break
			}
			for _, m := range n.Msgs {
				agent.Bookkeep(m, t)
			}
			agent.Respond(t, s.coord.View(), n.Trade)
		}

		view := s.coord.View()
		agent.Respond(t, view, nil)
		o := agent.GetOrder(t, clock.TimeLeft(), view)
		if o == nil {
			continue
		}
		if o.Style == engine.Cancel {
			s.coord.CancelOrder(o)
		} else {
			s.coord.Submit(o)
		}
	}
}

// RunSequential runs the sequential scheduling model: per tick, one
// pseudo-randomly chosen agent submits at most one order, and the exchange
// processes it to completion before the next tick. No races by construction.
func (s *Session) RunSequential(seed int64) error {
	if s.cfg.Ticks <= 0 {
		return fmt.Errorf("session %s: sequential model needs a positive tick count", s.cfg.SessionID)
	}
	rng := rand.New(rand.NewSource(seed))
	refs := newRefTracker()

	s.deliver(0, s.exch.MktOpen(0))

	for i := 0; i < s.cfg.Ticks; i++ {
		t := s.cfg.VirtualEnd * float64(i) / float64(s.cfg.Ticks)
		if s.cfg.OnTick != nil {
			s.cfg.OnTick(t)
		}

		agent := s.agents[rng.Intn(len(s.agents))]
		view := s.exch.Publish(t, s.cfg.TapeDepth)
		o := agent.GetOrder(t, 1-t/s.cfg.VirtualEnd, view)
		if o == nil {
			continue
		}
		if refs.stale(o) {
			continue
		}
		res := s.exch.ProcessOrder(t, o)
		refs.observe(o, res.Messages)
		s.deliver(t, res)
	}

	s.deliver(s.cfg.VirtualEnd, s.exch.MktClose(s.cfg.VirtualEnd))
	s.log.Info("session complete", zap.String("session", s.cfg.SessionID))
	return nil
}

// deliver hands a processing result straight to the affected agents, used by
// the sequential model and the open/close transitions.
func (s *Session) deliver(t float64, res *engine.Result) {
	for _, m := range res.Messages {
		if agent, ok := s.byID[m.TraderID]; ok {
			agent.Bookkeep(m, t)
		}
	}
	if res.Summary != nil {
		view := s.exch.Publish(t, s.cfg.TapeDepth)
		for _, agent := range s.agents {
			agent.Respond(t, view, res.Summary)
		}
	}
}
