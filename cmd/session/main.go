package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"marketsim/agents"
	"marketsim/engine"
	"marketsim/sim"
)

func main() {
	sessionID := flag.String("session", "S001", "session identifier used in artifacts")
	mode := flag.String("mode", "concurrent", "scheduling model: concurrent or sequential")
	nGiveaway := flag.Int("giveaway", 2, "number of giveaway agents per side pool")
	nZIC := flag.Int("zic", 4, "number of ZIC agents")
	nShaver := flag.Int("shaver", 2, "number of shaver agents")
	virtualEnd := flag.Float64("virtual-end", 600, "virtual session length in seconds")
	wallLength := flag.Duration("wall", 10*time.Second, "wall-clock length of a concurrent session")
	poll := flag.Duration("poll", 10*time.Millisecond, "polling interval")
	ticks := flag.Int("ticks", 2000, "tick count for the sequential model")
	maxQty := flag.Int64("max-qty", 5, "maximum customer order quantity")
	seed := flag.Int64("seed", time.Now().UnixNano(), "seed for deterministic random streams")
	outDir := flag.String("out", "out", "directory for session-end artifacts")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	exch := engine.NewExchange(*sessionID)

	var pool []sim.Agent
	var assignable []agents.Assignable
	addAgent := func(a sim.Agent) {
		pool = append(pool, a)
		assignable = append(assignable, a.(agents.Assignable))
	}
	for i := 0; i < *nGiveaway; i++ {
		addAgent(agents.NewGiveaway(fmt.Sprintf("GVWY%02d", i)))
	}
	for i := 0; i < *nZIC; i++ {
		addAgent(agents.NewZIC(fmt.Sprintf("ZIC%02d", i), *seed+int64(i)))
	}
	for i := 0; i < *nShaver; i++ {
		addAgent(agents.NewShaver(fmt.Sprintf("SHVR%02d", i)))
	}
	if len(pool) == 0 {
		log.Fatal("no agents configured")
	}

	flow := agents.NewFlow(assignable, *maxQty, *seed)
	sess := sim.NewSession(sim.Config{
		SessionID:  *sessionID,
		VirtualEnd: *virtualEnd,
		WallLength: *wallLength,
		Poll:       *poll,
		Ticks:      *ticks,
		OnTick:     flow.Tick,
	}, exch, pool, log)

	switch *mode {
	case "concurrent":
		err = sess.RunConcurrent()
	case "sequential":
		err = sess.RunSequential(*seed)
	default:
		log.Fatal("unknown mode", zap.String("mode", *mode))
	}
	if err != nil {
		log.Fatal("session failed", zap.Error(err))
	}

	if err := writeArtifacts(*outDir, *sessionID, exch, pool); err != nil {
		log.Fatal("writing artifacts", zap.Error(err))
	}
	log.Info("artifacts written", zap.String("dir", *outDir))
}

// writeArtifacts dumps the tape, one blotter per agent, and the per-type
// balance summary as delimited text.
func writeArtifacts(dir, sessionID string, exch *engine.Exchange, pool []sim.Agent) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tape, err := os.Create(filepath.Join(dir, "tape.csv"))
	if err != nil {
		return err
	}
	defer tape.Close()
	if err := exch.DumpTape(tape, sessionID, false); err != nil {
		return err
	}

	type typeStats struct {
		balance int64
		count   int
	}
	byType := make(map[string]*typeStats)

	for _, a := range pool {
		tr, ok := a.(interface {
			Balance() int64
			Blotter() []engine.Message
		})
		if !ok {
			continue
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("blotter_%s.csv", a.ID())))
		if err != nil {
			return err
		}
		for _, m := range tr.Blotter() {
			fmt.Fprintf(f, "%s, %d, %s, %d, %d\n", sessionID, m.OrderID, m.Event, m.Fee, m.BalanceDelta)
		}
		fmt.Fprintf(f, "%s, balance, %d\n", sessionID, tr.Balance())
		if err := f.Close(); err != nil {
			return err
		}

		key := strings.TrimRight(a.ID(), "0123456789")
		st := byType[key]
		if st == nil {
			st = &typeStats{}
			byType[key] = st
		}
		st.balance += tr.Balance()
		st.count++
	}

	summary, err := os.Create(filepath.Join(dir, "summary.csv"))
	if err != nil {
		return err
	}
	defer summary.Close()
	for key, st := range byType {
		fmt.Fprintf(summary, "%s, %s, %d, %d\n", sessionID, key, st.count, st.balance)
	}
	return nil
}
