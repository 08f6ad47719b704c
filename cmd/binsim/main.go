package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cleanroute/config"
	"cleanroute/messaging"
)

// simBin models one battery-powered sensor. All mutation happens under mu;
// command handlers are invoked from transport goroutines.
type simBin struct {
	mu sync.Mutex

	binID     string
	lat, lon  float64
	fillPct   float64
	ratePerHr float64
	battV     float64
	sleeping  bool
	firmware  string
}

type simulator struct {
	client   *messaging.Client
	prefix   string
	bins     []*simBin
	interval time.Duration
	// each tick advances the simulated clock by this many hours
	hoursPerTick float64
	ackFailPct   int
	stopChan     chan struct{}
}

func main() {
	configPath := flag.String("config", "cleanroute.yaml", "path to config file")
	count := flag.Int("bins", 12, "number of simulated bins")
	interval := flag.Duration("interval", 10*time.Second, "telemetry interval")
	hoursPerTick := flag.Float64("hours-per-tick", 1, "simulated hours per telemetry interval")
	ackFailPct := flag.Int("ack-fail-pct", 5, "percent of commands that fail their ack")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.Zones) == 0 {
		log.Fatal("no zones configured")
	}

	msgCfg := cfg.Messaging
	msgCfg.MQTT.ClientID = fmt.Sprintf("binsim-%d", os.Getpid())
	client := messaging.NewClient(&msgCfg)
	if err := client.Connect(); err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()
	log.Printf("binsim: connected (%s)", msgCfg.Backend)

	sim := &simulator{
		client:       client,
		prefix:       cfg.Messaging.TopicPrefix,
		interval:     *interval,
		hoursPerTick: *hoursPerTick,
		ackFailPct:   *ackFailPct,
		stopChan:     make(chan struct{}),
	}

	for i := 0; i < *count; i++ {
		z := cfg.Zones[i%len(cfg.Zones)]
		b := &simBin{
			binID:     fmt.Sprintf("SIM-%03d", i+1),
			lat:       z.Bounds.South + rand.Float64()*(z.Bounds.North-z.Bounds.South),
			lon:       z.Bounds.West + rand.Float64()*(z.Bounds.East-z.Bounds.West),
			fillPct:   rand.Float64() * 60,
			ratePerHr: 0.5 + rand.Float64()*3.5,
			battV:     3.6 + rand.Float64()*0.5,
			firmware:  "1.4.2",
		}
		sim.bins = append(sim.bins, b)
		if err := sim.subscribeCommands(b); err != nil {
			log.Fatalf("subscribe %s: %v", b.binID, err)
		}
	}
	log.Printf("binsim: %d bins across %d zones, telemetry every %s", *count, len(cfg.Zones), *interval)

	go sim.run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	close(sim.stopChan)
	log.Printf("binsim: stopped")
}

func (s *simulator) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	heartbeatEvery := 3
	tick := 0
	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			tick++
			for _, b := range s.bins {
				s.tickBin(b, tick%heartbeatEvery == 0)
			}
		}
	}
}

func (s *simulator) tickBin(b *simBin, heartbeat bool) {
	b.mu.Lock()
	if b.sleeping {
		b.mu.Unlock()
		return
	}

	emptied := false
	b.fillPct += b.ratePerHr * s.hoursPerTick * (0.8 + rand.Float64()*0.4)
	if b.fillPct >= 92 {
		// Crew came by.
		b.fillPct = rand.Float64() * 8
		emptied = true
	}
	if b.fillPct > 100 {
		b.fillPct = 100
	}
	b.battV -= 0.001 * s.hoursPerTick
	payload := map[string]any{
		"bin_id":   b.binID,
		"ts":       time.Now().UTC().Format(time.RFC3339),
		"fill_pct": round1(b.fillPct),
		"batt_v":   round2(b.battV),
		"temp_c":   round1(26 + rand.Float64()*8),
		"emptied":  emptied,
		"lat":      b.lat,
		"lon":      b.lon,
	}
	binID := b.binID
	b.mu.Unlock()

	s.publish(binID, messaging.KindTelemetry, payload)
	if heartbeat {
		b.mu.Lock()
		hb := map[string]any{
			"rssi":             -40 - rand.Intn(50),
			"uptime_seconds":   rand.Intn(864000),
			"free_memory_kb":   120 + rand.Intn(100),
			"firmware_version": b.firmware,
		}
		b.mu.Unlock()
		s.publish(binID, messaging.KindHeartbeat, hb)
	}
}

func (s *simulator) subscribeCommands(b *simBin) error {
	topic := messaging.BinCommandTopic(s.prefix, b.binID)
	return s.client.Subscribe(topic, func(_ string, payload []byte) {
		var cmd messaging.CommandMsg
		if err := json.Unmarshal(payload, &cmd); err != nil {
			log.Printf("binsim: %s: bad command: %v", b.binID, err)
			return
		}
		s.handleCommand(b, &cmd)
	})
}

func (s *simulator) handleCommand(b *simBin, cmd *messaging.CommandMsg) {
	log.Printf("binsim: %s <- %s (%s)", b.binID, cmd.Command, cmd.CommandID)

	if rand.Intn(100) < s.ackFailPct {
		s.publish(b.binID, messaging.KindAck, map[string]any{
			"command_id": cmd.CommandID,
			"success":    false,
			"error":      "simulated transient fault",
		})
		return
	}

	switch cmd.Command {
	case messaging.CmdWakeUp:
		b.mu.Lock()
		b.sleeping = false
		b.mu.Unlock()
	case messaging.CmdSleep:
		b.mu.Lock()
		b.sleeping = true
		b.mu.Unlock()
	case messaging.CmdReboot, messaging.CmdConfigure:
		// Nothing persistent to change.
	case messaging.CmdRequestDiagnostics:
		s.publish(b.binID, messaging.KindDiagnostic, map[string]any{
			"rssi":        -40 - rand.Intn(50),
			"reset_count": rand.Intn(5),
			"sensor_ok":   true,
		})
	case messaging.CmdOTAUpdate:
		go s.runOTA(b, cmd)
	default:
		log.Printf("binsim: %s: unknown command %q", b.binID, cmd.Command)
	}

	s.publish(b.binID, messaging.KindAck, map[string]any{
		"command_id": cmd.CommandID,
		"success":    true,
	})
}

// runOTA walks an update through download and install, reporting progress.
func (s *simulator) runOTA(b *simBin, cmd *messaging.CommandMsg) {
	version, _ := cmd.Params["version"].(string)
	report := func(status string, pct float64, errMsg string) {
		s.publish(b.binID, messaging.KindOTAStatus, map[string]any{
			"update_id":    cmd.CommandID,
			"status":       status,
			"progress_pct": pct,
			"error":        errMsg,
		})
	}

	for pct := 0.0; pct < 100; pct += 25 {
		report("downloading", pct, "")
		time.Sleep(s.interval / 4)
	}
	report("installing", 100, "")
	time.Sleep(s.interval / 4)

	if rand.Intn(100) < 10 {
		report("failed", 100, "checksum mismatch")
		return
	}
	if version != "" {
		b.mu.Lock()
		b.firmware = version
		b.mu.Unlock()
	}
	report("success", 100, "")
}

func (s *simulator) publish(binID, kind string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("binsim: marshal %s: %v", kind, err)
		return
	}
	topic := fmt.Sprintf("%s/bins/%s/%s", s.prefix, binID, kind)
	if err := s.client.Publish(topic, data); err != nil {
		log.Printf("binsim: publish %s: %v", topic, err)
	}
}

func round1(f float64) float64 { return float64(int(f*10+0.5)) / 10 }
func round2(f float64) float64 { return float64(int(f*100+0.5)) / 100 }
