package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/kbotics/kbot/comms"
	. "github.com/kbotics/kbot/onboard"
	"github.com/kbotics/kbot/onboard/hardware"
)

type EnvConfig struct {
	CONFIG    string `env:"KBOT_CONFIG" envDefault:"./kbot_config.yaml"`
	DATADIR   string `env:"KBOT_DATA" envDefault:"./tmp"`
	DEBUG     bool   `env:"DEBUG" envDefault:"0"`
	DB        *storm.DB
	Store     *CalibrationStore
	Conductor *comms.Conductor
	Simulated bool
}

var (
	ENV *EnvConfig
)

func init() {
	ENV = new(EnvConfig)
	env.Parse(ENV)

	dbFile, _ := filepath.Abs(filepath.Join(ENV.DATADIR, "kbot.db"))
	dir := filepath.Dir(dbFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		os.Mkdir(dir, 0755)
	}

	db, err := storm.Open(dbFile)
	if err != nil {
		panic(err)
	}
	ENV.DB = db

	ENV.Store, err = NewCalibrationStore(db)
	if err != nil {
		panic(err)
	}
}

// controller owns the tick loop. Incoming setpoints are staged in a
// latest-wins map and drained once per tick, so a chatty client can never
// push the bank faster than the configured cadence.
type controller struct {
	bot *KBot

	mu      sync.Mutex
	pending map[int]hardware.Command

	stop chan struct{}
	done chan struct{}
}

func newController(bot *KBot) *controller {
	return &controller{
		bot:     bot,
		pending: make(map[int]hardware.Command),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (ctl *controller) run(interval time.Duration) {
	defer close(ctl.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctl.stop:
			return
		case <-ticker.C:
			ctl.bot.Coordinator.Tick(ctl.drain())
		}
	}
}

func (ctl *controller) drain() map[int]hardware.Command {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()

	batch := ctl.pending
	ctl.pending = make(map[int]hardware.Command)
	return batch
}

func (ctl *controller) QueueCommand(id int, cmd hardware.Command) {
	ctl.mu.Lock()
	defer ctl.mu.Unlock()
	ctl.pending[id] = cmd
}

func (ctl *controller) withActuator(id int, op func(*hardware.Actuator) error) error {
	a, ok := ctl.bot.Coordinator.Actuator(id)
	if !ok {
		return fmt.Errorf("no such actuator %d", id)
	}
	return op(a)
}

func (ctl *controller) Enable(id int) error {
	return ctl.withActuator(id, (*hardware.Actuator).Enable)
}

func (ctl *controller) Disable(id int) error {
	return ctl.withActuator(id, (*hardware.Actuator).Disable)
}

func (ctl *controller) ClearFault(id int) error {
	return ctl.withActuator(id, (*hardware.Actuator).ClearFault)
}

func (ctl *controller) Zero(id int) error {
	return ctl.bot.ZeroActuator(id)
}

func (ctl *controller) Rearm() {
	ctl.bot.Health.Rearm()
}

func (ctl *controller) Channels() []string {
	return ctl.bot.Mux.Channels()
}

func (ctl *controller) Close() {
	close(ctl.stop)
	<-ctl.done
	ctl.bot.Close()
}

func main() {
	simulated := flag.Bool("sim", false, "Run the device in simulator mode")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	configPath := flag.String("config", "", "Override the device config path")
	flag.Parse()

	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	defer ENV.DB.Close()

	filename := ENV.CONFIG
	if *configPath != "" {
		filename = *configPath
	}
	filename, err := filepath.Abs(filename)
	if err != nil {
		panic(err)
	}

	config, err := ReadConfig(filename)
	if err != nil {
		panic(fmt.Sprintf("Unable to load device config: %v", err))
	}

	var bot *KBot
	ENV.Simulated = *simulated
	if ENV.Simulated {
		println("Creating simulator")
		bot, err = NewSimulatedKBot(config, ENV.Store)
	} else {
		bot, err = NewKBot(config, ENV.Store)
	}
	if err != nil {
		panic(fmt.Sprintf("Unable to initialize kbot: %v", err))
	}

	ctl := newController(bot)
	defer ctl.Close()

	ENV.Conductor = comms.NewConductor(ctl)
	bot.Coordinator.AttachRecorder(ENV.Conductor)

	go ctl.run(config.TickInterval())

	//---
	// Create a local shell
	//---
	{
		actuatorIDs := func([]string) []string {
			ids := bot.Coordinator.ActuatorIDs()
			names := make([]string, 0, len(ids))
			for _, id := range ids {
				names = append(names, strconv.Itoa(id))
			}
			return names
		}

		argID := func(c *ishell.Context) (int, bool) {
			if len(c.Args) < 1 {
				c.Err(fmt.Errorf("usage: %s <id>", c.Cmd.Name))
				return 0, false
			}
			id, err := strconv.Atoi(c.Args[0])
			if err != nil {
				c.Err(err)
				return 0, false
			}
			return id, true
		}

		shell := ishell.New()
		shell.Println("K-Bot development shell")
		shell.ShowPrompt(true)

		shell.AddCmd(&ishell.Cmd{
			Name: "state",
			Help: "Print the latest tick snapshot",
			Func: func(c *ishell.Context) {
				snap := bot.Coordinator.LastSnapshot()
				c.Printf("tick %d at %s\n", snap.Tick, snap.Time.Format(time.RFC3339))
				for _, id := range bot.Coordinator.ActuatorIDs() {
					st := snap.Actuators[id]
					if st == nil {
						continue
					}
					c.Printf("  %2d  %-13s %-11s pos=%+.3f stale=%v\n",
						id, st.State, st.Health, st.Feedback.Position, st.Stale)
				}
				if snap.PowerFault != "" {
					c.Printf("  POWER FAULT: %s\n", snap.PowerFault)
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "enable",
			Completer: actuatorIDs,
			Help:      "enable <id>",
			Func: func(c *ishell.Context) {
				if id, ok := argID(c); ok {
					if err := ctl.Enable(id); err != nil {
						c.Err(err)
					}
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "disable",
			Completer: actuatorIDs,
			Help:      "disable <id>",
			Func: func(c *ishell.Context) {
				if id, ok := argID(c); ok {
					if err := ctl.Disable(id); err != nil {
						c.Err(err)
					}
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "clear",
			Completer: actuatorIDs,
			Help:      "clear <id> - acknowledge a hardware fault",
			Func: func(c *ishell.Context) {
				if id, ok := argID(c); ok {
					if err := ctl.ClearFault(id); err != nil {
						c.Err(err)
					}
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "set",
			Completer: actuatorIDs,
			Help:      "set <id> <position> [velocity] [torque]",
			Func: func(c *ishell.Context) {
				id, ok := argID(c)
				if !ok {
					return
				}
				var cmd hardware.Command
				if len(c.Args) >= 2 {
					cmd.Position, _ = strconv.ParseFloat(c.Args[1], 64)
				}
				if len(c.Args) >= 3 {
					cmd.Velocity, _ = strconv.ParseFloat(c.Args[2], 64)
				}
				if len(c.Args) >= 4 {
					cmd.Torque, _ = strconv.ParseFloat(c.Args[3], 64)
				}
				c.Printf("Queueing actuator %d to P:%.3f V:%.3f T:%.3f\n",
					id, cmd.Position, cmd.Velocity, cmd.Torque)
				ctl.QueueCommand(id, cmd)
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name:      "zero",
			Completer: actuatorIDs,
			Help:      "zero <id> - record the current position as zero",
			Func: func(c *ishell.Context) {
				if id, ok := argID(c); ok {
					if err := ctl.Zero(id); err != nil {
						c.Err(err)
					} else {
						c.Printf("Actuator %d zeroed\n", id)
					}
				}
			},
		})

		shell.AddCmd(&ishell.Cmd{
			Name: "rearm",
			Help: "Clear a latched power fault and resume commanding",
			Func: func(c *ishell.Context) {
				ctl.Rearm()
				c.Println("Power fault cleared")
			},
		})

		// Start an instance of the shell so it can be controlled from the CLI
		go shell.Start()
	}

	//---
	// Build the API routes
	//---
	r.Route("/api", func(r chi.Router) {
		r.Get("/state", GetState(ctl))
		r.Get("/health", GetHealth(ctl))
		r.Post("/rearm", PostRearm(ctl))

		r.Route("/actuators/{id}", func(r chi.Router) {
			r.Post("/command", PostCommand(ctl))
			r.Post("/enable", PostEnable(ctl))
			r.Post("/disable", PostDisable(ctl))
			r.Post("/clear", PostClearFault(ctl))
			r.Post("/zero", PostZero(ctl))
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if ENV.DEBUG {
			fmt.Println("Running in debug mode.")
		}
		r.Get("/state", ENV.Conductor.ServeWS)
	})

	fmt.Println("Listening on port", *port)
	if err := http.ListenAndServe(*port, r); err != nil {
		log.Fatal(err)
	}
}
