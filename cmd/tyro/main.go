package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tyrochess/tyro/config"
	"github.com/tyrochess/tyro/game"
	"github.com/tyrochess/tyro/nn"
	"github.com/tyrochess/tyro/replay"
	"github.com/tyrochess/tyro/selfplay"
	"github.com/tyrochess/tyro/store"
	"github.com/tyrochess/tyro/viewer"
)

func main() {
	configPath := flag.String("config", "options.txt", "Path to the options file")
	useTUI := flag.Bool("tui", false, "Show a live status dashboard instead of the REPL")
	flag.Parse()

	if err := config.Load(*configPath); err != nil {
		// Config trouble is never fatal: run on defaults.
		log.Printf("config: %v (continuing with defaults)", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	network := nn.New()
	modelPath := config.Str("model_path", "model.bin")
	if _, err := os.Stat(modelPath); err == nil {
		if err := network.Read(modelPath); err != nil {
			log.Printf("model: %v (continuing with fresh weights)", err)
		} else {
			log.Printf("loaded model %s at generation %d", modelPath, network.Generation())
		}
	} else {
		log.Printf("no model at %s, starting from generation 0", modelPath)
	}

	buffer := replay.New(game.ObsSize, game.PolicySize,
		config.Int("replaybuffer_size", 512),
		rand.New(rand.NewSource(time.Now().UnixNano())))

	newEnv := func() selfplay.GameEnvironment { return game.NewEnv() }

	engine := selfplay.NewEngine(selfplay.EngineConfigFromOptions(), network, newEnv, buffer)
	controller := selfplay.NewController(engine, network, newEnv)

	var archive *store.Writer
	if dir := config.Str("archive_dir", ""); dir != "" {
		archive = store.NewWriter(dir, config.Int("archive_games_per_flush", 50))
	}

	var view *viewer.Server
	if addr := config.Str("viewer_addr", ""); addr != "" {
		view = viewer.New(addr, func() viewer.Stats {
			return viewer.Stats{
				Status:      engine.Status().String(),
				Generation:  network.Generation(),
				BufferCount: buffer.Count(),
				BufferSize:  buffer.Size(),
				GamesPlayed: engine.GamesPlayed(),
				Partials:    engine.Partials(),
				TNs:         time.Now().UnixNano(),
			}
		})
	}

	engine.OnGameFinished = func(g selfplay.FinishedGame) {
		if archive != nil {
			archive.Record(g)
		}
		if view != nil {
			view.NotifyGame(g)
		}
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("engine: %v", err)
	}
	controller.Start()

	group, groupCtx := errgroup.WithContext(ctx)
	if view != nil {
		group.Go(func() error { return view.Run(groupCtx) })
	}

	if *useTUI {
		group.Go(func() error { return runTUI(groupCtx, engine, network, buffer, stop) })
	} else {
		group.Go(func() error { return runREPL(groupCtx, engine, network, stop) })
	}

	<-ctx.Done()
	log.Printf("shutting down; waiting for workers to finish their iteration")

	if err := engine.Stop(); err != nil {
		log.Printf("stop: %v", err)
	}
	controller.Wait()
	if archive != nil {
		archive.Close()
	}
	if err := group.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Printf("shutdown complete (games=%d, generation=%d)", engine.GamesPlayed(), network.Generation())
}

// runREPL serves the operator commands: write, read, pgn, status, quit.
func runREPL(ctx context.Context, engine *selfplay.Engine, network *nn.Network, stop func()) error {
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("commands: write <path> | read <path> | pgn [path] | status | quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}

			switch fields[0] {
			case "write":
				if len(fields) < 2 {
					fmt.Println("usage: write <path>")
					continue
				}
				if err := network.Write(fields[1]); err != nil {
					fmt.Printf("write: %v\n", err)
				} else {
					fmt.Printf("wrote generation %d to %s\n", network.Generation(), fields[1])
				}
			case "read":
				if len(fields) < 2 {
					fmt.Println("usage: read <path>")
					continue
				}
				if err := network.Read(fields[1]); err != nil {
					fmt.Printf("read: %v\n", err)
				} else {
					fmt.Printf("now at generation %d\n", network.Generation())
				}
			case "pgn":
				pgn, err := engine.RequestPGN()
				if err != nil {
					fmt.Printf("pgn: %v\n", err)
					continue
				}
				if len(fields) >= 2 {
					if err := os.WriteFile(fields[1], []byte(pgn+"\n"), 0o644); err != nil {
						fmt.Printf("pgn: %v\n", err)
						continue
					}
					fmt.Printf("wrote game to %s\n", fields[1])
				} else {
					fmt.Println(pgn)
				}
			case "status":
				fmt.Printf("status: %s generation: %d games: %d buffer: %d/%d partials: %v\n",
					engine.Status(), network.Generation(), engine.GamesPlayed(),
					engine.Buffer().Count(), engine.Buffer().Size(), engine.Partials())
			case "quit":
				stop()
				return nil
			default:
				fmt.Printf("unknown command %q\n", fields[0])
			}
		}
	}
}
