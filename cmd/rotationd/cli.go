// cmd/rotationd/cli.go

package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/courtkit/rotation/internal/config"
	"github.com/courtkit/rotation/internal/database"
	"github.com/courtkit/rotation/internal/handlers"
	"github.com/courtkit/rotation/internal/rules"
	"github.com/courtkit/rotation/internal/session"
	"github.com/courtkit/rotation/internal/share"
	"github.com/courtkit/rotation/internal/storage"
	"github.com/courtkit/rotation/pkg/core"
)

// runCommand handles the one-shot subcommands. These run against the
// loaded config but never start listeners or background workers.
func runCommand(name string, args []string) error {
	switch name {
	case "setupdb":
		return cmdSetupDB()
	case "demo":
		return cmdDemo()
	case "export":
		return cmdExport(args)
	case "import":
		return cmdImport(args)
	default:
		return fmt.Errorf("unknown command %q (want setupdb, demo, export or import)", name)
	}
}

// consoleLogger writes human-readable log lines to stderr so command
// output on stdout stays clean for piping.
func consoleLogger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()
}

// openBackend builds and initializes the configured storage backend for
// a one-shot command.
func openBackend(log zerolog.Logger) (storage.Backend, error) {
	backend, err := storage.NewBackend(config.GetStorageConfig(), log)
	if err != nil {
		return nil, err
	}
	if err := backend.Init(); err != nil {
		return nil, err
	}
	return backend, nil
}

// cmdSetupDB connects to the configured database and migrates the
// schema, so the daemon can start against a ready instance.
func cmdSetupDB() error {
	log := consoleLogger()

	m := database.NewManager(log)
	if err := m.Connect(); err != nil {
		return err
	}
	defer m.Close()

	if err := m.Setup(); err != nil {
		return err
	}
	log.Info().Msg("Database schema ready")
	return nil
}

// cmdExport loads a saved formation from the configured backend and
// prints its share code.
func cmdExport(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: rotationd export <formation-name>")
	}

	backend, err := openBackend(consoleLogger())
	if err != nil {
		return err
	}
	defer backend.Close()

	f, err := backend.LoadFormation(args[0])
	if err != nil {
		return err
	}
	code, err := share.Encode(*f)
	if err != nil {
		return err
	}
	fmt.Println(code)
	return nil
}

// cmdImport decodes a share code and prints the formation as JSON.
// With -save the formation is also persisted to the configured backend.
func cmdImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	save := fs.Bool("save", false, "persist the decoded formation to the configured backend")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: rotationd import [-save] <code>")
	}

	f, err := share.Decode(fs.Arg(0))
	if err != nil {
		return err
	}

	if *save {
		backend, err := openBackend(consoleLogger())
		if err != nil {
			return err
		}
		defer backend.Close()
		if err := backend.SaveFormation(&f); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// cmdDemo runs a stock 5-1 lineup through all six rotations in-process
// and prints each lineup with its verdict.
func cmdDemo() error {
	sessions := session.NewManager(session.Dependencies{}, session.Config{
		Engine: rules.DefaultConfig(),
	})
	svc := handlers.NewService(handlers.Dependencies{Sessions: sessions})

	f := demoFormation()
	resp, err := svc.CreateSession(handlers.CreateSessionRequest{
		SessionID: "demo",
		Formation: &f,
	})
	if err != nil {
		return err
	}

	names := make(map[string]string, len(f.Players))
	for _, p := range f.Players {
		names[p.PlayerID] = fmt.Sprintf("%s (%s)", p.Name, p.Role)
	}

	fmt.Printf("formation %q, system %s\n", f.Name, f.System)

	states := resp.States
	result := resp.Result
	for rotation := 1; ; rotation++ {
		printLineup(rotation, names, states, result)
		if rotation == 6 {
			return nil
		}

		rot, err := svc.Rotate("demo")
		if err != nil {
			return err
		}
		states = rot.States
		result, err = svc.ValidateLineup("demo")
		if err != nil {
			return err
		}
	}
}

func printLineup(rotation int, names map[string]string, states []core.PlayerState, result core.ValidationResult) {
	verdict := "legal"
	if !result.IsLegal {
		verdict = fmt.Sprintf("%d violation(s)", len(result.Violations))
	}
	fmt.Printf("\nrotation %d: %s\n", rotation, verdict)
	for _, st := range states {
		marker := " "
		if st.IsServer {
			marker = "*"
		}
		fmt.Printf("  %s slot %d  %-14s (%.1f, %.1f)\n", marker, st.Slot, names[st.ID], st.X, st.Y)
	}
	for _, v := range result.Violations {
		fmt.Printf("    %s: %s\n", v.Code, v.Message)
	}
}

// demoFormation is a stock 5-1 in its base alignment, setter at slot 1.
func demoFormation() core.Formation {
	return core.Formation{
		Name:       "demo 5-1",
		System:     "5-1",
		ServerSlot: 1,
		Players: []core.FormationPlayer{
			{PlayerID: "p1", Name: "Sora", Role: "S", Slot: 1, X: 7, Y: 7},
			{PlayerID: "p2", Name: "Wren", Role: "OH", Slot: 2, X: 7, Y: 3},
			{PlayerID: "p3", Name: "Mika", Role: "MB", Slot: 3, X: 4.5, Y: 3},
			{PlayerID: "p4", Name: "Orla", Role: "OPP", Slot: 4, X: 2, Y: 3},
			{PlayerID: "p5", Name: "Hale", Role: "OH", Slot: 5, X: 2, Y: 7},
			{PlayerID: "p6", Name: "Beck", Role: "MB", Slot: 6, X: 4.5, Y: 7},
		},
	}
}
