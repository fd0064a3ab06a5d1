package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/VoiceCoach/internal/adapters/rtc"
	"github.com/dkeye/VoiceCoach/internal/client"
	"github.com/dkeye/VoiceCoach/internal/domain"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voicectl: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		server   string
		stun     []string
		ttl      time.Duration
		logLevel string
	)
	flagSet := pflag.NewFlagSet("voicectl", pflag.ContinueOnError)
	flagSet.StringVarP(&server, "server", "s", "http://localhost:8080", "VoiceCoach server base URL")
	flagSet.StringSliceVar(&stun, "stun", []string{rtc.DefaultICEServer}, "ICE servers for the room connection")
	flagSet.DurationVar(&ttl, "ttl", 10*time.Minute, "countdown used when the server reports none")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("bad --log-level: %w", err)
	}
	zerolog.SetGlobalLevel(lvl)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api, err := client.NewAPIClient(server, 30*time.Second)
	if err != nil {
		return err
	}
	// The first request sets the client-token cookie the events stream reuses.
	if _, err := api.Status(ctx); err != nil {
		return fmt.Errorf("server unreachable: %w", err)
	}

	machine := client.NewMachine(client.MachineConfig{
		Transport: rtc.NewTransport(rtc.WebRTCConfig(stun), nil),
		Backend:   api,
		TTL:       ttl,
	})

	inbox := client.NewInbox()
	go streamEvents(ctx, client.NewEventStream(api.BaseURL(), api.Jar()), inbox)
	go func() {
		_ = inbox.Run(ctx, func(msg domain.BroadcastMessage) {
			printMessage(msg)
			machine.HandleMessage(ctx, msg)
		})
	}()
	go printEvents(ctx, machine)

	commands := make(chan string)
	go readCommands(commands)

	fmt.Println("voicectl ready: start | stop | mute | unmute | status | quit")
	for {
		select {
		case <-ctx.Done():
			machine.Stop(context.Background(), domain.ReasonUserStop)
			return nil
		case cmd, ok := <-commands:
			if !ok || cmd == "quit" || cmd == "exit" {
				machine.Stop(context.Background(), domain.ReasonUserStop)
				return nil
			}
			dispatch(ctx, machine, api, cmd)
		}
	}
}

func dispatch(ctx context.Context, m *client.Machine, api *client.APIClient, cmd string) {
	switch cmd {
	case "":
	case "start":
		go func() {
			if err := m.Start(ctx); err != nil {
				fmt.Printf("start failed: %v\n", err)
			}
		}()
	case "stop":
		go m.Stop(ctx, domain.ReasonUserStop)
	case "mute", "unmute":
		if err := m.SetMuted(ctx, cmd == "mute"); err != nil {
			fmt.Printf("%s failed: %v\n", cmd, err)
		}
	case "status":
		st, err := api.Status(ctx)
		if err != nil {
			fmt.Printf("status failed: %v\n", err)
			return
		}
		fmt.Printf("state=%s muted=%v remaining=%s server_active=%v session=%s\n",
			m.State(), m.Muted(), m.Remaining().Round(time.Second), st.Active, st.SessionID)
	default:
		fmt.Printf("unknown command %q\n", cmd)
	}
}

func readCommands(out chan<- string) {
	defer close(out)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		out <- strings.ToLower(strings.TrimSpace(sc.Text()))
	}
}

// streamEvents keeps the events channel open, reconnecting with backoff.
func streamEvents(ctx context.Context, s *client.EventStream, inbox *client.Inbox) {
	backoff := time.Second
	for {
		err := s.Run(ctx, inbox.Deliver)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn().Err(err).Str("module", "client").Dur("retry_in", backoff).Msg("events stream dropped")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func printMessage(msg domain.BroadcastMessage) {
	switch msg.Type {
	case domain.MessageDataEvent:
		fmt.Printf("answer=%v transcript=%q\n", msg.Payload["answer"], msg.Payload["transcription"])
	case domain.MessageTermination:
		fmt.Printf("termination: %s\n", msg.Reason())
	}
}

func printEvents(ctx context.Context, m *client.Machine) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.Events():
			switch e := ev.(type) {
			case client.StateChanged:
				fmt.Printf("state: %s\n", e)
			case client.Error:
				fmt.Printf("error: %s\n", e.Message)
			case client.GoodbyeDetected:
				fmt.Println("goodbye detected")
			case client.VoiceLevel:
				log.Debug().Str("module", "client").Float64("level", e.Level).Msg("voice level")
			}
		}
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `voicectl: headless VoiceCoach client.

Starts and stops voice sessions against a VoiceCoach server, joins the
room over WebRTC and prints agent answers as they arrive. Commands are
read from stdin, one per line: start, stop, mute, unmute, status, quit.

Usage:
  voicectl [flags]

Flags:
`)
	flagSet.PrintDefaults()
}
