// Command callbridge-agent runs the agent's side of a call: it logs in to
// the callbridge server, brings up a local SIP endpoint for the provider to
// route the agent leg to, places one outbound call, and follows it until it
// ends.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/callbridge/callbridge/internal/agent"
	"github.com/callbridge/callbridge/internal/agent/sipphone"
)

type options struct {
	serverURL    string
	username     string
	password     string
	sipIP        string
	sipPort      int
	sipTransport string
	dialNumber   string
	logLevel     string
}

func parseFlags() *options {
	o := &options{}

	flag.StringVar(&o.serverURL, "server", "http://localhost:8080", "Callbridge server base URL")
	flag.StringVar(&o.username, "username", "agent", "Agent username")
	flag.StringVar(&o.password, "password", "", "Agent password (or CALLBRIDGE_AGENT_PASSWORD)")
	flag.StringVar(&o.sipIP, "sip-ip", "0.0.0.0", "Local SIP listen address, must be reachable by the provider")
	flag.IntVar(&o.sipPort, "sip-port", 5060, "Local SIP listen port")
	flag.StringVar(&o.sipTransport, "sip-transport", "udp", "SIP transport (udp or tcp)")
	flag.StringVar(&o.dialNumber, "dial", "", "Phone number to call")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	if o.password == "" {
		o.password = os.Getenv("CALLBRIDGE_AGENT_PASSWORD")
	}
	return o
}

func main() {
	opts := parseFlags()
	if opts.dialNumber == "" {
		fmt.Fprintln(os.Stderr, "error: -dial is required")
		os.Exit(1)
	}
	if opts.password == "" {
		fmt.Fprintln(os.Stderr, "error: -password or CALLBRIDGE_AGENT_PASSWORD is required")
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(opts, logger); err != nil {
		slog.Error("agent exited with error", "error", err)
		os.Exit(1)
	}
}

func run(opts *options, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	phone, err := sipphone.New(sipphone.Config{
		ListenIP:   opts.sipIP,
		ListenPort: opts.sipPort,
		Transport:  opts.sipTransport,
		Username:   opts.username,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating softphone: %w", err)
	}
	defer phone.Close()

	go func() {
		if err := phone.Start(ctx); err != nil && ctx.Err() == nil {
			slog.Error("sip listener stopped", "error", err)
		}
	}()

	client := agent.NewClient(opts.serverURL, logger)
	if err := client.Login(ctx, opts.username, opts.password); err != nil {
		return err
	}

	ended := make(chan struct{})
	controller := agent.NewController(client, phone, logger,
		agent.WithStateListener(func(s agent.State) {
			slog.Info("call state changed", "state", string(s))
			if s == agent.StateEnded {
				close(ended)
			}
		}),
	)

	eventCh, err := client.Events(ctx)
	if err != nil {
		return err
	}
	go func() {
		for ev := range eventCh {
			controller.HandleServerEvent(ev)
		}
	}()

	sessionID, err := controller.Dial(ctx, opts.dialNumber)
	if err != nil {
		return err
	}
	slog.Info("call started", "session_id", sessionID, "to", opts.dialNumber)

	select {
	case <-ended:
	case sig := <-sigCh:
		slog.Info("received signal, hanging up", "signal", sig.String())
		if err := controller.HangupLocal(ctx); err != nil {
			slog.Warn("hangup failed", "error", err)
		}
	}

	if err := controller.Err(); err != nil {
		return fmt.Errorf("call ended abnormally: %w", err)
	}
	slog.Info("call finished")
	return nil
}
