// streamwatch connects to the governance event gateway and streams decoded
// events to console.
// Usage: go run ./cmd/streamwatch --endpoint wss://stream.dvote.io/v1/ws --channels proposals,votes
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dvote-labs/dvote-stream/internal/config"
	"github.com/dvote-labs/dvote-stream/internal/model"
	"github.com/dvote-labs/dvote-stream/internal/realtime"
	"github.com/dvote-labs/dvote-stream/internal/wire"
)

func main() {
	endpoint := flag.String("endpoint", config.DefaultGatewayURL, "gateway WebSocket endpoint")
	channelList := flag.String("channels", "proposals,votes,members,treasury", "comma-separated channels to watch")
	verbose := flag.Bool("verbose", false, "print full frame JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sess := realtime.NewSession(realtime.Config{URL: *endpoint}, logger)

	// Watch the named channels plus unchanneled broadcast frames.
	handler := func(msg wire.Message) {
		printEvent(msg, *verbose)
	}
	for _, ch := range strings.Split(*channelList, ",") {
		ch = strings.TrimSpace(ch)
		if ch == "" {
			continue
		}
		sess.Subscribe(ch, "watch", handler)
	}
	sess.Subscribe(realtime.BroadcastChannel, "watch", handler)

	if err := sess.Connect(ctx); err != nil {
		logger.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := sess.Stats()
				logger.Info("stats",
					"state", stats.State,
					"connects", stats.Connects,
					"frames_received", stats.FramesReceived,
					"events_dispatched", stats.EventsDispatched,
					"parse_errors", stats.ParseErrors,
					"queue_depth", stats.QueueDepth,
				)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")
	sess.Disconnect()

	logger.Info("shutdown complete")
}

func printEvent(msg wire.Message, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(msg, "", "  ")
		fmt.Printf("[EVENT] %s\n", data)
		return
	}

	decoded, err := model.Decode(msg.Type, msg.Payload)
	if err != nil {
		// Outside the platform vocabulary, show the raw frame
		fmt.Printf("[%s] channel=%s payload=%s\n", strings.ToUpper(msg.Type), msg.Channel, msg.Payload)
		return
	}

	switch ev := decoded.(type) {
	case model.ProposalCreated:
		fmt.Printf("[PROPOSAL CREATED] id=%d proposer=%s title=%q\n", ev.ID, ev.Proposer, ev.Title)
	case model.VoteCast:
		fmt.Printf("[VOTE] proposal=%d voter=%s choice=%s weight=%s\n", ev.ID, ev.Voter, choiceLabel(ev.Choice), ev.Weight)
	case model.ProposalFinalized:
		fmt.Printf("[PROPOSAL FINALIZED] id=%d state=%d\n", ev.ID, ev.State)
	case model.ProposalExecuted:
		fmt.Printf("[PROPOSAL EXECUTED] id=%d executor=%s\n", ev.ID, ev.Executor)
	case model.ProposalCancelled:
		fmt.Printf("[PROPOSAL CANCELLED] id=%d by=%s\n", ev.ID, ev.CancelledBy)
	case model.MemberAdded:
		fmt.Printf("[MEMBER ADDED] member=%s\n", ev.Member)
	case model.KycVerified:
		fmt.Printf("[KYC VERIFIED] member=%s verifier=%s\n", ev.Member, ev.Verifier)
	case model.TreasuryDeposit:
		fmt.Printf("[TREASURY DEPOSIT] from=%s amount=%s\n", ev.From, ev.Amount)
	case model.TreasuryWithdrawal:
		fmt.Printf("[TREASURY WITHDRAWAL] id=%d recipient=%s amount=%s\n", ev.WithdrawalID, ev.Recipient, ev.Amount)
	}
}

func choiceLabel(choice int) string {
	switch choice {
	case model.ChoiceFor:
		return "for"
	case model.ChoiceAgainst:
		return "against"
	case model.ChoiceAbstain:
		return "abstain"
	default:
		return fmt.Sprintf("unknown(%d)", choice)
	}
}
