package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wolfman30/symptom-assessment-engine/internal/app/bootstrap"
	"github.com/wolfman30/symptom-assessment-engine/internal/catalog"
	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
	"github.com/wolfman30/symptom-assessment-engine/internal/dialogue"
)

type simulateOptions struct {
	channel     string
	patientID   string
	patientName string
	postOpDay   int
	clinic      string
	assistant   string
	showReport  bool
}

func newSimulateCmd() *cobra.Command {
	opts := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one assessment interactively against in-memory stores",
		Long: `Reads patient answers line by line from stdin. On a score question a
number from 0 to 10 is sent as a button press; anything else is free text.
"/end" asks to finish early and "/quit" abandons the session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSimulation(cmd.Context(), cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.channel, "channel", string(catalog.ChannelChat), "chat or voice")
	f.StringVar(&opts.patientID, "patient", "P001", "patient id")
	f.StringVar(&opts.patientName, "name", "", "patient display name")
	f.IntVar(&opts.postOpDay, "post-op-day", -1, "days since surgery (omitted when negative)")
	f.StringVar(&opts.clinic, "clinic", "術後關懷中心", "clinic name used in the greeting")
	f.StringVar(&opts.assistant, "assistant", "小安", "assistant name used in the greeting")
	f.BoolVar(&opts.showReport, "report", true, "print the saved assessment when the session completes")
	return cmd
}

func simulationConfig(opts simulateOptions) *appconfig.Config {
	return &appconfig.Config{
		UseMemoryStores:  true,
		UseMemoryQueue:   true,
		SessionTTL:       time.Hour,
		SessionLockTTL:   5 * time.Second,
		TurnResultTTL:    time.Hour,
		TranscriptLimit:  200,
		CatalogPath:      catalogPath,
		TemplatesPath:    templatesPath,
		TemplateCacheTTL: time.Minute,
		ClinicName:       opts.clinic,
		AssistantName:    opts.assistant,
		ReplayInterval:   time.Minute,
		OutboxInterval:   time.Minute,
		EmailProvider:    "stub",
	}
}

func runSimulation(ctx context.Context, cmd *cobra.Command, opts simulateOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ch := catalog.Channel(opts.channel)
	if !ch.Valid() {
		return fmt.Errorf("unknown channel %q", opts.channel)
	}

	cfg := simulationConfig(opts)
	rt, err := bootstrap.BuildRuntime(ctx, cfg, bootstrap.Clients{}, cliLogger(cmd))
	if err != nil {
		return err
	}

	req := dialogue.StartRequest{PatientID: opts.patientID, PatientName: opts.patientName, Channel: ch}
	if opts.postOpDay >= 0 {
		day := opts.postOpDay
		req.PostOpDay = &day
	}
	res, err := rt.Engine.StartSession(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printTurn(out, cfg.AssistantName, res)

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for !res.Terminal {
		var ev dialogue.Event
		if res.Expect == dialogue.ExpectNone {
			// Closing prompts that take no answer end the session like the voice channel does.
			ev = dialogue.End()
		} else if scanner.Scan() {
			ev = eventFor(scanner.Text(), res.Expect)
		} else {
			ev = dialogue.Abandon()
		}
		res, err = rt.Engine.SubmitTurn(ctx, res.SessionID, ch, ev)
		if err != nil {
			return err
		}
		printTurn(out, cfg.AssistantName, res)
	}

	fmt.Fprintf(out, "-- session %s ended in %s (alert %s)\n", res.SessionID, res.State, res.AlertLevel)
	if res.PersistenceDeferred {
		fmt.Fprintln(out, "-- report persistence deferred for replay")
	}
	if !opts.showReport || res.ReportID == "" {
		return nil
	}
	report, err := rt.Reports.Get(ctx, res.ReportID)
	if err != nil {
		return fmt.Errorf("load report %s: %w", res.ReportID, err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

// eventFor turns one typed line into the event a channel adapter would send.
func eventFor(line string, expect dialogue.Expect) dialogue.Event {
	text := strings.TrimSpace(line)
	switch text {
	case "/end":
		return dialogue.End()
	case "/quit":
		return dialogue.Abandon()
	case "":
		return dialogue.NoInput()
	}
	if expect == dialogue.ExpectScore {
		if n, err := strconv.Atoi(text); err == nil && n >= 0 && n <= catalog.MaxScore {
			return dialogue.ButtonScore(n)
		}
	}
	return dialogue.FreeText(text)
}

func printTurn(w io.Writer, assistant string, res *dialogue.TurnResult) {
	fmt.Fprintf(w, "%s: %s\n", assistant, res.Message)
	if len(res.TemplateIDs) > 0 {
		fmt.Fprintf(w, "   [templates: %s]\n", strings.Join(res.TemplateIDs, ", "))
	}
}
