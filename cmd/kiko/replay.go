package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kiko-hq/kiko/internal/model"
)

// maxReplayLine bounds one JSONL record. Long threads run to a few hundred
// kilobytes.
const maxReplayLine = 8 << 20

type replayOptions struct {
	file        string
	batch       string
	env         string
	concurrency int
}

func newReplayCmd(logger *slog.Logger) *cobra.Command {
	var opts replayOptions
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Run the email pipeline over recorded conversations",
		Long: `Replay reads one conversation record per line from a JSONL file and runs
the email pipeline over each, storing the runs under the given batch name.
Runs go to the labeling namespace unless --env production is given.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return replay(cmd.Context(), logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "JSONL file of conversation records (required)")
	cmd.Flags().StringVar(&opts.batch, "batch", "", "batch name recorded on every run (required)")
	cmd.Flags().StringVar(&opts.env, "env", string(model.EnvLabeling), "storage namespace: production or labeling")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "conversations processed in parallel")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

// emailProcessor is the pipeline surface replay drives.
type emailProcessor interface {
	ProcessEmail(ctx context.Context, req model.ProcessEmailRequest) (pipelineOutcome, error)
}

// pipelineOutcome is the part of a processed run replay reports.
type pipelineOutcome struct {
	RunID    int64
	Degraded int
}

func replay(ctx context.Context, logger *slog.Logger, opts replayOptions) error {
	env, err := model.ParseEnvironment(opts.env)
	if err != nil {
		return err
	}
	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer func() { _ = f.Close() }()

	convs, err := readConversations(f)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, logger)
	if err != nil {
		return err
	}
	defer a.close()

	return runReplay(ctx, logger, controllerProcessor{a}, convs, env, opts.batch, opts.concurrency)
}

// controllerProcessor adapts the pipeline controller to emailProcessor.
type controllerProcessor struct{ a *app }

func (p controllerProcessor) ProcessEmail(ctx context.Context, req model.ProcessEmailRequest) (pipelineOutcome, error) {
	out, err := p.a.pipeline.ProcessEmail(ctx, req)
	if err != nil {
		return pipelineOutcome{}, err
	}
	return pipelineOutcome{RunID: out.Run.ID, Degraded: len(out.SideEffects.Issues)}, nil
}

// runReplay processes every conversation. A failed conversation is logged
// and counted; the batch continues.
func runReplay(ctx context.Context, logger *slog.Logger, p emailProcessor, convs []model.Conversation,
	env model.Environment, batch string, concurrency int) error {
	if concurrency < 1 {
		concurrency = 1
	}
	var processed, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, conv := range convs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := p.ProcessEmail(gctx, model.ProcessEmailRequest{
				Conversation: conv,
				Env:          env,
				BatchName:    &batch,
			})
			if err != nil {
				failed.Add(1)
				logger.Error("replay: conversation failed", "conversation_id", conv.ID, "error", err)
				return nil
			}
			processed.Add(1)
			logger.Info("replay: conversation processed",
				"conversation_id", conv.ID, "run_id", out.RunID, "degraded", out.Degraded)
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("replay: batch complete", "batch", batch, "env", env,
		"processed", processed.Load(), "failed", failed.Load(), "total", len(convs))
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("replay: interrupted: %w", err)
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("replay: %d of %d conversations failed", n, len(convs))
	}
	return nil
}

// readConversations parses a JSONL stream of conversation records. Blank
// lines are skipped.
func readConversations(r io.Reader) ([]model.Conversation, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxReplayLine)

	var convs []model.Conversation
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var c model.Conversation
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", line, err)
		}
		convs = append(convs, c)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("replay: read: %w", err)
	}
	return convs, nil
}
