package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cna/internal/intake"
	"cna/internal/pipeline"
	platformmetrics "cna/internal/platform/metrics"
)

// errAssessmentFailed makes the process exit 1 after the envelope is written.
var errAssessmentFailed = errors.New("assessment did not complete")

func newAssessCmd(configPath *string) *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "assess",
		Short: "Run one assessment over a JSON document and print the result",
		Long: `Reads a patient object, a list of per-document extracts, or
{"patientData": ..., "imageData": ...} from stdin (or --input) and writes
exactly one JSON object to stdout. Exits 1 when that object carries "error".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if inputPath != "" {
				f, err := os.Open(inputPath)
				if err != nil {
					return writeResult(cmd.OutOrStdout(), pipeline.InputFailure(err))
				}
				defer f.Close()
				in = f
			}
			return runAssess(cmd.Context(), *configPath, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "read the input document from a file instead of stdin")
	return cmd
}

func runAssess(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	req, err := intake.Decode(in)
	if err != nil {
		return writeResult(out, pipeline.InputFailure(err))
	}

	a, err := loadApp(ctx, configPath)
	if err != nil {
		return writeResult(out, pipeline.StartupFailure(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.WarnContext(ctx, "failed to close audit sinks", "error", err)
		}
	}()

	result := a.pipeline.Run(ctx, req)

	pusher := platformmetrics.NewPusher(a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, a.registry)
	if err := pusher.Push(ctx, result.SessionID); err != nil {
		a.logger.WarnContext(ctx, "metrics push failed", "session_id", result.SessionID, "error", err)
	}
	return writeResult(out, result)
}

func writeResult(out io.Writer, result *pipeline.Result) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(result.Envelope()); err != nil {
		return err
	}
	if result.Failed() {
		return errAssessmentFailed
	}
	return nil
}
