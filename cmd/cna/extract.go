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
	dErrors "cna/pkg/domain-errors"
)

var errExtractionFailed = errors.New("recognition did not complete")

type extractFailure struct {
	Error     string `json:"error"`
	ErrorType string `json:"errorType"`
}

func newExtractCmd(configPath *string) *cobra.Command {
	var inputPath string
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Recognize documents and print the extracted patient data",
		Long: `Reads {"images": [...], "file_paths": [...], "text": "..."} (optionally
wrapped in "imageData") from stdin (or --input), extracts each item and writes
the ingestion result as one JSON object. No assessment is run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			in := cmd.InOrStdin()
			if inputPath != "" {
				f, err := os.Open(inputPath)
				if err != nil {
					return writeExtractFailure(cmd.OutOrStdout(), dErrors.Wrap(err, dErrors.CodeInputFormat, "open input"))
				}
				defer f.Close()
				in = f
			}
			return runExtract(cmd.Context(), *configPath, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "read the input document from a file instead of stdin")
	return cmd
}

func runExtract(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	batch, err := intake.DecodeBatch(in)
	if err != nil {
		return writeExtractFailure(out, err)
	}

	a, err := loadApp(ctx, configPath)
	if err != nil {
		return writeExtractFailure(out, dErrors.Wrap(err, dErrors.CodeInternal, "startup failed"))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.WarnContext(ctx, "failed to close audit sinks", "error", err)
		}
	}()

	timeout, err := a.cfg.StageTimeout()
	if err != nil {
		return writeExtractFailure(out, dErrors.Wrap(err, dErrors.CodeInternal, "startup failed"))
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := a.recognizer.Extract(ctx, batch)
	if err != nil {
		code := dErrors.CodeStageExecution
		if errors.Is(err, context.DeadlineExceeded) {
			code = dErrors.CodeTimeout
		}
		return writeExtractFailure(out, dErrors.Wrap(err, code, "recognition failed"))
	}
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	return enc.Encode(result)
}

// writeExtractFailure writes the error object and returns errExtractionFailed.
func writeExtractFailure(out io.Writer, err error) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	if encErr := enc.Encode(extractFailure{Error: err.Error(), ErrorType: pipeline.ErrorType(err)}); encErr != nil {
		return encErr
	}
	return errExtractionFailed
}
