package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	vision "github.com/Protocol-Lattice/go-vision"
	"github.com/Protocol-Lattice/go-vision/pkg/upload"
	"github.com/spf13/cobra"
)

type analyzeFlags struct {
	prompt     string
	promptFile string
	asJSON     bool
}

// analyzeReport is the --json output.
type analyzeReport struct {
	ID           string          `json:"id"`
	Model        string          `json:"model"`
	Text         string          `json:"text,omitempty"`
	InputTokens  int             `json:"input_tokens,omitempty"`
	OutputTokens int             `json:"output_tokens,omitempty"`
	StopReason   string          `json:"stop_reason,omitempty"`
	Rejections   []rejectionItem `json:"rejections,omitempty"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Err          string          `json:"error,omitempty"`
	Attempted    bool            `json:"attempted"`
	ElapsedMS    int64           `json:"elapsed_ms"`
}

type rejectionItem struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

func (a *app) analyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze [files...]",
		Short: "Analyze a prompt with optional image, PDF, text or CSV files",
		Example: `  vision analyze -p "Identify common creative elements" ad1.jpg ad2.jpg
  echo "Summarize" | vision analyze -f - report.pdf --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(f, cmd.InOrStdin())
			if err != nil {
				return err
			}
			files := make([]upload.Upload, 0, len(args))
			for _, path := range args {
				u, err := upload.FromPath(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", path, err)
				}
				files = append(files, u)
			}

			an, err := a.analyzer(cmd.Context())
			if err != nil {
				return err
			}
			out := an.Analyze(cmd.Context(), vision.Submission{Prompt: prompt, Files: files})
			if f.asJSON {
				if err := writeReport(cmd.OutOrStdout(), out); err != nil {
					return err
				}
			} else {
				writeText(cmd.OutOrStdout(), cmd.ErrOrStderr(), out)
			}
			if out.Err != nil {
				return out.Err
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&f.prompt, "prompt", "p", "", "prompt text")
	cmd.Flags().StringVarP(&f.promptFile, "prompt-file", "f", "", "read the prompt from a file ('-' for stdin)")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "print a JSON report")
	cmd.MarkFlagsMutuallyExclusive("prompt", "prompt-file")
	return cmd
}

func readPrompt(f analyzeFlags, stdin io.Reader) (string, error) {
	switch f.promptFile {
	case "":
		return f.prompt, nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read prompt from stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(f.promptFile)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return string(b), nil
	}
}

func writeReport(w io.Writer, out vision.Outcome) error {
	rep := analyzeReport{
		ID:        out.ID,
		Model:     out.Model,
		Attempted: out.Attempted,
		ElapsedMS: out.Elapsed.Milliseconds(),
	}
	for _, r := range out.Rejections {
		rep.Rejections = append(rep.Rejections, rejectionItem{File: r.File, Reason: r.Reason})
	}
	if out.Result != nil {
		rep.Text = out.Result.Text
		rep.InputTokens = out.Result.InputTokens
		rep.OutputTokens = out.Result.OutputTokens
		rep.StopReason = out.Result.StopReason
	}
	if out.Err != nil {
		rep.ErrorKind = string(out.Kind())
		rep.Err = out.Err.Error()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func writeText(stdout, stderr io.Writer, out vision.Outcome) {
	for _, r := range out.Rejections {
		fmt.Fprintf(stderr, "skipped %s: %s\n", r.File, r.Reason)
	}
	if out.Err != nil {
		return
	}
	fmt.Fprintln(stdout, out.Result.Text)
	fmt.Fprintf(stderr, "\ninput tokens: %d  output tokens: %d\n", out.Result.InputTokens, out.Result.OutputTokens)
}
