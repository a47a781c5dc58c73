package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/WessleyAI/wessley-voice/engine/call"
	"github.com/WessleyAI/wessley-voice/engine/domain"
	"github.com/WessleyAI/wessley-voice/engine/ingest"
	"github.com/WessleyAI/wessley-voice/engine/rag"
	"github.com/WessleyAI/wessley-voice/pkg/metrics"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// telephonyOnly wires the Twilio client without touching the vector index.
func telephonyOnly(cc *commandContext) (*services, error) {
	cfg, _ := cc.config()
	if !cfg.TwilioConfigured() {
		return nil, errors.New("twilio.account_sid and twilio.auth_token must be set")
	}
	s := &services{cfg: cfg, log: cc.logger, metrics: metrics.New()}
	s.wireTelephony()
	return s, nil
}

func newIngestCommand(cc *commandContext) *cobra.Command {
	var (
		owner     string
		chunkSize int
		overlap   int
		queue     bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest <file.pdf>...",
		Short: "Index PDF documents for an owner",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := cc.config()
			if !cmd.Flags().Changed("chunk-size") {
				chunkSize = cfg.RAG.ChunkSize
			}
			if !cmd.Flags().Changed("overlap") {
				overlap = cfg.RAG.Overlap
			}
			ctx := cmd.Context()

			var run func(ctx context.Context, u domain.Upload) (ingest.Report, error)
			if queue {
				nc, err := nats.Connect(cfg.NATS.URL, nats.Name("voicerag-cli"))
				if err != nil {
					return fmt.Errorf("nats connect: %w", err)
				}
				defer nc.Close()
				run = func(ctx context.Context, u domain.Upload) (ingest.Report, error) {
					ctx, cancel := context.WithTimeout(ctx, timeout)
					defer cancel()
					reply, err := ingest.Submit(ctx, nc, ingest.Request{
						Filename:      u.Filename,
						OwnerIdentity: u.OwnerIdentity,
						Content:       u.Content,
						ChunkSize:     u.ChunkSize,
						Overlap:       u.Overlap,
					})
					if err != nil {
						return ingest.Report{}, err
					}
					if reply.Error != "" || reply.Report == nil {
						return ingest.Report{}, fmt.Errorf("worker rejected upload (status %d): %s", reply.Status, reply.Error)
					}
					return *reply.Report, nil
				}
			} else {
				svc, err := newServices(ctx, cfg, cc.logger)
				if err != nil {
					return err
				}
				defer svc.Close()
				run = svc.ingest.Ingest
			}

			var failed int
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				rep, err := run(ctx, domain.Upload{
					Filename:      filepath.Base(path),
					OwnerIdentity: owner,
					Content:       data,
					ChunkSize:     chunkSize,
					Overlap:       overlap,
				})
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				if err := printJSON(cmd.OutOrStdout(), rep); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d documents failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Owner identity the documents belong to (required)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters (default from config)")
	cmd.Flags().IntVar(&overlap, "overlap", 0, "Chunk overlap in characters (default from config)")
	cmd.Flags().BoolVar(&queue, "queue", false, "Submit to the ingest worker over NATS instead of indexing in-process")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-document wait for the worker reply with --queue")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newAskCommand(cc *commandContext) *cobra.Command {
	var (
		owner     string
		limit     int
		threshold float32
		asJSON    bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question from the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := cc.config()
			svc, err := newServices(cmd.Context(), cfg, cc.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			q := rag.Query{
				Text:          strings.Join(args, " "),
				OwnerIdentity: owner,
				SearchLimit:   limit,
			}
			if cmd.Flags().Changed("threshold") {
				q.ScoreThreshold = &threshold
			}
			ans, err := svc.rag.Answer(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, ans)
			}
			fmt.Fprintln(out, ans.Text)
			fmt.Fprintf(out, "\nconfidence: %s  sources: %d  avg score: %.3f\n", ans.Confidence, len(ans.Sources), ans.AverageScore)
			for _, s := range ans.Sources {
				fmt.Fprintf(out, "  - %s #%d (%.3f)\n", s.Filename, s.ChunkIndex, s.Score)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&owner, "owner", "o", "", "Restrict the search to one owner's documents")
	cmd.Flags().IntVar(&limit, "limit", 0, "Number of chunks to retrieve (default from config)")
	cmd.Flags().Float32Var(&threshold, "threshold", 0, "Minimum similarity score; 0 keeps every hit (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full answer as JSON")
	return cmd
}

func newCallCommand(cc *commandContext) *cobra.Command {
	var (
		message     string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "call <+phone-number>",
		Short: "Place an outbound call",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := telephonyOnly(cc)
			if err != nil {
				return err
			}
			res, err := svc.dialer.Place(cmd.Context(), call.PlaceRequest{To: args[0], Message: message, Interactive: interactive})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Message spoken by a non-interactive call")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start a question-and-answer conversation")
	return cmd
}

func newNumbersCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "numbers",
		Short: "Inspect and configure the account's phone numbers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List phone numbers on the account",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := telephonyOnly(cc)
				if err != nil {
					return err
				}
				nums, err := svc.numbers.List(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), nums)
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show the voice webhook of the configured number",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := telephonyOnly(cc)
				if err != nil {
					return err
				}
				n, err := svc.numbers.WebhookInfo(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), n)
			},
		},
		&cobra.Command{
			Use:   "setup-webhook [base-url]",
			Short: "Point the configured number's voice webhook at this service",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := telephonyOnly(cc)
				if err != nil {
					return err
				}
				base := svc.cfg.Twilio.WebhookURL
				if len(args) == 1 {
					base = args[0]
				}
				res, err := svc.numbers.SetupWebhook(cmd.Context(), base)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			},
		},
		&cobra.Command{
			Use:   "test-auth",
			Short: "Verify the account credentials",
			RunE: func(cmd *cobra.Command, _ []string) error {
				svc, err := telephonyOnly(cc)
				if err != nil {
					return err
				}
				rep, err := svc.numbers.TestAuth(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rep)
			},
		},
	)
	return cmd
}

func newConfigCommand(cc *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration with secrets masked",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, _ := cc.config()
				data, err := cfg.Redacted().TOML()
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				// PersistentPreRunE has already loaded and validated it.
				fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
				return nil
			},
		},
	)
	return cmd
}
