package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/draftsend/draftsend/internal/auth"
	"github.com/draftsend/draftsend/internal/config"
	"github.com/draftsend/draftsend/internal/database"
	"github.com/draftsend/draftsend/internal/logger"
	"github.com/draftsend/draftsend/internal/recipients"
	"github.com/draftsend/draftsend/internal/repository"
	"github.com/draftsend/draftsend/internal/service"
	"github.com/spf13/cobra"
)

type sendOptions struct {
	subject        string
	to             string
	cc             string
	list           string
	batchSize      int
	delay          time.Duration
	bodyFile       string
	provider       string
	from           string
	credentialFile string
}

func newSendCmd() *cobra.Command {
	opts := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send the draft with the given subject to every recipient",
		Long: `Looks up the saved draft by subject and sends it to the recipient list
in batches, pausing between batches. Interrupt stops the run at the next
batch boundary.

Exit status is 0 when every batch succeeded, 1 when the run aborted and 2
when it completed with failed batches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.subject, "subject", "s", "", "subject of the saved draft")
	f.StringVar(&opts.to, "to", "", "direct recipient on every batch")
	f.StringVar(&opts.cc, "cc", "", "cc recipient on every batch")
	f.StringVarP(&opts.list, "list", "l", "", "recipient list (.xlsx or .csv, first column)")
	f.IntVar(&opts.batchSize, "batch-size", 0, "addresses per batch (default dispatch.batch_size)")
	f.DurationVar(&opts.delay, "delay", 0, "pause between batches (default dispatch.delay)")
	f.StringVar(&opts.bodyFile, "body-file", "", "HTML draft for providers without a mailbox")
	f.StringVar(&opts.provider, "provider", "", "email provider: graph, gmail, smtp, resend or ses")
	f.StringVar(&opts.from, "from", "", "sending address or shared mailbox")
	f.StringVar(&opts.credentialFile, "credential", "", "credential saved by the login command")
	_ = cmd.MarkFlagRequired("subject")

	return cmd
}

func runSend(cmd *cobra.Command, opts *sendOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	log := cliLogger()
	out := cmd.OutOrStdout()

	req := service.SendRequest{
		Subject:  opts.subject,
		DirectTo: opts.to,
		Cc:       opts.cc,
	}
	if cmd.Flags().Changed("batch-size") {
		req.BatchSize = &opts.batchSize
	}
	if cmd.Flags().Changed("delay") {
		req.Delay = &opts.delay
	}
	if opts.list != "" {
		list, err := recipients.LoadFile(opts.list)
		if err != nil {
			return err
		}
		if list.SkippedHeader != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "skipped header row %q\n", list.SkippedHeader)
		}
		req.Recipients = list.Addresses
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cred, err := credentialFor(ctx, cfg, opts.credentialFile, cmd)
	if err != nil {
		return err
	}

	svc, closeStores, err := newSendService(cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	rep := newReporter(out)
	_, outcome := svc.Run(ctx, cred, req, rep.observe)
	fmt.Fprintln(out, outcome.Summary())

	if code := exitCode(outcome); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// apply overrides configuration with the flags that were set
func (o *sendOptions) apply(cfg *config.Config) {
	if o.provider != "" {
		cfg.Email.Provider = o.provider
	}
	if o.from != "" {
		cfg.Email.From = o.from
	}
	if o.bodyFile != "" {
		cfg.Email.BodyFile = o.bodyFile
	}
}

// credentialFor returns the credential saved by login, signs in with the
// configured flow, or returns nil when the provider needs no account
func credentialFor(ctx context.Context, cfg *config.Config, path string, cmd *cobra.Command) (*auth.Credential, error) {
	if path != "" {
		return readCredential(path)
	}
	if !service.NeedsCredential(cfg) {
		return nil, nil
	}
	return signIn(ctx, cfg, cmd)
}

func readCredential(path string) (*auth.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}
	var cred auth.Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to parse credential: %w", err)
	}
	if cred.Expired() {
		return nil, fmt.Errorf("credential in %s expired at %s, run login again", path, cred.Expiry.Format(time.RFC3339))
	}
	return &cred, nil
}

// newSendService connects the optional history and progress stores
func newSendService(cfg *config.Config, log *logger.Logger) (*service.SendService, func(), error) {
	var (
		runs    service.RunStore
		sink    service.ProgressSink
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}

	if cfg.Database.Enabled {
		db, err := database.NewPostgres(cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closers = append(closers, db.Close)
		runs = repository.NewRunRepository(db)
	}
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedis(cfg.Redis)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		closers = append(closers, rdb.Close)
		sink = service.NewProgressPublisher(rdb, cfg.Dispatch.RunRetention)
	}

	svc := service.NewSendService(cfg, service.NewTransportFactory(cfg), runs, sink, log)
	return svc, closeAll, nil
}
