package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/timmy/tweetpurge/internal/config"
	"github.com/timmy/tweetpurge/internal/domain"
	"github.com/timmy/tweetpurge/internal/logger"
	"github.com/timmy/tweetpurge/internal/repository"
	"github.com/timmy/tweetpurge/internal/service"
	"github.com/timmy/tweetpurge/internal/xapi"
	"github.com/urfave/cli/v3"
)

var errAborted = errors.New("aborted")

// notifyInterrupt is replaced in tests.
var notifyInterrupt = func(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	client := xapi.NewClient(&xapi.Config{
		BaseURL:     cfg.X.APIBaseURL,
		CallTimeout: cfg.X.CallTimeout,
	})

	token := cmd.String("token")
	userID := cmd.String("user-id")
	if userID == "" {
		me, err := client.GetMe(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to resolve account: %w", err)
		}
		userID = me.ID
		fmt.Printf("Account: @%s (%s)\n", me.Username, me.ID)
	}

	if !cmd.Bool("yes") {
		ok, err := confirm(os.Stdin, os.Stdout, "Delete every post of this account? [y/N] ")
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}

	var archive service.RunArchive
	if cfg.Database.Enabled {
		db, err := repository.InitDB(&cfg.Database)
		if err != nil {
			return err
		}
		archive = repository.NewRunRepository(db)
	}

	svc := service.NewDeletionService(
		client,
		repository.NewJobStore(),
		archive,
		logger.GetDefault(),
		service.DeletionConfigFrom(&cfg.Deletion),
	)

	poll := cmd.Duration("poll")
	if poll <= 0 {
		poll = cfg.Deletion.PollInterval
	}

	snap, err := purge(ctx, svc, service.NewStaticPrincipal(userID, token), poll, os.Stdout)

	// archives the finished job
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := svc.Shutdown(shutdownCtx); serr != nil {
		logger.GetDefault().WithError(serr).Warn("Deletion service did not stop cleanly")
	}

	if err != nil {
		return err
	}
	if snap != nil && snap.Status == domain.JobStatusError {
		return fmt.Errorf("deletion failed: %s", snap.LastError)
	}
	return nil
}

// purge starts a job and reports progress until it finishes. The first interrupt
// cancels the job; a second one gets the default behaviour and kills the process.
func purge(ctx context.Context, svc *service.DeletionService, p service.Principal, poll time.Duration, out io.Writer) (*domain.DeletionJob, error) {
	res, err := svc.Start(ctx, p)
	if err != nil {
		return nil, err
	}
	if res.NoItems() {
		fmt.Fprintln(out, "No tweets to delete.")
		return nil, nil
	}
	fmt.Fprintf(out, "Job %s: deleting %d posts\n", res.JobID, res.Total)

	sigCtx, stop := notifyInterrupt(ctx)
	defer stop()

	if poll <= 0 {
		poll = time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	interrupted := sigCtx.Done()
	for {
		select {
		case <-interrupted:
			fmt.Fprintln(out, "\nCancelling...")
			if err := svc.Cancel(ctx, p.UserID, res.JobID); err != nil {
				return nil, err
			}
			stop()
			interrupted = nil
		case <-ticker.C:
		}

		snap, err := svc.Status(ctx, p.UserID, res.JobID)
		if err != nil {
			return nil, err
		}
		printProgress(out, snap)
		if snap.Status.IsTerminal() {
			fmt.Fprintln(out)
			return &snap, nil
		}
	}
}

func printProgress(out io.Writer, snap domain.DeletionJob) {
	line := fmt.Sprintf("\r[%s] %d/%d deleted, %d skipped", snap.Status, snap.DeletedCount, snap.Total, snap.SkippedCount)
	if snap.ResumeAt != nil {
		line += fmt.Sprintf(", resuming at %s", snap.ResumeAt.Local().Format(time.Kitchen))
	}
	fmt.Fprint(out, line)
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func historyAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	if !cfg.Database.Enabled {
		return errors.New("run history is disabled (database.enabled=false)")
	}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return err
	}
	runs, err := repository.NewRunRepository(db).ListByOwner(ctx, cmd.String("owner"), int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	printHistory(os.Stdout, runs)
	return nil
}

func printHistory(out io.Writer, runs []domain.DeletionRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return
	}

	table := tablewriter.NewWriter(out)
	table.Header("Job", "Status", "Total", "Deleted", "Skipped", "Started", "Finished", "Error")
	for _, r := range runs {
		finished := "-"
		if r.FinishedAt != nil {
			finished = r.FinishedAt.Local().Format("2006-01-02 15:04:05")
		}
		table.Append(
			r.ID,
			string(r.Status),
			fmt.Sprintf("%d", r.Total),
			fmt.Sprintf("%d", r.Deleted),
			fmt.Sprintf("%d", r.Skipped),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			finished,
			r.LastError,
		)
	}
	table.Render()
}
