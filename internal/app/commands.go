package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"despeed/internal/app/bootstrap"
	"despeed/internal/domain"
	"despeed/internal/geolite"
	jobruntime "despeed/internal/jobs/runtime"
	"despeed/internal/support"

	"github.com/charmbracelet/log"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
)

const defaultHistoryLimit = 20

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Run one batch pass over all accounts and exit",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx.Context)
		defer stop()

		components, err := setupComponents(cctx)
		if err != nil {
			return err
		}
		defer components.Close()

		err = components.Pass()(ctx)
		if errors.Is(err, context.Canceled) {
			log.Info("Batch interrupted")
			return nil
		}
		return err
	},
}

var autoCmd = &cli.Command{
	Name:  "auto",
	Usage: "Run batch passes forever, waiting the configured interval between them",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx.Context)
		defer stop()

		components, err := setupComponents(cctx)
		if err != nil {
			return err
		}
		defer components.Close()

		if components.Redis != nil {
			stopHeartbeat := jobruntime.LaunchInstanceHeartbeat(ctx, components.Redis)
			defer stopHeartbeat()
		}

		scheduler := jobruntime.NewScheduler(components.Config)
		err = scheduler.Run(ctx, components.Pass())
		if errors.Is(err, context.Canceled) {
			log.Info("Scheduler stopped")
			return nil
		}
		return err
	},
}

var checkCmd = &cli.Command{
	Name:  "check",
	Usage: "Validate every token without measuring",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx.Context)
		defer stop()

		components, err := setupComponents(cctx)
		if err != nil {
			return err
		}
		defer components.Close()

		valid, err := components.CheckTokens(ctx)
		log.Info("Token check finished", "valid", valid, "total", len(components.Tokens))
		return err
	},
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "Print the most recent account outcomes",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:    "limit",
			Aliases: []string{"n"},
			Value:   defaultHistoryLimit,
			Usage:   "number of rows to print",
		},
	},
	Action: func(cctx *cli.Context) error {
		cfg, err := bootstrap.LoadConfig(pathsFromContext(cctx))
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}

		store, closeDB, err := bootstrap.OpenHistory(cfg)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer closeDB()

		records, err := store.Recent(cctx.Context, cctx.Int("limit"))
		if err != nil {
			return err
		}
		renderHistory(os.Stdout, records)

		summary, err := summaryRows(cctx.Context, store, records)
		if err != nil {
			return err
		}
		renderSummary(os.Stdout, summary)
		return nil
	},
}

var watchCmd = &cli.Command{
	Name:  "watch",
	Usage: "Print account outcomes published by running instances",
	Action: func(cctx *cli.Context) error {
		ctx, stop := signalContext(cctx.Context)
		defer stop()

		cfg, err := bootstrap.LoadConfig(pathsFromContext(cctx))
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if cfg.Redis.URL == "" {
			return errors.New("watch: redis.url is not configured")
		}

		client, err := support.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		instances, err := jobruntime.CountActiveInstances(ctx, client)
		if err != nil {
			log.Warn("Could not count active instances", "error", err)
		}
		log.Info("Watching account outcomes", "channel", jobruntime.OutcomeChannel, "instances", instances)
		err = jobruntime.SubscribeOutcomes(ctx, client, func(event jobruntime.OutcomeEvent) {
			log.Info("Account finished",
				"origin", event.Origin,
				"account", event.AccountIndex+1,
				"token", event.Token,
				"success", event.Success,
				"stage", event.Stage,
				"download", event.DownloadMbps,
				"upload", event.UploadMbps,
				"reason", event.Reason,
			)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

var geoliteCmd = &cli.Command{
	Name:  "geolite",
	Usage: "Download the GeoLite2 City database configured in geolite.city_database",
	Action: func(cctx *cli.Context) error {
		cfg, err := bootstrap.LoadConfig(pathsFromContext(cctx))
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		if cfg.GeoLite.CityDatabase == "" {
			return errors.New("geolite: geolite.city_database is not configured")
		}

		if _, err := geolite.NewUpdater(cfg.GeoLite.LicenseKey, cfg.GeoLite.CityDatabase).Update(cctx.Context); err != nil {
			return err
		}
		return nil
	},
}

func historyRows(records []domain.RunHistory) [][]string {
	rows := make([][]string, 0, len(records))
	for _, record := range records {
		status := "ok"
		if !record.Success {
			status = "failed"
		}
		rows = append(rows, []string{
			record.CreatedAt.Local().Format(time.DateTime),
			strconv.Itoa(record.AccountIndex + 1),
			record.TokenFingerprint,
			status,
			record.Stage,
			strconv.FormatFloat(record.DownloadMbps, 'f', 2, 64),
			strconv.FormatFloat(record.UploadMbps, 'f', 2, 64),
			strconv.Itoa(record.RewardTotal),
			record.FailureReason,
		})
	}
	return rows
}

type successRater interface {
	SuccessRate(ctx context.Context, fingerprint string) (succeeded, total int64, err error)
}

// summaryRows reports the all-time success rate of every token seen in records, in order of
// first appearance.
func summaryRows(ctx context.Context, rater successRater, records []domain.RunHistory) ([][]string, error) {
	seen := make(map[string]struct{}, len(records))
	var rows [][]string
	for _, record := range records {
		if record.TokenFingerprint == "" {
			continue
		}
		if _, ok := seen[record.TokenFingerprint]; ok {
			continue
		}
		seen[record.TokenFingerprint] = struct{}{}

		succeeded, total, err := rater.SuccessRate(ctx, record.TokenFingerprint)
		if err != nil {
			return nil, err
		}
		rate := "-"
		if total > 0 {
			rate = strconv.FormatFloat(float64(succeeded)*100/float64(total), 'f', 1, 64) + "%"
		}
		rows = append(rows, []string{
			record.TokenFingerprint,
			strconv.FormatInt(succeeded, 10),
			strconv.FormatInt(total, 10),
			rate,
		})
	}
	return rows, nil
}

func renderSummary(w io.Writer, rows [][]string) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintln(w)
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Token", "Succeeded", "Total", "Rate"})
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
}

func renderHistory(w io.Writer, records []domain.RunHistory) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Time", "Account", "Token", "Status", "Stage", "Download", "Upload", "Reward", "Reason"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(historyRows(records))
	table.Render()
}
