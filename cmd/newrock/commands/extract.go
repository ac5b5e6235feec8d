package commands

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/spf13/cobra"

	"newrock-catalog/lib/cache"
	"newrock-catalog/lib/session"
	"newrock-catalog/lib/util/configutil"
	"newrock-catalog/lib/util/serviceutil"
	"newrock-catalog/services/catalog"
	"newrock-catalog/services/catalog/db"
	"newrock-catalog/services/extract"
)

type Config struct {
	BaseUrl     string `json:"base_url"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	Cookie      string `json:"cookie"`
	CacheDir    string `json:"cache_dir"`
	StateFile   string `json:"state_file"`
	Concurrency int    `json:"concurrency"`
}

var extractDb *string

func init() {
	extractDb = extractCmd.Flags().String("db", "catalog.db", "The database to write the extracted catalog to.")
	rootCmd.AddCommand(extractCmd)
}

// categoryProgress renders one progress tracker per category being walked.
type categoryProgress struct {
	writer   progress.Writer
	mu       sync.Mutex
	trackers map[string]*progress.Tracker
}

func newCategoryProgress() *categoryProgress {
	writer := progress.NewWriter()
	writer.SetUpdateFrequency(time.Millisecond * 250)
	go writer.Render()
	return &categoryProgress{
		writer:   writer,
		trackers: map[string]*progress.Tracker{},
	}
}

func (p *categoryProgress) CategoryStarted(url string) {
	tracker := &progress.Tracker{Message: url}
	p.mu.Lock()
	p.trackers[url] = tracker
	p.mu.Unlock()
	p.writer.AppendTracker(tracker)
}

func (p *categoryProgress) CategoryFinished(url string, products int) {
	p.mu.Lock()
	tracker := p.trackers[url]
	p.mu.Unlock()
	if tracker != nil {
		tracker.UpdateTotal(int64(products))
		tracker.MarkAsDone()
	}
}

func (p *categoryProgress) Stop() {
	p.writer.Stop()
}

var extractCmd = &cobra.Command{
	Use:   "extract [--db <path/to/catalog.db>]",
	Short: "Extracts the full product catalog and writes it to a database.",
	Run: func(cmd *cobra.Command, args []string) {
		// runExtract owns the resources so a failure still closes the
		// cache and persists session state before the process exits
		if err := runExtract(cmd.Context()); err != nil {
			serviceutil.Fatal("extract failed", err)
		}
	},
}

func runExtract(ctx context.Context) error {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".cache"
	}

	sess, err := session.New(session.Options{
		BaseUrl:   cfg.BaseUrl,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Cookie:    cfg.Cookie,
		StateFile: cfg.StateFile,
	})
	if err != nil {
		return fmt.Errorf("initializing session: %w", err)
	}
	defer sess.Close()

	store, err := cache.Open(cfg.CacheDir)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer store.Close()

	out, err := db.Open(*extractDb)
	if err != nil {
		return fmt.Errorf("opening db: %w", err)
	}
	defer out.Close()

	reporter := newCategoryProgress()

	t1 := time.Now()
	records, err := extract.New(sess, store, extract.Options{
		Concurrency: cfg.Concurrency,
		Progress:    reporter,
	}).Run(ctx)
	reporter.Stop()
	if err != nil {
		return err
	}
	t2 := time.Now()

	err = catalog.NewStore(out).Push(ctx, catalog.PushRequest{
		Time:     time.Now(),
		Products: records,
	})
	if err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}

	slog.Info("extraction time", "seconds", t2.Sub(t1).Seconds(), "products", len(records))
	return nil
}
