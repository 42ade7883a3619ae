package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"medreport/models"
	"medreport/pkg/lifecycle"
	"medreport/pkg/summarize"
)

// Global DB handle for helper funcs
var db *gorm.DB

// global flags (parsed in main)
var (
	verbose bool
	dryRun  bool
)

func mustInitDBFromEnv() *gorm.DB {
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatalf("DB_DSN must be set in environment to run this tool")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	return gdb
}

// Main: advances pending reports one lifecycle step per pass, attaching the
// summary on completion. This is the external automation the API itself
// never schedules; in watch mode new files landing in the upload directory
// trigger another pass.
func main() {
	dirFlag := flag.String("dir", "uploads", "upload directory to watch for new report files")
	watch := flag.Bool("watch", false, "Watch directory and re-run on new files")
	workers := flag.Int("workers", 0, "Worker pool size (default NumCPU)")
	useOCR := flag.Bool("ocr", false, "Summarize completed image reports with OCR instead of the static text")
	flag.BoolVar(&verbose, "verbose", false, "Verbose per-report logging")
	flag.BoolVar(&dryRun, "dry-run", false, "List pending transitions without writing")
	flag.Parse()

	db = mustInitDBFromEnv()

	var summarizer summarize.Summarizer = summarize.Static{}
	if *useOCR {
		summarizer = summarize.NewOCR()
	}

	n := processPending(*dirFlag, summarizer, effectiveWorkers(*workers))
	log.Printf("pass complete: %d reports advanced", n)

	if *watch {
		if err := watchDirectory(*dirFlag, summarizer, effectiveWorkers(*workers)); err != nil {
			log.Fatalf("watch failed: %v", err)
		}
	}
}

func effectiveWorkers(w int) int {
	if w <= 0 {
		return runtime.NumCPU()
	}
	return w
}

func logV(format string, args ...any) {
	if verbose {
		log.Printf(format, args...)
	}
}

// processPending advances every non-terminal report exactly one step and
// returns how many rows were moved.
func processPending(dir string, summarizer summarize.Summarizer, workers int) int {
	var pending []models.Report
	if err := db.Where("status <> ?", string(lifecycle.StatusCompleted)).Order("created_at asc").Find(&pending).Error; err != nil {
		log.Printf("query pending reports: %v", err)
		return 0
	}
	logV("found %d pending reports", len(pending))
	if len(pending) == 0 {
		return 0
	}

	jobs := make(chan models.Report, len(pending))
	for _, r := range pending {
		jobs <- r
	}
	close(jobs)

	var advanced int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for report := range jobs {
				if advanceOne(dir, summarizer, report) {
					mu.Lock()
					advanced++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return int(advanced)
}

// advanceOne moves a single report to its successor state using the same
// compare-and-swap the API uses, so a concurrent API call cannot be
// double-applied.
func advanceOne(dir string, summarizer summarize.Summarizer, report models.Report) bool {
	current, err := lifecycle.Parse(report.Status)
	if err != nil {
		log.Printf("report %d has corrupt status %q, skipping", report.ID, report.Status)
		return false
	}
	target, ok := current.Next()
	if !ok {
		return false
	}
	if dryRun {
		log.Printf("would advance report %d: %s -> %s", report.ID, current, target)
		return false
	}

	var summary *string
	if target == lifecycle.StatusCompleted {
		text, err := summarizer.Summarize(summarize.Input{
			Name:     report.Name,
			Type:     report.Type,
			FilePath: filepath.Join(dir, filepath.Base(report.FilePath)),
		})
		if err != nil {
			log.Printf("summarize report %d failed: %v", report.ID, err)
			return false
		}
		summary = &text
	}

	res := db.Model(&models.Report{}).
		Where("id = ? AND status = ?", report.ID, string(current)).
		Updates(map[string]interface{}{
			"status":  string(target),
			"summary": gorm.Expr("COALESCE(?, summary)", summary),
		})
	if res.Error != nil {
		log.Printf("advance report %d failed: %v", report.ID, res.Error)
		return false
	}
	if res.RowsAffected == 0 {
		logV("report %d changed concurrently, skipping", report.ID)
		return false
	}
	logV("advanced report %d: %s -> %s", report.ID, current, target)
	return true
}

func watchDirectory(dir string, summarizer summarize.Summarizer, workers int) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("Watching %s (debounced) ...", dir)

	trigger := make(chan struct{}, 1)
	go func() {
		// debounce bursts of create events into a single pass
		var last time.Time
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		dirty := false
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					close(trigger)
					return
				}
				if ev.Op&fsnotify.Create == fsnotify.Create && isReportFile(ev.Name) {
					dirty = true
					last = time.Now()
				}
			case <-ticker.C:
				if dirty && time.Since(last) > 300*time.Millisecond {
					dirty = false
					select {
					case trigger <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					close(trigger)
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()

	for range trigger {
		n := processPending(dir, summarizer, workers)
		log.Printf("pass complete: %d reports advanced", n)
	}
	return nil
}

func isReportFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".png", ".jpg", ".jpeg", ".dcm":
		return true
	}
	return false
}
