// Command examloop is a local adaptive review scheduler. It ingests
// plain-text question corpora, schedules reviews with a DSR memory
// model, and adapts the model weights to the user's own history.
//
// Usage:
//
//	examloop [flags] <command> [args]
//
// Commands:
//
//	add-source <path|git-url>   register a question corpus
//	sync                        reconcile all sources into the database
//	study                       run an interactive study session
//	stats                       print the analytics report
//	optimize                    fit model weights to the review history
//	leeches [suspend|unsuspend|note <id> ...]
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/examloop/examloop/internal/analytics"
	"github.com/examloop/examloop/internal/config"
	"github.com/examloop/examloop/internal/domain"
	"github.com/examloop/examloop/internal/ingest"
	"github.com/examloop/examloop/internal/optimizer"
	"github.com/examloop/examloop/internal/session"
	"github.com/examloop/examloop/internal/storage"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := pflag.NewFlagSet("examloop", pflag.ContinueOnError)
	configPath := flags.String("config", "examloop.yaml", "path to the config file")
	sessType := flags.String("session", "review", "session type: review, learn, weak_focus, quiz")
	rangeDays := flags.Int("range", 7, "report window in days for stats")
	flags.String("db_path", "", "path to the sqlite database")
	flags.String("log_level", "", "log level: debug, info, warn, error")
	flags.Int("max_reviews", 0, "review cap for study sessions")
	flags.Int("max_new_per_day", -1, "daily cap on new cards")
	flags.Float64("target_retention", 0, "desired recall probability at review time")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, err := config.Load(*configPath, flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(log)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Error("cannot open database", "path", cfg.DBPath, "error", err)
		return 1
	}
	defer db.Close()

	command := "study"
	rest := flags.Args()
	if len(rest) > 0 {
		command = rest[0]
		rest = rest[1:]
	}

	switch command {
	case "add-source":
		if len(rest) != 1 {
			fmt.Fprintln(os.Stderr, "usage: examloop add-source <path|git-url>")
			return 2
		}
		syncer := ingest.NewSyncer(db, cfg.ReposDir, log)
		if _, err := syncer.AddSource(rest[0]); err != nil {
			log.Error("add source failed", "error", err)
			return 1
		}
		return 0

	case "sync":
		syncer := ingest.NewSyncer(db, cfg.ReposDir, log)
		st, err := syncer.SyncAll(time.Now())
		if err != nil {
			log.Error("sync failed", "error", err)
			return 1
		}
		fmt.Printf("synced %d sources: %d questions parsed, %d added, %d removed, %d errors\n",
			st.Sources, st.Parsed, st.Inserted, st.Removed, st.Errors)
		return 0

	case "study":
		return study(db, cfg, *sessType, log)

	case "stats":
		return stats(db, *rangeDays)

	case "optimize":
		return optimize(db, cfg, log)

	case "leeches":
		return leeches(db, cfg, rest, log)

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", command)
		return 2
	}
}

func newManager(db *storage.DB, cfg *config.Config, log *slog.Logger) (*session.Manager, error) {
	params, err := cfg.Params()
	if err != nil {
		return nil, err
	}
	return session.NewManager(db, session.Options{
		BaseParams:       params,
		LeechThreshold:   cfg.LeechThreshold,
		InterleaveWindow: cfg.InterleaveWindow,
		MaxNewPerDay:     cfg.MaxNewPerDay,
		Logger:           log,
	})
}

func study(db *storage.DB, cfg *config.Config, sessType string, log *slog.Logger) int {
	mgr, err := newManager(db, cfg, log)
	if err != nil {
		log.Error("cannot build session manager", "error", err)
		return 1
	}
	if n, err := mgr.RecoverStaleSessions(time.Now()); err != nil {
		log.Error("stale session recovery failed", "error", err)
		return 1
	} else if n > 0 {
		fmt.Printf("closed %d interrupted session(s)\n", n)
	}

	sess, err := mgr.StartSession(domain.SessionType(sessType), cfg.MaxReviews, cfg.TargetRetention, time.Now())
	if err != nil {
		log.Error("cannot start session", "error", err)
		return 1
	}

	in := bufio.NewScanner(os.Stdin)
	for {
		card, err := mgr.GetNextCard(sess.ID, time.Now())
		if err != nil {
			log.Error("card selection failed", "error", err)
			return 1
		}
		if card == nil {
			fmt.Println("nothing left to review")
			break
		}
		q, err := db.FindQuestion(card.QuestionID)
		if err != nil || q == nil {
			log.Error("question lookup failed", "card", card.QuestionID, "error", err)
			return 1
		}

		asked := time.Now()
		fmt.Printf("\n[%s] %s\n", q.Topic, q.Question)
		fmt.Print("(enter to reveal, q to quit) ")
		if !in.Scan() || strings.TrimSpace(in.Text()) == "q" {
			break
		}
		fmt.Printf("\n%s\n", q.Answer)
		if q.Context != "" {
			fmt.Printf("context: %s\n", q.Context)
		}

		rating, quit := askRating(in)
		if quit {
			break
		}
		res, err := mgr.RecordAnswer(sess.ID, card.QuestionID, rating, int(time.Since(asked).Milliseconds()), time.Now())
		if err != nil {
			log.Error("recording answer failed", "error", err)
			return 1
		}
		fmt.Printf("next review %s (%d day(s))\n",
			res.NextReviewAt.Local().Format("2006-01-02 15:04"), res.IntervalDays)
		if res.LeechDetected {
			fmt.Println("this card keeps lapsing; consider `examloop leeches`")
		}
	}

	sum, err := mgr.EndSession(sess.ID, time.Now())
	if err != nil {
		log.Error("ending session failed", "error", err)
		return 1
	}
	fmt.Printf("\nsession done: %d reviewed, %d correct (%.0f%%) in %s\n",
		sum.Session.Reviewed, sum.Session.Correct, sum.RetentionRate*100,
		sum.Duration.Round(time.Second))
	return 0
}

func askRating(in *bufio.Scanner) (domain.Rating, bool) {
	for {
		fmt.Print("rate recall: 1=again 2=hard 3=good 4=easy, q to quit: ")
		if !in.Scan() {
			return 0, true
		}
		switch strings.TrimSpace(in.Text()) {
		case "1":
			return domain.Again, false
		case "2":
			return domain.Hard, false
		case "3":
			return domain.Good, false
		case "4":
			return domain.Easy, false
		case "q":
			return 0, true
		}
	}
}

func stats(db *storage.DB, rangeDays int) int {
	rep, err := analytics.NewEngine(db).Summary(rangeDays, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	fmt.Printf("cards: %d total, %d seen, %d suspended\n",
		rep.TotalCards, rep.SeenCards, rep.SuspendedCards)
	if rep.Retention >= 0 {
		fmt.Printf("last %d days: %d reviews, %.0f%% retention, avg %dms per answer\n",
			rep.RangeDays, rep.Reviews, rep.Retention*100, rep.AvgResponseMs)
	} else {
		fmt.Printf("last %d days: no reviews\n", rep.RangeDays)
	}
	fmt.Printf("study streak: %d day(s)\n", rep.StreakDays)

	fmt.Println("\nforecast:")
	for _, day := range rep.Forecast {
		fmt.Printf("  %s  %d due\n", day.Date.Format("Mon 2006-01-02"), day.Due)
	}

	if len(rep.Topics) > 0 {
		fmt.Println("\ntopics:")
		for _, ts := range rep.Topics {
			line := fmt.Sprintf("  %-20s %3d cards, %3d seen", ts.Topic, ts.Cards, ts.Seen)
			if ts.Seen > 0 {
				line += fmt.Sprintf(", difficulty %.1f, stability %.1fd", ts.AvgDifficulty, ts.AvgStability)
			}
			if ts.Retention >= 0 {
				line += fmt.Sprintf(", %.0f%% retention", ts.Retention*100)
			}
			fmt.Println(line)
		}
	}

	if len(rep.Leeches) > 0 {
		fmt.Println("\nleeches:")
		for _, l := range rep.Leeches {
			status := ""
			if l.Suspended {
				status = " (suspended)"
			}
			fmt.Printf("  %s  %d lapses%s\n", l.CardID[:12], l.LapseCount, status)
		}
	}
	return 0
}

func optimize(db *storage.DB, cfg *config.Config, log *slog.Logger) int {
	base, err := cfg.Params()
	if err != nil {
		log.Error("invalid parameters", "error", err)
		return 1
	}
	if latest, err := db.LatestParamSet(); err != nil {
		log.Error("cannot read parameter versions", "error", err)
		return 1
	} else if latest != nil {
		base.W = latest.Weights
	}

	opt := optimizer.New(db, base, optimizer.Options{
		MinEvents: cfg.OptimizeMinEvents,
		Logger:    log,
	})
	ok, err := opt.ShouldOptimize()
	if err != nil {
		log.Error("optimizer check failed", "error", err)
		return 1
	}
	if !ok {
		fmt.Printf("not enough review history yet (need %d events)\n", cfg.OptimizeMinEvents)
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	fitted, err := opt.Optimize(ctx, time.Now())
	if err != nil {
		log.Error("optimization failed", "error", err)
		return 1
	}
	fmt.Printf("effective weights: %.4v\n", fitted.W)
	return 0
}

func leeches(db *storage.DB, cfg *config.Config, args []string, log *slog.Logger) int {
	mgr, err := newManager(db, cfg, log)
	if err != nil {
		log.Error("cannot build session manager", "error", err)
		return 1
	}

	if len(args) == 0 {
		records, err := db.Leeches()
		if err != nil {
			log.Error("cannot list leeches", "error", err)
			return 1
		}
		if len(records) == 0 {
			fmt.Println("no leeches detected")
			return 0
		}
		for _, l := range records {
			status := "active"
			if l.Suspended {
				status = "suspended"
			}
			fmt.Printf("%s  %d lapses  %s  detected %s", l.CardID[:12], l.LapseCount,
				status, l.DetectedAt.Local().Format("2006-01-02"))
			if l.Notes != "" {
				fmt.Printf("  note: %s", l.Notes)
			}
			fmt.Println()
		}
		return 0
	}

	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: examloop leeches [suspend|unsuspend|note <card-id> ...]")
		return 2
	}
	id := args[1]
	switch args[0] {
	case "suspend":
		err = mgr.Leeches().Suspend(id)
	case "unsuspend":
		err = mgr.Leeches().Unsuspend(id)
	case "note":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: examloop leeches note <card-id> <text>")
			return 2
		}
		err = mgr.Leeches().Annotate(id, strings.Join(args[2:], " "))
	default:
		fmt.Fprintf(os.Stderr, "unknown leeches action %q\n", args[0])
		return 2
	}
	if err != nil {
		log.Error("leech action failed", "error", err)
		return 1
	}
	return 0
}
