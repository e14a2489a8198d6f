package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"startpage/internal/agenda"
	"startpage/internal/cache"
	"startpage/internal/capture"
	"startpage/internal/config"
	"startpage/internal/gcal"
	"startpage/internal/holiday"
	"startpage/internal/ics"
	appLog "startpage/internal/log"
	"startpage/internal/schedule"
	"startpage/internal/shortcut"
	"startpage/internal/store"
	"startpage/internal/weather"
	"startpage/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	snapshot   string
	once       bool
}

func main() {
	appLog.Info("startpage starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	gin.SetMode(gin.ReleaseMode)

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"data_dir", conf.DataDir,
		"google", conf.GoogleEnabled(),
		"ics_count", len(conf.ICS),
		"once", flags.once,
		"snapshot", flags.snapshot,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := build(ctx, conf)
	defer app.cache.Wait()

	if flags.once {
		app.scheduler.RunAll(ctx)
		appLog.Info("single refresh cycle finished")
		return
	}

	srv := web.NewServer(app.deps)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	if flags.snapshot != "" {
		app.scheduler.RunAll(ctx)
		if err := snapshot(ctx, conf, flags.snapshot); err != nil {
			appLog.Error("snapshot failed", err)
			cancel()
			<-errCh
			app.cache.Wait()
			os.Exit(1)
		}
		cancel()
		<-errCh
		return
	}

	app.scheduler.Start(ctx)

	select {
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			appLog.Error("HTTP server failed", err)
		}
		cancel()
	}
	app.scheduler.Stop()
	if err := <-errCh; err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}
	appLog.Info("startpage exiting")
}

type application struct {
	cache     *cache.Cache
	deps      web.Deps
	scheduler *schedule.Scheduler
}

// build wires every component from conf and loads the persisted cache.
func build(ctx context.Context, conf *config.Config) *application {
	loc := conf.Location()

	c := cache.New(store.NewFileStore(conf.StatePath()),
		cache.WithMaxAge(cache.Weather, conf.CacheTTL.Weather),
		cache.WithMaxAge(cache.Holidays, conf.CacheTTL.Holidays),
		cache.WithMaxAge(cache.Events, conf.CacheTTL.Events),
		cache.WithMaxAge(cache.CalendarList, conf.CacheTTL.CalendarList),
	)
	c.PrimeAll(ctx)

	weatherSvc := weather.NewService(
		weather.NewFetcher(conf.Weather, conf.HTTPTimeout),
		c,
		weather.Position{Lat: conf.Weather.Latitude, Lon: conf.Weather.Longitude},
	)
	holidaySvc := holiday.NewService(holiday.NewFetcher(conf.Holidays.URL, conf.HTTPTimeout), c)

	opts := []agenda.Option{agenda.WithTimeout(conf.HTTPTimeout)}
	var google *gcal.TokenSource
	if conf.GoogleEnabled() {
		google = gcal.NewTokenSource(conf.Google, conf.TokenPath())
		opts = append(opts, agenda.WithGoogle(google, gcal.NewClient(conf.Google.APIEndpoint)))
	} else {
		appLog.Info("google calendar disabled; set GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET to enable")
	}
	if feeds := ics.Feeds(conf.ICS, ics.NewFetcher(conf.ICSCacheDir(), conf.HTTPTimeout), loc); len(feeds) > 0 {
		opts = append(opts, agenda.WithFeeds(feeds...))
	}
	builder := agenda.New(c, loc, opts...)

	sched, err := schedule.New(loc, 4*conf.HTTPTimeout,
		schedule.Job{Name: "agenda", Spec: conf.Refresh.Agenda, Run: func(ctx context.Context) error {
			_, err := builder.Refresh(ctx)
			return err
		}},
		schedule.Job{Name: "weather", Spec: conf.Refresh.Weather, Run: func(ctx context.Context) error {
			_, err := weatherSvc.Refresh(ctx, nil)
			return err
		}},
		schedule.Job{Name: "holidays", Spec: conf.Refresh.Holidays, Run: func(ctx context.Context) error {
			_, err := holidaySvc.Refresh(ctx)
			return err
		}},
	)
	if err != nil {
		appLog.Error("invalid refresh schedule", err)
		os.Exit(1)
	}

	return &application{
		cache: c,
		deps: web.Deps{
			Config:    conf,
			Cache:     c,
			Weather:   weatherSvc,
			Holidays:  holidaySvc,
			Agenda:    builder,
			Shortcuts: shortcut.NewManager(c),
			Google:    google,
		},
		scheduler: sched,
	}
}

// snapshot waits for the server to come up and captures the page to out.
func snapshot(ctx context.Context, conf *config.Config, out string) error {
	base := "http://" + localAddr(conf.Listen)
	opts, err := snapshotOptions(conf, base, out)
	if err != nil {
		return err
	}
	if err := waitHealthy(ctx, base+"/health", 10*time.Second); err != nil {
		return err
	}
	if err := capture.WritePagePNG(ctx, opts); err != nil {
		return err
	}
	appLog.Info("snapshot written", "path", out)
	return nil
}

// snapshotOptions builds the capture options for the page at base. Chromium
// has to send the plain basic-auth password, so a config that only holds
// the bcrypt hash cannot be captured.
func snapshotOptions(conf *config.Config, base, out string) (capture.Options, error) {
	opts := capture.Options{URL: base + "/", OutputPath: out}
	ba := conf.BasicAuth
	if ba == nil || ba.Username == "" || (ba.Password == "" && ba.PasswordBcrypt == "") {
		return opts, nil
	}
	if ba.Password == "" {
		return opts, errors.New("snapshot needs basic_auth.password (or STARTPAGE_BASIC_AUTH_PASSWORD); only password_bcrypt is set")
	}
	opts.Username, opts.Password = ba.Username, ba.Password
	return opts, nil
}

// localAddr turns a wildcard listen address into one Chromium can dial.
func localAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	if strings.HasPrefix(listen, "0.0.0.0:") {
		return "127.0.0.1" + strings.TrimPrefix(listen, "0.0.0.0")
	}
	return listen
}

func waitHealthy(ctx context.Context, url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return fmt.Errorf("server at %s not healthy after %s", url, timeout)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/startpage/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Capture the page to this PNG path and exit (e.g. /var/lib/startpage/preview.png)")
	flag.BoolVar(&cfg.once, "once", false, "Run one refresh of every pipeline and exit")

	flag.Parse()

	return cfg
}
