package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ttakeda/minichat/auth"
	"github.com/ttakeda/minichat/push"
	"github.com/ttakeda/minichat/store"
	"github.com/ttakeda/minichat/ws"
)

const (
	minMaxMessages = 10
	maxMaxMessages = 10000

	pushTitle = "New message"
)

var (
	flagAddr        = flag.String("addr", "127.0.0.1:3000", "server address, ip:port")
	flagPidFile     = flag.String("pid-file", "minichat.pid", "pid file")
	flagMessageFile = flag.String("message-file", "messages.json", "message log artifact")
	flagSubFile     = flag.String("sub-file", "subscriptions.db", "push subscription db")
	flagMaxMessages = flag.Uint("max-messages", 100, "message retention bound, oldest evicted first")
	flagMaxTextSize = flag.Uint("max-text-size", ws.DefaultMaxTextBytes, "max message text size in bytes")
	flagStaticDir   = flag.String("static-dir", "", "serve client static files from this dir, empty to disable")

	flagPprofDir       = flag.String("pprof-dir", "pprof", "dir to save pprof data files")
	flagDisableMetrics = flag.Bool("disable-metrics", false, "disable prometheus metrics")
	flagDisablePush    = flag.Bool("disable-push", false, "disable web push notifications")
)

// secrets are environment-only so they never show up in process listings.
type secretConf struct {
	entryPassword string
	adminPassword string
	vapid         push.VapidConf
}

func main() {
	flag.Parse()

	// NOTE: os.Exit() does not call defers.
	os.Exit(run())
}

func run() int {
	defer glog.Flush()

	if v := validateFlags(); v > 0 {
		return v
	}

	secrets, err := loadSecrets()
	if err != nil {
		return errorf("secrets: %v", err)
	}

	pid := os.Getpid()

	if err := savePid(*flagPidFile, pid); err != nil {
		return errorf("pid file: %v", err)
	}
	defer func() {
		_ = os.Remove(*flagPidFile)
	}()

	pprofDir := filepath.Join(*flagPprofDir, strconv.Itoa(pid))
	if err := os.MkdirAll(pprofDir, 0750); err != nil {
		return errorf("--pprof-dir: error create dir `%s`: %v", pprofDir, err)
	}
	defer func() {
		_ = os.RemoveAll(pprofDir)
	}()

	glog.Info("minichat server is starting")

	msgStore, err := store.NewFileStore(*flagMessageFile, int(*flagMaxMessages))
	if err != nil {
		return errorf("message store: %v", err)
	}

	subStore, err := push.OpenSubscriptionStore(*flagSubFile)
	if err != nil {
		return errorf("subscription store: %v", err)
	}
	defer subStore.Close()

	var notifier ws.Notifier = ws.NopNotifier{}
	if !*flagDisablePush {
		notifier = push.NewDispatcher(subStore, push.NewWebpushSender(secrets.vapid), pushTitle)
	}

	hub := ws.NewHub(
		auth.NewSecretClient(secrets.entryPassword),
		ws.NewChatApi(msgStore, ws.ChatConf{
			AdminSecret:  secrets.adminPassword,
			MaxTextBytes: int(*flagMaxTextSize),
		}),
		notifier,
	)

	router := newRouter(hub, subStore, secrets.entryPassword)

	httpServer := &http.Server{
		Addr:    *flagAddr,
		Handler: router,
	}

	stopNotifyChan := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go hub.Run(ctx, stopNotifyChan)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Errorf("http server: %v", err)
		}
	}()

	glog.Infof("minichat server is listening on %s", *flagAddr)
	glog.Infof("`kill -USR1 %d` to dump goroutines; `kill -USR2 %d` to start/stop profiler; `CTRL+c` or `kill %d` to graceful stop", pid, pid, pid)

	var stopping bool

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2, syscall.SIGTERM, syscall.SIGINT)

	var prof *Profiler

	for sig := range sigCh {
		switch sig {
		case syscall.SIGUSR1:
			if prof != nil {
				prof.dumpGoroutines()
			}
		case syscall.SIGUSR2:
			if prof == nil {
				prof = StartProfiler(pprofDir)
			} else {
				prof.Stop()
				prof = nil
			}
		case syscall.SIGTERM, syscall.SIGINT:
			if stopping {
				glog.Infof("minichat server is already in stop")
				continue
			}
			stopping = true
			glog.Infof("received signal `%s`, stopping", sig.String())
			go func() {
				if prof != nil {
					prof.Stop()
				}
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = httpServer.Shutdown(shutdownCtx)
				shutdownCancel()
				cancel()
				<-stopNotifyChan
				close(stopNotifyChan)
				signal.Stop(sigCh)
				close(sigCh)
			}()
		}
	}

	glog.Info("minichat server exited")
	return 0
}

func newRouter(hub *ws.Hub, subStore *push.SubscriptionStore, entryPassword string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if !*flagDisableMetrics {
		r.Handle("/metrics", promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{},
		))
	}

	r.Handle("/ws", hub)

	// Entry gate used by the browser client before it opens the socket.
	r.Post("/check-password", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{
			"ok": auth.SecretEqual(req.Password, entryPassword),
		})
	})

	r.Post("/subscribe", func(w http.ResponseWriter, r *http.Request) {
		var sub webpush.Subscription
		if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := subStore.Add(&sub); err != nil {
			glog.Errorf("subscribe: %v", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})
	})

	if *flagStaticDir != "" {
		fs := http.FileServer(http.Dir(*flagStaticDir))
		r.Handle("/*", fs)
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func loadSecrets() (*secretConf, error) {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	s := &secretConf{
		entryPassword: os.Getenv("ENTRY_PASSWORD"),
		adminPassword: os.Getenv("ADMIN_PASSWORD"),
		vapid: push.VapidConf{
			Subject:    os.Getenv("VAPID_SUBJECT"),
			PublicKey:  os.Getenv("VAPID_PUBLIC_KEY"),
			PrivateKey: os.Getenv("VAPID_PRIVATE_KEY"),
		},
	}

	if s.entryPassword == "" {
		return nil, fmt.Errorf("ENTRY_PASSWORD is required")
	}
	if s.adminPassword == "" {
		glog.Warning("ADMIN_PASSWORD is not set, admin clear-all is disabled")
	}
	if !*flagDisablePush {
		if s.vapid.PublicKey == "" || s.vapid.PrivateKey == "" {
			return nil, fmt.Errorf("VAPID_PUBLIC_KEY and VAPID_PRIVATE_KEY are required unless --disable-push")
		}
		if s.vapid.Subject == "" {
			s.vapid.Subject = "mailto:admin@example.com"
		}
	}
	return s, nil
}

func validateFlags() int {
	if *flagAddr == "" {
		return errorf("--addr is required")
	}
	if err := validateAddr(*flagAddr); err != nil {
		return errorf("--addr: %v", err)
	}
	if *flagPidFile == "" {
		return errorf("--pid-file is required")
	}
	if *flagPprofDir == "" {
		return errorf("--pprof-dir is required")
	}
	if *flagMessageFile == "" {
		return errorf("--message-file is required")
	}
	if *flagSubFile == "" {
		return errorf("--sub-file is required")
	}

	if *flagMaxMessages < minMaxMessages || *flagMaxMessages > maxMaxMessages {
		return errorf("invalid --max-messages, expect in range [%d, %d]", minMaxMessages, maxMaxMessages)
	}
	if *flagMaxTextSize == 0 {
		return errorf("--max-text-size is required positive integer")
	}

	if *flagStaticDir != "" {
		if _, err := os.Stat(*flagStaticDir); err != nil {
			return errorf("error stat static dir `%s`: %v", *flagStaticDir, err)
		}
	}

	return 0
}

func validateAddr(s string) error {
	ips, _, err := net.SplitHostPort(s)
	if err != nil {
		return fmt.Errorf("error split host port from `%s`: %v", s, err)
	}
	if ips == "" {
		return nil
	}
	ip := net.ParseIP(ips)
	if ip == nil {
		return fmt.Errorf("error parse IP from host `%s`", ips)
	}
	return nil
}

func errorf(format string, args ...interface{}) int {
	glog.Errorf(format, args...)
	return 1
}

func savePid(name string, pid int) error {
	if _, err := os.Stat(name); err == nil {
		content, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		if len(content) > 0 {
			oldPid, err := strconv.Atoi(string(content))
			if err != nil {
				return err
			}

			proc, err := os.FindProcess(oldPid)
			if err != nil {
				return err
			}
			defer proc.Release()

			if err := proc.Signal(syscall.Signal(0)); err == nil {
				return fmt.Errorf("pid file: exists with pid: %d, the process is running", oldPid)
			}
			glog.Infof("pid file exists with pid: %d, but is not running", oldPid)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("pid file: stat error: %v", err)
	}

	if err := os.WriteFile(name, []byte(strconv.Itoa(pid)), 0600); err != nil {
		return fmt.Errorf("pid file: write error: %v", err)
	}
	glog.Infof("pid file: write pid done")
	return nil
}
