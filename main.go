package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gitlabrelay/internal"
	"gitlabrelay/pkg/bridge"
	"gitlabrelay/pkg/chat"
	"gitlabrelay/pkg/commands"
	"gitlabrelay/pkg/render"
	"gitlabrelay/pkg/route"
	"gitlabrelay/pkg/storage"
	"gitlabrelay/pkg/storage/memory"
	"gitlabrelay/pkg/storage/subscriptions"
	"gitlabrelay/pkg/webhook"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := openStore(config.Storage)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer store.Close()

	filters, err := internal.NewFilterSet(config.Filters(logger))
	if err != nil {
		logger.Fatalf("compile filters: %v", err)
	}
	renderer, err := render.NewRenderer(0)
	if err != nil {
		logger.Fatalf("renderer: %v", err)
	}

	drivers := config.Broker.DriverNames()
	var shared *gochannel.GoChannel
	if slices.Contains(drivers, "gochannel") {
		shared = internal.NewGoChannel(config.Broker.GoChannel, watermill.NewStdLogger(false, false))
		internal.RegisterPublisherDriver("gochannel", func(internal.BrokerConfig, watermill.LoggerAdapter) (message.Publisher, func() error, error) {
			return shared, nil, nil
		})
	}

	publisher, err := internal.NewPublisher(config.Broker)
	if err != nil {
		logger.Fatalf("publisher: %v", err)
	}
	defer publisher.Close()
	sink := internal.NewBrokerSink(publisher, config.Broker, internal.NewLogger("sink"))

	session := chat.NewSession(config.Chat.Network, config.Chat.Channels...)
	glHandler, err := webhook.NewGitLabHandler(webhook.GitLabConfig{
		Prefix:      config.GitLab.Path,
		Secret:      config.GitLab.Secret,
		MaxBody:     config.Server.MaxBodyBytes,
		DebugEvents: config.GitLab.DebugEvents,
		Session:     session,
		Router:      route.New(store, config.Chat.Network),
		Renderer:    renderer,
		Templates:   config.TemplateSet(),
		Filters:     filters,
		Sink:        sink,
		Logger:      internal.NewLogger("gitlab"),
	})
	if err != nil {
		logger.Fatalf("gitlab handler: %v", err)
	}

	worker, err := newBridgeWorker(config, drivers, shared)
	if err != nil {
		logger.Fatalf("bridge: %v", err)
	}
	if worker != nil {
		relay := &bridge.Relay{
			Session:  session,
			Commands: commands.NewHandler(store, config.Chat.Network, config.Chat.Admins, internal.NewLogger("commands")),
			Sink:     sink,
			Logger:   internal.NewLogger("bridge"),
		}
		relay.Register(worker)
	} else {
		logger.Printf("no subscribable broker driver in %v; join, part and command events are disabled", drivers)
	}

	proxies, err := internal.ParseTrustedProxies(config.Server.TrustedProxies)
	if err != nil {
		logger.Fatalf("trusted proxies: %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle(config.GitLab.Path, internal.NewRateLimitHandler(
		glHandler,
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
		10*time.Minute,
		proxies,
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}
	logger.Printf("gitlab webhook enabled on %s<network>/<channel> network=%s channels=%v",
		config.GitLab.Path, config.Chat.Network, session.Channels())

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if worker == nil {
			return
		}
		if err := worker.Run(ctx); err != nil {
			logger.Printf("bridge worker: %v", err)
		}
	}()

	go func() {
		logger.Printf("listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("listen: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	<-workerDone
	if worker != nil {
		if err := worker.Close(); err != nil {
			logger.Printf("bridge close: %v", err)
		}
	}
}

func openStore(cfg internal.StorageConfig) (storage.SubscriptionStore, error) {
	if strings.EqualFold(cfg.Driver, "memory") {
		return memory.New(), nil
	}
	return subscriptions.Open(subscriptions.Config{
		Driver:      cfg.Driver,
		DSN:         cfg.DSN,
		Table:       cfg.Table,
		AutoMigrate: cfg.AutoMigrate,
	})
}

// newBridgeWorker subscribes to the inbound topic. With only the in-memory
// go-channel configured, the worker also reads the outbound topic back and
// prints it, since no external chat bridge can attach.
func newBridgeWorker(config internal.Config, drivers []string, shared *gochannel.GoChannel) (*bridge.Worker, error) {
	logger := internal.NewLogger("bridge")
	opts := []bridge.Option{
		bridge.WithTopics(config.Broker.InboundTopic),
		bridge.WithLogger(logger),
		bridge.WithMiddleware(bridge.MiddlewareFromWatermill(middleware.Recoverer)),
		bridge.WithListener(bridge.Listener{
			OnReady: func(ctx context.Context, topics []string) {
				logger.Printf("subscribed to %v", topics)
			},
			OnError: func(ctx context.Context, evt *bridge.Event, err error) {
				kind := "decode"
				if evt != nil {
					kind = evt.Type
				}
				internal.IncBridgeError(kind)
			},
		}),
	}
	console := config.Broker.Console
	if len(drivers) == 1 && shared != nil {
		opts = append(opts, bridge.WithSubscriber(shared))
		console = true
	} else {
		subCfg := config.Broker
		subCfg.Driver = ""
		subCfg.Drivers = slices.DeleteFunc(slices.Clone(drivers), func(driver string) bool {
			return !internal.SupportsSubscriber(driver)
		})
		if len(subCfg.Drivers) == 0 {
			return nil, nil
		}
		sub, err := internal.NewSubscriber(subCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, bridge.WithSubscriber(sub))
	}

	worker := bridge.New(opts...)
	if console {
		worker.HandleTopic(config.Broker.OutboundTopic, bridge.Console(internal.NewLogger("console")))
	}
	return worker, nil
}
