package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"whatsapp-alert/internal/alert"
	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/elasticsearch"
	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/notification"
	"whatsapp-alert/internal/tagstore"
	"whatsapp-alert/internal/trigger"
	"whatsapp-alert/internal/web"
)

func main() {
	var (
		configPath  string
		payloadPath string
		heartbeat   bool
	)
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to config.yaml")
	flag.StringVar(&payloadPath, "payload", "", "run a single pass over this JSON file and exit")
	flag.BoolVar(&heartbeat, "heartbeat", false, "run a single heartbeat pass and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Errorf("load config error: %v", err)
		os.Exit(1)
	}
	logging.Init(cfg.Logging.Level)

	if err := run(cfg, payloadPath, heartbeat); err != nil {
		logging.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, payloadPath string, heartbeat bool) error {
	store, err := tagstore.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("init tag store: %w", err)
	}
	defer store.Close()

	var (
		mqttClient paho.Client
		mqttSource *trigger.MQTTSource
	)
	if cfg.MQTT.Broker != "" {
		mqttSource = trigger.NewMQTTSource(cfg.MQTT)
		mqttClient = trigger.NewMQTTClient(cfg.MQTT, mqttSource.Handle)
		if err := trigger.ConnectMQTT(mqttClient); err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)
	}

	// 有 markerTopic 时时间戳通过 MQTT 发布，否则写入 tag 存储
	var emitter tagstore.Emitter = tagstore.NewStoreEmitter(tagstore.NewTags(store, cfg.Storage.GetTimeout()))
	if mqttClient != nil && cfg.MQTT.MarkerTopic != "" {
		emitter = trigger.NewMQTTEmitter(mqttClient, cfg.MQTT)
	}

	notifier, err := notification.BuildNotifier(cfg)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}
	if err := notifier.Ready(); err != nil {
		logging.Warnf("notifier %s not ready, alerts will not be delivered: %v", notifier.Name(), err)
	}

	opts := []alert.Option{}
	var history *elasticsearch.History
	if cfg.Elasticsearch.Enabled {
		esClient, err := elasticsearch.NewClient(cfg.Elasticsearch)
		if err != nil {
			return fmt.Errorf("init %s client: %w", cfg.Elasticsearch.Provider, err)
		}
		history = elasticsearch.NewHistory(esClient, cfg.Elasticsearch.Index)
		opts = append(opts, alert.WithHistory(history))
	}

	engine, err := alert.NewEngine(cfg, store, emitter, notifier, opts...)
	if err != nil {
		return fmt.Errorf("init alert engine: %w", err)
	}
	invoker := trigger.NewInvoker(engine)

	// 单次执行模式
	if payloadPath != "" {
		data, err := os.ReadFile(payloadPath)
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
		res, err := invoker.Payload(context.Background(), data, "cli")
		if err != nil {
			return err
		}
		logging.Infof("pass done: fired=%d sent=%d failed=%d", res.Fired, res.Sent, res.Failed)
		return nil
	}
	if heartbeat {
		invoker.Heartbeat(context.Background(), "cli")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if mqttSource != nil && cfg.MQTT.Topic != "" {
		if err := mqttSource.Start(ctx, mqttClient, invoker); err != nil {
			return err
		}
		defer mqttSource.Stop()
	}

	if cfg.Kafka.Topic != "" {
		src, err := trigger.NewKafkaSource(cfg.Kafka, invoker)
		if err != nil {
			return fmt.Errorf("init kafka source: %w", err)
		}
		defer src.Close()
		go func() {
			if err := src.Run(ctx); err != nil {
				logging.Errorf("%v", err)
				stop()
			}
		}()
	}

	if cfg.Scheduler.HeartbeatCron != "" {
		sched, err := trigger.NewScheduler(cfg.Scheduler, invoker)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	var historyReader web.HistoryReader
	if history != nil {
		historyReader = history
	}
	srv := web.NewServer(cfg, invoker, engine, historyReader)
	go func() {
		if err := srv.Start(); err != nil {
			logging.Errorf("web server error: %v", err)
			stop()
		}
	}()

	logging.Infof("whatsapp-alert is running, device=%s rules=%d timezone=%s", cfg.DeviceName, len(engine.Rules()), cfg.Scheduler.Timezone)
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warnf("web shutdown: %v", err)
	}
	logging.Infof("whatsapp-alert stopped")
	return nil
}
