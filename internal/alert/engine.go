package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/logging"
	"whatsapp-alert/internal/metrics"
	"whatsapp-alert/internal/notification"
	"whatsapp-alert/internal/payload"
	"whatsapp-alert/internal/tagstore"
)

// Tag and marker names shared with the rest of the deployment.
const (
	TagCooldowns           = "alert_cooldowns"
	TagMessagesSent        = "messages_sent_count"
	MarkerLastMessageSent  = "last_message_sent"
	MarkerLastScheduledRun = "last_scheduled_run"
)

// Invocation is one request to run a pass. A nil Payload is a heartbeat.
type Invocation struct {
	ID      string
	Trigger string
	Payload *payload.Value
}

// PassResult summarizes what one pass did.
type PassResult struct {
	Skipped    bool `json:"skipped"`
	Heartbeat  bool `json:"heartbeat"`
	Evaluated  int  `json:"evaluated"`
	Missing    int  `json:"missing"`
	Violations int  `json:"violations"`
	Suppressed int  `json:"suppressed"`
	Fired      int  `json:"fired"`
	Sent       int  `json:"sent"`
	Failed     int  `json:"failed"`
}

// Record is one fired alert as written to the history index.
type Record struct {
	RuleKey    string    `json:"rule_key"`
	TagName    string    `json:"tag_name"`
	Operator   string    `json:"operator"`
	Threshold  float64   `json:"threshold"`
	Value      float64   `json:"value"`
	Message    string    `json:"message"`
	DeviceName string    `json:"device_name"`
	Recipients []string  `json:"recipients"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	FiredAt    time.Time `json:"fired_at"`
}

// HistoryRecorder persists fired alerts somewhere searchable.
type HistoryRecorder interface {
	Record(ctx context.Context, rec Record) error
}

type Option func(*Engine)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithHistory records every fired alert through h.
func WithHistory(h HistoryRecorder) Option {
	return func(e *Engine) { e.history = h }
}

// Engine runs threshold passes. It keeps no cooldown state between passes;
// the map is reloaded from the store every time. Process is not safe for
// concurrent use, callers serialize passes.
type Engine struct {
	enabled     bool
	deviceName  string
	prefix      string
	rules       []Rule
	recipients  []string
	sendTimeout time.Duration

	tags     *tagstore.Tags
	emitter  tagstore.Emitter
	notifier notification.Notifier
	history  HistoryRecorder
	now      func() time.Time
}

func NewEngine(cfg *config.Config, store tagstore.Store, emitter tagstore.Emitter, notifier notification.Notifier, opts ...Option) (*Engine, error) {
	rules, err := RulesFromConfig(cfg.Thresholds, cfg.StrictOperators)
	if err != nil {
		return nil, fmt.Errorf("build rules: %w", err)
	}
	e := &Engine{
		enabled:     cfg.IsEnabled(),
		deviceName:  cfg.DeviceName,
		prefix:      cfg.MessagePrefix(),
		rules:       rules,
		recipients:  notification.ParseRecipients(cfg.Recipients),
		sendTimeout: cfg.WhatsApp.GetTimeout(),
		tags:        tagstore.NewTags(store, cfg.Storage.GetTimeout()),
		emitter:     emitter,
		notifier:    notifier,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Rules returns the rules in declaration order.
func (e *Engine) Rules() []Rule { return e.rules }

// Cooldowns reads the persisted cooldown map.
func (e *Engine) Cooldowns(ctx context.Context) CooldownState {
	return e.loadCooldowns(ctx)
}

// Process runs one pass. It never returns an error: every failure inside the
// pass is logged and the remaining rules still run.
func (e *Engine) Process(ctx context.Context, inv Invocation) PassResult {
	start := time.Now()
	log := logging.ForPass(inv.ID, inv.Trigger)
	var res PassResult
	defer func() {
		metrics.PassDuration.Observe(time.Since(start).Seconds())
	}()

	if !e.enabled {
		log.Info("alerting disabled, pass skipped")
		res.Skipped = true
		metrics.PassesTotal.WithLabelValues(inv.Trigger, "disabled").Inc()
		return res
	}

	if inv.Payload == nil {
		res.Heartbeat = true
		e.emit(ctx, log, MarkerLastScheduledRun, FormatTimestamp(e.now()))
		log.Debug("heartbeat recorded")
		metrics.PassesTotal.WithLabelValues(inv.Trigger, "heartbeat").Inc()
		return res
	}

	metrics.PassesTotal.WithLabelValues(inv.Trigger, "processed").Inc()
	if len(e.rules) == 0 {
		log.Debug("no thresholds configured")
		return res
	}

	state := e.loadCooldowns(ctx)
	for _, r := range e.rules {
		e.evaluate(ctx, log, r, *inv.Payload, state, &res)
	}
	log.WithFields(logrus.Fields{
		"evaluated":  res.Evaluated,
		"violations": res.Violations,
		"suppressed": res.Suppressed,
		"fired":      res.Fired,
	}).Debug("pass complete")
	return res
}

func (e *Engine) loadCooldowns(ctx context.Context) CooldownState {
	data, ok := e.tags.Get(ctx, TagCooldowns)
	if !ok {
		return CooldownState{}
	}
	state, err := DecodeCooldownState(data)
	if err != nil {
		logging.Warnf("%v, starting with empty cooldowns", err)
		return CooldownState{}
	}
	return state
}

func (e *Engine) evaluate(ctx context.Context, log *logrus.Entry, r Rule, data payload.Value, state CooldownState, res *PassResult) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("panic in rule %s: %v", r.Key(), rec)
			metrics.PanicsRecovered.WithLabelValues("rule").Inc()
		}
	}()

	res.Evaluated++
	value, ok := payload.Extract(data, r.TagName)
	if !ok {
		res.Missing++
		metrics.RuleEvaluationsTotal.WithLabelValues("missing").Inc()
		return
	}
	if !r.Operator.Violated(value, r.Threshold) {
		metrics.RuleEvaluationsTotal.WithLabelValues("ok").Inc()
		return
	}
	res.Violations++

	key := r.Key()
	now := e.now()
	if state.Suppressed(key, r.Cooldown, now) {
		res.Suppressed++
		metrics.RuleEvaluationsTotal.WithLabelValues("suppressed").Inc()
		log.Debugf("rule %s in cooldown", key)
		return
	}

	msg, err := FormatMessage(r.MessageTemplate, Vars{
		TagName:    r.TagName,
		Value:      value,
		Threshold:  r.Threshold,
		Operator:   r.OperatorLabel(),
		DeviceName: e.deviceName,
	}, e.prefix)
	if err != nil {
		log.Warnf("rule %s: %v, using fallback message", key, err)
	}

	// The cooldown starts even if dispatch was aborted or every send failed.
	sent, failed := e.dispatch(ctx, log, msg)
	res.Sent += sent
	res.Failed += failed
	res.Fired++
	metrics.RuleEvaluationsTotal.WithLabelValues("fired").Inc()

	state.Mark(key, now)
	e.tags.SetJSON(ctx, TagCooldowns, state)
	log.Infof("alert fired: %s value=%s sent=%d failed=%d", key, FormatNumber(value), sent, failed)

	e.record(ctx, log, Record{
		RuleKey:    key,
		TagName:    r.TagName,
		Operator:   r.OperatorLabel(),
		Threshold:  r.Threshold,
		Value:      value,
		Message:    msg,
		DeviceName: e.deviceName,
		Recipients: e.recipients,
		Sent:       sent,
		Failed:     failed,
		FiredAt:    now.UTC(),
	})
}

// dispatch sends msg to every recipient. Nothing is attempted when
// credentials or recipients are missing.
func (e *Engine) dispatch(ctx context.Context, log *logrus.Entry, msg string) (sent, failed int) {
	channel := e.notifier.Name()
	if err := e.notifier.Ready(); err != nil {
		log.Errorf("dispatch aborted: %v", err)
		metrics.DispatchTotal.WithLabelValues(channel, "aborted").Inc()
		return 0, 0
	}
	if len(e.recipients) == 0 {
		log.Error("dispatch aborted: no recipients configured")
		metrics.DispatchTotal.WithLabelValues(channel, "aborted").Inc()
		return 0, 0
	}

	for _, to := range e.recipients {
		if err := e.sendOne(ctx, to, msg); err != nil {
			failed++
			log.Errorf("send to %s via %s failed: %v", to, channel, err)
			metrics.DispatchTotal.WithLabelValues(channel, "failed").Inc()
			continue
		}
		sent++
		metrics.DispatchTotal.WithLabelValues(channel, "success").Inc()
		e.tags.Increment(ctx, TagMessagesSent)
		e.emit(ctx, log, MarkerLastMessageSent, FormatTimestamp(e.now()))
	}
	return sent, failed
}

func (e *Engine) sendOne(ctx context.Context, to, msg string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.PanicsRecovered.WithLabelValues("dispatch").Inc()
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	start := time.Now()
	_, err = e.notifier.Send(ctx, to, msg)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())
	return err
}

func (e *Engine) emit(ctx context.Context, log *logrus.Entry, name, value string) {
	if e.emitter == nil {
		return
	}
	if err := e.emitter.Emit(ctx, name, value); err != nil {
		log.Warnf("emit %s failed: %v", name, err)
	}
}

func (e *Engine) record(ctx context.Context, log *logrus.Entry, rec Record) {
	if e.history == nil {
		return
	}
	if err := e.history.Record(ctx, rec); err != nil {
		log.Warnf("record alert history: %v", err)
		metrics.HistoryErrorsTotal.Inc()
	}
}
