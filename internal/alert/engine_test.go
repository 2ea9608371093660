package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whatsapp-alert/internal/config"
	"whatsapp-alert/internal/notification"
	"whatsapp-alert/internal/payload"
	"whatsapp-alert/internal/tagstore"
)

type sentMessage struct {
	To   string
	Text string
}

type fakeNotifier struct {
	mu      sync.Mutex
	ready   error
	failFor map[string]bool
	sent    []sentMessage
}

func (f *fakeNotifier) Name() string { return "fake" }
func (f *fakeNotifier) Ready() error { return f.ready }
func (f *fakeNotifier) Send(_ context.Context, to, text string) (*notification.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{To: to, Text: text})
	if f.failFor[to] {
		return nil, errors.New("upstream 500")
	}
	return &notification.Result{StatusCode: 200}, nil
}

type fakeEmitter struct {
	marks map[string][]string
}

func (f *fakeEmitter) Emit(_ context.Context, name, value string) error {
	if f.marks == nil {
		f.marks = map[string][]string{}
	}
	f.marks[name] = append(f.marks[name], value)
	return nil
}

type fakeHistory struct {
	records []Record
}

func (f *fakeHistory) Record(_ context.Context, rec Record) error {
	f.records = append(f.records, rec)
	return nil
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// Since renders the instant d before now.
func (c *clock) Since(d time.Duration) string { return FormatTimestamp(c.t.Add(-d)) }

type harness struct {
	engine   *Engine
	store    *tagstore.MemoryStore
	notifier *fakeNotifier
	emitter  *fakeEmitter
	history  *fakeHistory
	clock    *clock
}

func baseConfig() *config.Config {
	return &config.Config{
		DeviceName: "pump-1",
		Recipients: "+1 234-567, +44 20 7946",
		Thresholds: []config.ThresholdConfig{{
			TagName:         "sensors.temperature",
			Operator:        ptr(">"),
			ThresholdValue:  ptr(100.0),
			CooldownMinutes: ptr(15),
		}},
	}
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		store:    tagstore.NewMemoryStore(),
		notifier: &fakeNotifier{},
		emitter:  &fakeEmitter{},
		history:  &fakeHistory{},
		clock:    &clock{t: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
	}
	e, err := NewEngine(cfg, h.store, h.emitter, h.notifier, WithClock(h.clock.Now), WithHistory(h.history))
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) run(t *testing.T, doc string) PassResult {
	t.Helper()
	v, err := payload.Decode([]byte(doc))
	require.NoError(t, err)
	return h.engine.Process(context.Background(), Invocation{ID: "test", Trigger: "test", Payload: &v})
}

func (h *harness) cooldowns(t *testing.T) map[string]string {
	t.Helper()
	data, ok, err := h.store.Get(context.Background(), TagCooldowns)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	state, err := DecodeCooldownState(data)
	require.NoError(t, err)
	return state
}

const hot = `{"sensors": {"temperature": 105}}`

func TestEngine_FiresOncePerRecipient(t *testing.T) {
	h := newHarness(t, baseConfig())

	res := h.run(t, hot)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 2, res.Sent)
	require.Len(t, h.notifier.sent, 2)
	assert.Equal(t, "+1 234-567", h.notifier.sent[0].To)
	assert.Equal(t, "+44 20 7946", h.notifier.sent[1].To)
	assert.Equal(t, "[Doover Alert] Alert: sensors.temperature is 105", h.notifier.sent[0].Text)

	assert.Equal(t, map[string]string{"sensors.temperature_>_100": "2024-01-15T10:30:00Z"}, h.cooldowns(t))

	count, ok, _ := h.store.Get(context.Background(), TagMessagesSent)
	require.True(t, ok)
	assert.Equal(t, "2", string(count))
	assert.Len(t, h.emitter.marks[MarkerLastMessageSent], 2)

	require.Len(t, h.history.records, 1)
	rec := h.history.records[0]
	assert.Equal(t, "sensors.temperature_>_100", rec.RuleKey)
	assert.Equal(t, 105.0, rec.Value)
	assert.Equal(t, 2, rec.Sent)
	assert.Equal(t, "pump-1", rec.DeviceName)
}

func TestEngine_SuppressedWithinCooldown(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.run(t, hot)
	before := h.cooldowns(t)

	h.clock.Advance(time.Minute)
	res := h.run(t, hot)
	assert.Equal(t, 1, res.Suppressed)
	assert.Equal(t, 0, res.Fired)
	assert.Len(t, h.notifier.sent, 2, "no new sends")
	assert.Equal(t, before, h.cooldowns(t))

	h.clock.Advance(15 * time.Minute)
	res = h.run(t, hot)
	assert.Equal(t, 1, res.Fired)
	assert.Len(t, h.notifier.sent, 4)
	assert.Equal(t, "2024-01-15T10:46:00Z", h.cooldowns(t)["sensors.temperature_>_100"])
}

func TestEngine_MissingOrNonNumericTag(t *testing.T) {
	h := newHarness(t, baseConfig())

	for _, doc := range []string{
		`{"sensors": {"humidity": 40}}`,
		`{"sensors": 7}`,
		`{"sensors": {"temperature": "hot"}}`,
		`{"sensors": {"temperature": null}}`,
		`[]`,
	} {
		res := h.run(t, doc)
		assert.Equal(t, 1, res.Missing, doc)
	}
	assert.Empty(t, h.notifier.sent)
	assert.Nil(t, h.cooldowns(t))
}

func TestEngine_NumericStringValue(t *testing.T) {
	h := newHarness(t, baseConfig())
	res := h.run(t, `{"sensors": {"temperature": " 101.5 "}}`)
	assert.Equal(t, 1, res.Fired)
}

func TestEngine_NotViolated(t *testing.T) {
	h := newHarness(t, baseConfig())
	res := h.run(t, `{"sensors": {"temperature": 100}}`)
	assert.Equal(t, 1, res.Evaluated)
	assert.Equal(t, 0, res.Violations)
	assert.Empty(t, h.notifier.sent)
}

func TestEngine_DisabledIsIdempotent(t *testing.T) {
	cfg := baseConfig()
	cfg.Enabled = ptr(false)
	h := newHarness(t, cfg)

	for i := 0; i < 2; i++ {
		res := h.run(t, hot)
		assert.True(t, res.Skipped)
		res = h.engine.Process(context.Background(), Invocation{Trigger: "schedule"})
		assert.True(t, res.Skipped)
	}
	assert.Empty(t, h.notifier.sent)
	assert.Empty(t, h.store.Names())
	assert.Empty(t, h.emitter.marks)
}

func TestEngine_Heartbeat(t *testing.T) {
	h := newHarness(t, baseConfig())
	res := h.engine.Process(context.Background(), Invocation{Trigger: "schedule"})
	assert.True(t, res.Heartbeat)
	assert.Equal(t, []string{"2024-01-15T10:30:00Z"}, h.emitter.marks[MarkerLastScheduledRun])
	assert.Empty(t, h.notifier.sent)
	assert.Empty(t, h.store.Names(), "cooldowns untouched")
}

func TestEngine_NoThresholds(t *testing.T) {
	cfg := baseConfig()
	cfg.Thresholds = nil
	h := newHarness(t, cfg)
	res := h.run(t, hot)
	assert.Equal(t, PassResult{}, res)
	assert.Empty(t, h.store.Names())
}

func TestEngine_SharedKeyFiresOnce(t *testing.T) {
	cfg := baseConfig()
	cfg.Thresholds = append(cfg.Thresholds, config.ThresholdConfig{
		TagName:         "sensors.temperature",
		Operator:        ptr(" > "),
		ThresholdValue:  ptr(100.0),
		MessageTemplate: ptr("second {value}"),
	})
	h := newHarness(t, cfg)

	res := h.run(t, hot)
	assert.Equal(t, 1, res.Fired)
	assert.Equal(t, 1, res.Suppressed)
	assert.Len(t, h.notifier.sent, 2)
}

func TestEngine_IndependentRules(t *testing.T) {
	cfg := baseConfig()
	cfg.Thresholds = append(cfg.Thresholds,
		config.ThresholdConfig{TagName: "battery", Operator: ptr("<"), ThresholdValue: ptr(12.0), MessageTemplate: ptr("{tag_name} {operator} {threshold}")},
		config.ThresholdConfig{TagName: "pressure", Operator: ptr("=="), ThresholdValue: ptr(3.0)},
	)
	h := newHarness(t, cfg)

	res := h.run(t, `{"sensors": {"temperature": 105}, "battery": 11.8, "pressure": 3.1}`)
	assert.Equal(t, 3, res.Evaluated)
	assert.Equal(t, 2, res.Fired)
	assert.Len(t, h.notifier.sent, 4)
	assert.Equal(t, "[Doover Alert] battery < 12", h.notifier.sent[2].Text)
	assert.Len(t, h.cooldowns(t), 2)
}

func TestEngine_CorruptedCooldownFailsOpen(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, TagCooldowns, []byte(`{"sensors.temperature_>_100":"yesterday-ish"}`)))

	res := h.run(t, hot)
	assert.Equal(t, 1, res.Fired)

	require.NoError(t, h.store.Set(ctx, TagCooldowns, []byte(`not json`)))
	h.clock.Advance(time.Hour)
	res = h.run(t, hot)
	assert.Equal(t, 1, res.Fired)
}

func TestEngine_PriorCooldownFromStore(t *testing.T) {
	h := newHarness(t, baseConfig())
	ctx := context.Background()
	require.NoError(t, h.store.Set(ctx, TagCooldowns,
		[]byte(`{"sensors.temperature_>_100":"`+h.clock.Since(5*time.Minute)+`"}`)))
	res := h.run(t, hot)
	assert.Equal(t, 1, res.Suppressed)

	require.NoError(t, h.store.Set(ctx, TagCooldowns,
		[]byte(`{"sensors.temperature_>_100":"`+h.clock.Since(20*time.Minute)+`"}`)))
	res = h.run(t, hot)
	assert.Equal(t, 1, res.Fired)
}

func TestEngine_TemplateFallback(t *testing.T) {
	cfg := baseConfig()
	cfg.Thresholds[0].MessageTemplate = ptr("{tag_name} reached {unit}")
	cfg.DefaultMessagePrefix = ptr("")
	h := newHarness(t, cfg)

	h.run(t, hot)
	require.NotEmpty(t, h.notifier.sent)
	assert.Equal(t, "Alert: sensors.temperature = 105", h.notifier.sent[0].Text)
}

func TestEngine_IncompleteCredentials(t *testing.T) {
	h := newHarness(t, baseConfig())
	h.notifier.ready = notification.ErrIncompleteConfig

	res := h.run(t, hot)
	assert.Empty(t, h.notifier.sent)
	assert.Equal(t, 0, res.Sent)
	assert.Equal(t, 1, res.Fired)
	assert.Contains(t, h.cooldowns(t), "sensors.temperature_>_100")
	_, ok, _ := h.store.Get(context.Background(), TagMessagesSent)
	assert.False(t, ok)
}

func TestEngine_NoRecipients(t *testing.T) {
	cfg := baseConfig()
	cfg.Recipients = " , "
	h := newHarness(t, cfg)

	h.run(t, hot)
	assert.Empty(t, h.notifier.sent)
}

func TestEngine_RecipientFailureIsolated(t *testing.T) {
	cfg := baseConfig()
	cfg.Recipients = "111,222,333"
	h := newHarness(t, cfg)
	h.notifier.failFor = map[string]bool{"111": true}

	res := h.run(t, hot)
	assert.Len(t, h.notifier.sent, 3)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)

	count, _, _ := h.store.Get(context.Background(), TagMessagesSent)
	assert.Equal(t, "2", string(count))
	assert.Equal(t, 1, h.history.records[0].Failed)
}

// flakyStore fails every write.
type flakyStore struct {
	*tagstore.MemoryStore
}

func (flakyStore) Set(context.Context, string, []byte) error { return errors.New("disk full") }

func TestEngine_StorageWriteFailureIsNonFatal(t *testing.T) {
	cfg := baseConfig()
	n := &fakeNotifier{}
	e, err := NewEngine(cfg, flakyStore{tagstore.NewMemoryStore()}, &fakeEmitter{}, n)
	require.NoError(t, err)

	v, err := payload.Decode([]byte(hot))
	require.NoError(t, err)
	res := e.Process(context.Background(), Invocation{Payload: &v})
	assert.Equal(t, 1, res.Fired)
	assert.Len(t, n.sent, 2)
}

func TestNewEngine_StrictOperators(t *testing.T) {
	cfg := baseConfig()
	cfg.StrictOperators = true
	cfg.Thresholds[0].Operator = ptr("gt")
	_, err := NewEngine(cfg, tagstore.NewMemoryStore(), nil, &fakeNotifier{})
	assert.ErrorIs(t, err, ErrUnknownOperator)
}

func TestEngine_Cooldowns(t *testing.T) {
	h := newHarness(t, baseConfig())
	assert.Empty(t, h.engine.Cooldowns(context.Background()))
	h.run(t, hot)
	assert.Len(t, h.engine.Cooldowns(context.Background()), 1)
	assert.Len(t, h.engine.Rules(), 1)
}
