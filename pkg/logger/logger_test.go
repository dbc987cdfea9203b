package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }

func decode(t *testing.T, buf *bytes.Buffer) Entry {
	t.Helper()
	var entry Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_WritesStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelDebug, Now: fixedNow, AddCaller: true})

	log.With(Component("recorder")).Warn("rule failed",
		UserID("default_user"),
		AchievementID("streak_3"),
		Elapsed(1500*time.Millisecond),
		Err(errors.New("boom")),
	)

	entry := decode(t, &buf)
	assert.Equal(t, "2024-03-10T12:00:00Z", entry.Timestamp)
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "rule failed", entry.Message)
	assert.True(t, strings.HasPrefix(entry.Caller, "logger_test.go:"), entry.Caller)
	assert.Equal(t, "recorder", entry.Fields["component"])
	assert.Equal(t, "default_user", entry.Fields["user_id"])
	assert.Equal(t, "streak_3", entry.Fields["achievement_id"])
	assert.Equal(t, float64(1500), entry.Fields["duration_ms"])
	assert.Equal(t, "boom", entry.Fields["error"])
}

func TestLogger_CallSiteFieldsWin(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).With(Component("server"))

	log.Info("override", Component("handler"))
	assert.Equal(t, "handler", decode(t, &buf).Fields["component"])
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo, Format: FormatText, Now: fixedNow})

	log.With(UserID("u1")).Info("attempt recorded", Streak(3), String("note", "two words"), Bool("first_solve", true))

	assert.Equal(t,
		"2024-03-10T12:00:00Z INFO  attempt recorded first_solve=true note=\"two words\" streak=3 user_id=u1\n",
		buf.String())
}

func TestLogger_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelWarn})

	assert.False(t, log.Enabled(LevelInfo))
	log.Info("ignored")
	assert.Zero(t, buf.Len())

	log.Error("kept")
	assert.NotZero(t, buf.Len())

	assert.False(t, Nop().Enabled(LevelError))
}

func TestLogger_DerivedLoggersShareOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New(Options{Output: &buf, Level: LevelInfo})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(l *Logger) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Info("line")
			}
		}(root.With(Int("worker", i)))
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 400)
	for _, line := range lines {
		assert.True(t, json.Valid([]byte(line)), line)
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelWarn, ParseLevel(" warning "))
	assert.Equal(t, LevelInfo, ParseLevel("nonsense"))
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("TEXT"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatJSON, ParseFormat(""))
}

func TestContextPropagation(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Output: &buf, Level: LevelInfo}).WithRequestID("req-1")

	ctx := WithContext(context.Background(), log)
	FromContext(ctx).Info("hello")

	entry := decode(t, &buf)
	assert.Equal(t, "req-1", entry.Fields[RequestIDKey])
}

func TestSetDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	SetDefault(New(Options{Output: &buf, Level: LevelInfo}))

	FromContext(context.Background()).Info("fallback")
	assert.Equal(t, "fallback", decode(t, &buf).Message)

	SetDefault(nil)
	assert.NotNil(t, Default())
}
