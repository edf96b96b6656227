package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"company-qa-go/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func sampleResult(answer string) model.ChatResult {
	return model.ChatResult{
		Answer:       answer,
		Sources:      []model.Source{{RowNumber: 2, Question: "q", RelevanceScore: 0.9, Link: "https://example.com"}},
		Confidence:   0.9,
		Model:        "gpt-4o-mini",
		MatchesFound: 1,
		Outcome:      model.OutcomeAnswered,
	}
}

func TestKeyNormalization(t *testing.T) {
	assert.Equal(t, Key("hello"), Key("Hello "))
	assert.Equal(t, Key("hello"), Key("  HELLO\n"))
	assert.NotEqual(t, Key("hello"), Key("hello world"))
	assert.Len(t, Key("x"), 64)
}

func TestGetReturnsStoredResult(t *testing.T) {
	c := New(4, time.Hour)
	want := sampleResult("answer")
	c.Put("refund policy", want)

	got, ok := c.Get("refund policy")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestCaseAndWhitespaceCollide(t *testing.T) {
	c := New(4, time.Hour)
	c.Put("Hello ", sampleResult("first"))

	got, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, "first", got.Answer)

	c.Put("hello", sampleResult("second"))
	assert.Equal(t, 1, c.Len())
	got, ok = c.Get("HELLO")
	require.True(t, ok)
	assert.Equal(t, "second", got.Answer)
}

func TestMiss(t *testing.T) {
	c := New(4, time.Hour)
	_, ok := c.Get("nothing here")
	assert.False(t, ok)
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	const maxSize = 3
	c := New(maxSize, time.Hour)
	for i := 0; i < maxSize; i++ {
		c.Put(fmt.Sprintf("q%d", i), sampleResult(fmt.Sprintf("a%d", i)))
	}
	// q0 becomes most recently used; q1 is now the oldest
	_, ok := c.Get("q0")
	require.True(t, ok)

	c.Put("q3", sampleResult("a3"))
	assert.Equal(t, maxSize, c.Len())

	_, ok = c.Get("q1")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, q := range []string{"q0", "q2", "q3"} {
		_, ok := c.Get(q)
		assert.True(t, ok, q)
	}
}

func TestEvictsOldestInsertWhenUntouched(t *testing.T) {
	c := New(2, time.Hour)
	c.Put("a", sampleResult("a"))
	c.Put("b", sampleResult("b"))
	c.Put("c", sampleResult("c"))

	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestExpiryIsLazy(t *testing.T) {
	clock := newClock()
	c := New(4, time.Minute, WithClock(clock.Now))
	c.Put("q", sampleResult("a"))

	clock.Advance(59 * time.Second)
	_, ok := c.Get("q")
	require.True(t, ok)

	clock.Advance(2 * time.Second)
	// not removed until accessed
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get("q")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestReturnedValueIsACopy(t *testing.T) {
	c := New(4, time.Hour)
	original := sampleResult("a")
	c.Put("q", original)

	// mutating the caller's value after Put does not leak in
	original.Sources[0].Question = "mutated before"

	got, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, "q", got.Sources[0].Question)

	got.Sources[0].Question = "mutated after"
	got.Answer = "changed"

	again, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, "q", again.Sources[0].Question)
	assert.Equal(t, "a", again.Answer)
}

func TestPutStripsCachedFlag(t *testing.T) {
	c := New(4, time.Hour)
	r := sampleResult("a")
	r.Cached = true
	c.Put("q", r)

	got, ok := c.Get("q")
	require.True(t, ok)
	assert.False(t, got.Cached)
}

func TestClear(t *testing.T) {
	c := New(4, time.Hour)
	c.Put("a", sampleResult("a"))
	c.Put("b", sampleResult("b"))
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	c := New(16, time.Hour)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				q := fmt.Sprintf("q%d", (i+j)%20)
				c.Put(q, sampleResult(q))
				c.Get(q)
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 16)
}

func TestExpiredGetKeepsEntryWrittenConcurrently(t *testing.T) {
	clock := newClock()
	var c *ResponseCache
	var hook func()
	c = New(4, time.Minute, WithClock(func() time.Time {
		if h := hook; h != nil {
			hook = nil
			h()
		}
		return clock.Now()
	}))
	c.Put("refund policy", sampleResult("stale"))
	clock.Advance(2 * time.Minute)

	// 在 Get 判定过期之后、删除之前写入新结果
	hook = func() { c.Put("refund policy", sampleResult("fresh")) }
	_, ok := c.Get("refund policy")
	assert.False(t, ok)

	got, ok := c.Get("refund policy")
	require.True(t, ok, "the fresh entry must survive the stale entry's removal")
	assert.Equal(t, "fresh", got.Answer)
}
