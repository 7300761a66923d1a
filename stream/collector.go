package stream

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Collector accumulates the events of one invocation.
type Collector struct {
	mu       sync.Mutex
	events   []Event
	started  time.Time
	complete bool
}

func NewCollector() *Collector {
	return &Collector{started: time.Now()}
}

func (c *Collector) Add(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	if e.Terminal() {
		c.complete = true
	}
}

// Complete marks the collection finished even without a terminal event.
func (c *Collector) Complete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete = true
}

func (c *Collector) Completed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Events returns a copy of the collected events.
func (c *Collector) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

// Elapsed is the time since the collector was created or reset.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.started)
}

// FinalText is the answer of the invocation: the Done text when present,
// otherwise the concatenated output fragments.
func (c *Collector) FinalText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var b strings.Builder
	for _, e := range c.events {
		switch e.Kind {
		case Done:
			if strings.TrimSpace(e.Text) != "" {
				return strings.TrimSpace(e.Text)
			}
		case OutputFragment:
			b.WriteString(e.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

// Err returns the terminal error event, if the stream ended with one.
func (c *Collector) Err() (Event, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].Kind == Error {
			return c.events[i], true
		}
	}
	return Event{}, false
}

// ToolsUsed lists the distinct tool names called, sorted.
func (c *Collector) ToolsUsed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return toolNames(c.events)
}

func toolNames(events []Event) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range events {
		if e.Kind == ToolCall && e.ToolCall != nil && !seen[e.ToolCall.Name] {
			seen[e.ToolCall.Name] = true
			out = append(out, e.ToolCall.Name)
		}
	}
	sort.Strings(out)
	return out
}

// ThinkingProcess renders every non-output event, in order.
func (c *Collector) ThinkingProcess() string {
	events := c.Events()
	if len(events) == 0 {
		return "No events captured yet."
	}
	var b strings.Builder
	for _, e := range events {
		if e.Kind == OutputFragment {
			continue
		}
		b.WriteString(Format(e))
	}
	return b.String()
}

// Summary counts events by category.
func (c *Collector) Summary() string {
	events := c.Events()
	if len(events) == 0 {
		return "No events to summarize."
	}
	cat := Categorize(events)
	calls := 0
	for _, e := range cat.ToolUsage {
		if e.Kind == ToolCall {
			calls++
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Total events: %d\n", len(events))
	fmt.Fprintf(&b, "Reasoning steps: %d\n", len(cat.Reasoning))
	fmt.Fprintf(&b, "Tool calls: %d\n", calls)
	fmt.Fprintf(&b, "Text chunks: %d\n", len(cat.TextGeneration))
	fmt.Fprintf(&b, "Errors: %d\n", len(cat.Errors))
	if names := toolNames(events); len(names) > 0 {
		fmt.Fprintf(&b, "Tools called: %s\n", strings.Join(names, ", "))
	}
	for i, e := range cat.Errors {
		fmt.Fprintf(&b, "Error %d: %s\n", i+1, e.ErrorMessage())
	}
	return b.String()
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.started = time.Now()
	c.complete = false
}

// Categories groups events for analysis.
type Categories struct {
	Reasoning      []Event
	ToolUsage      []Event
	TextGeneration []Event
	Lifecycle      []Event
	Errors         []Event
}

func Categorize(events []Event) Categories {
	var c Categories
	for _, e := range events {
		switch e.Kind {
		case Error:
			c.Errors = append(c.Errors, e)
		case Reasoning:
			c.Reasoning = append(c.Reasoning, e)
		case ToolCall, ToolResult:
			c.ToolUsage = append(c.ToolUsage, e)
		case OutputFragment:
			c.TextGeneration = append(c.TextGeneration, e)
		default:
			c.Lifecycle = append(c.Lifecycle, e)
		}
	}
	return c
}
