package batch

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/m4xw311/mailtriage/protocol"
)

// Stats summarises a batch run.
type Stats struct {
	Total                 int                         `json:"total"`
	Completed             int                         `json:"completed"`
	Failed                int                         `json:"failed"`
	SuccessRate           float64                     `json:"success_rate"`
	TotalTime             time.Duration               `json:"total_time"`
	AverageTime           time.Duration               `json:"average_time"`
	Intents               map[protocol.Category]int   `json:"intents"`
	Confidence            map[protocol.Confidence]int `json:"confidence"`
	OrdersFound           int                         `json:"orders_found"`
	AverageResponseLength int                         `json:"average_response_length"`
}

// Summarize aggregates results. Averages are over completed conversations.
func Summarize(results []Result) Stats {
	st := Stats{
		Total:      len(results),
		Intents:    map[protocol.Category]int{},
		Confidence: map[protocol.Confidence]int{},
	}
	var lengths int
	for _, r := range results {
		st.TotalTime += r.Duration
		if !r.OK() {
			st.Failed++
			continue
		}
		st.Completed++
		st.Intents[r.Primary]++
		if r.Confidence != "" {
			st.Confidence[r.Confidence]++
		}
		if len(r.OrderIDs) > 0 {
			st.OrdersFound++
		}
		lengths += r.ResponseLength
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Completed) * 100 / float64(st.Total)
	}
	if st.Completed > 0 {
		st.AverageTime = st.TotalTime / time.Duration(st.Completed)
		st.AverageResponseLength = lengths / st.Completed
	}
	return st
}

// Report prints st in the console layout, distributions sorted by count.
func (st Stats) Report(w io.Writer) {
	fmt.Fprintln(w, "Batch analysis summary")
	fmt.Fprintf(w, "  Conversations: %d (completed %d, failed %d)\n", st.Total, st.Completed, st.Failed)
	fmt.Fprintf(w, "  Success rate: %.1f%%\n", st.SuccessRate)
	fmt.Fprintf(w, "  Total time: %s, average %.2fs per conversation\n", st.TotalTime.Round(time.Millisecond), st.AverageTime.Seconds())

	if len(st.Intents) > 0 {
		fmt.Fprintln(w, "Intent distribution:")
		for _, kv := range sortedCounts(st.Intents) {
			fmt.Fprintf(w, "  %-34s %3d (%.1f%%)\n", kv.key, kv.n, float64(kv.n)*100/float64(st.Completed))
		}
	}
	if len(st.Confidence) > 0 {
		fmt.Fprintln(w, "Confidence distribution:")
		for _, kv := range sortedCounts(st.Confidence) {
			fmt.Fprintf(w, "  %-34s %3d\n", kv.key, kv.n)
		}
	}
	fmt.Fprintf(w, "Conversations with order IDs: %d\n", st.OrdersFound)
	if st.AverageResponseLength > 0 {
		fmt.Fprintf(w, "Average response length: %d characters\n", st.AverageResponseLength)
	}
}

type count struct {
	key string
	n   int
}

func sortedCounts[K ~string](m map[K]int) []count {
	out := make([]count, 0, len(m))
	for k, n := range m {
		out = append(out, count{string(k), n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].n != out[j].n {
			return out[i].n > out[j].n
		}
		return out[i].key < out[j].key
	})
	return out
}
