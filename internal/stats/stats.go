package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"time"
)

const (
	FramesReceived = "FramesReceived"
	FramesDropped  = "FramesDropped"
	IntentsSent    = "IntentsSent"
	IntentsDropped = "IntentsDropped"
	Reconnects     = "Reconnects"
	ActiveSessions = "ActiveSessions"
)

var chatMetrics = []string{
	FramesReceived,
	FramesDropped,
	IntentsSent,
	IntentsDropped,
	Reconnects,
	ActiveSessions,
}

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
}

// Nop discards all updates. It is used when no stats sink is wired.
type Nop struct{}

func (Nop) Incr(string) {}
func (Nop) Decr(string) {}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater publishing the chat counters
// under name and serving them at GET /debug/vars on mux. name must be
// unique within the process.
func NewStatsUpdater(mux *http.ServeMux, name string) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.vars = expvar.NewMap(name)
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	for _, name := range chatMetrics {
		su.vars.Set(name, new(expvar.Int))
	}
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for req := range su.updateChan {
		metric, ok := su.vars.Get(req.name).(*expvar.Int)
		if !ok {
			continue
		}

		metric.Add(int64(req.value))
	}
}

// Incr never blocks the caller; updates are dropped if the queue is full.
func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

func (su *StatsUpdater) update(name string, value int) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	default:
	}
}

// Value returns the current value of a counter.
func (su *StatsUpdater) Value(name string) int64 {
	if metric, ok := su.vars.Get(name).(*expvar.Int); ok {
		return metric.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop drains pending updates and waits for the updater to exit.
func (su *StatsUpdater) Stop() {
	close(su.updateChan)
	<-su.done
}
