package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	NumActiveClients  = "NumActiveClients"
	NumOnlineUsers    = "NumOnlineUsers"
	MessagesDelivered = "MessagesDelivered"
	ReadReceipts      = "ReadReceipts"
	TypingSignals     = "TypingSignals"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	stopOnce   sync.Once
	quit       chan struct{}
	done       chan struct{}
}

type metricsUpdateReq struct {
	name  string
	value int64
}

var (
	statsMap  *expvar.Map
	statsOnce sync.Once
)

// expvar panics on duplicate names, so the map is published once per process.
func publishedMap() *expvar.Map {
	statsOnce.Do(func() {
		statsMap = expvar.NewMap("gochat-stats")
	})
	return statsMap
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

// NewStatsUpdater creates a stats updater and mounts GET /debug/vars on mux.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       publishedMap(),
		updateChan: make(chan *metricsUpdateReq, 512),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))
}

func (su *StatsUpdater) updateMetrics() {
	defer close(su.done)
	for {
		select {
		case req := <-su.updateChan:
			su.apply(req)
		case <-su.quit:
			for {
				select {
				case req := <-su.updateChan:
					su.apply(req)
				default:
					return
				}
			}
		}
	}
}

func (su *StatsUpdater) apply(req *metricsUpdateReq) {
	if metric, ok := su.vars.Get(req.name).(*expvar.Int); ok {
		metric.Add(req.value)
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

func (su *StatsUpdater) update(name string, value int64) {
	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	case <-su.quit:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop drains pending updates and stops the updater.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.quit)
	})
	<-su.done
}
