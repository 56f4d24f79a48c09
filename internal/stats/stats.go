package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveClients      = "NumActiveClients"
	ActiveRooms        = "NumActiveRooms"
	MessagesPublished  = "NumMessagesPublished"
	DeliveriesDropped  = "NumDeliveriesDropped"
	updateChanCapacity = 512
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
	Run()
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	stopOnce   sync.Once
	stopped    chan struct{}
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

// NewStatsUpdater creates a stats updater and serves its metrics on
// GET /debug/vars. The map is not published to the global expvar registry
// so several updaters can coexist in one process.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		updateChan: make(chan *metricsUpdateReq, updateChanCapacity),
		stopped:    make(chan struct{}),
		vars:       new(expvar.Map).Init(),
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
	for {
		select {
		case req := <-su.updateChan:
			metric, ok := su.vars.Get(req.name).(*expvar.Int)
			if !ok {
				// unregistered metrics are ignored
				continue
			}

			metric.Add(int64(req.value))
		case <-su.stopped:
			return
		}
	}
}

func (su *StatsUpdater) update(name string, value int) {
	select {
	case <-su.stopped:
		return
	default:
	}

	select {
	case su.updateChan <- &metricsUpdateReq{name: name, value: value}:
	case <-su.stopped:
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.update(name, 1)
}

func (su *StatsUpdater) Decr(name string) {
	su.update(name, -1)
}

func (su *StatsUpdater) RegisterMetric(name string) {
	su.vars.Set(name, new(expvar.Int))
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

// Stop ends the update loop. Updates after Stop are discarded.
func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.stopped)
	})
}
