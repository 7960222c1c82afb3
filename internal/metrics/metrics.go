// Package metrics exposes Prometheus collectors for the kvresp server.
package metrics

import (
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"
)

// Registry wraps the Prometheus collectors kvresp reports.
type Registry struct {
	ActiveConnections prometheus.Gauge
	BlockedWaiters    prometheus.Gauge
	CommandsTotal     *prometheus.CounterVec
	CommandErrors     *prometheus.CounterVec
	RDBKeysLoaded     prometheus.Gauge
	ProcessRSSBytes   prometheus.Gauge
	ProcessCPUPercent prometheus.Gauge

	proc *process.Process
}

// NewRegistry builds the collectors and registers them with the default registerer.
func NewRegistry() *Registry {
	r := &Registry{
		ActiveConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvresp_connections_active",
			Help: "Number of currently open client connections.",
		}),
		BlockedWaiters: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvresp_blocked_waiters",
			Help: "Number of connections currently parked in BLPOP or XREAD BLOCK.",
		}),
		CommandsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvresp_commands_total",
			Help: "Total commands processed, labeled by command name.",
		}, []string{"command"}),
		CommandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "kvresp_command_errors_total",
			Help: "Total command error responses, labeled by command name.",
		}, []string{"command"}),
		RDBKeysLoaded: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvresp_rdb_keys_loaded",
			Help: "Number of keys loaded from the RDB snapshot at startup.",
		}),
		ProcessRSSBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvresp_process_rss_bytes",
			Help: "Resident set size of the server process.",
		}),
		ProcessCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "kvresp_process_cpu_percent",
			Help: "CPU percent consumed by the server process.",
		}),
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		r.proc = p
	}

	return r
}

// StartProcessSampler polls gopsutil for RSS/CPU on the given interval until
// stop is closed. Sampling errors are swallowed; a missed sample leaves the
// previous gauge value in place.
func (r *Registry) StartProcessSampler(interval time.Duration, stop <-chan struct{}) {
	if r.proc == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
				r.ProcessRSSBytes.Set(float64(mem.RSS))
			}
			if pct, err := r.proc.CPUPercent(); err == nil {
				r.ProcessCPUPercent.Set(pct)
			}
		}
	}
}

// Handler returns the HTTP handler exposing metrics in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	return promhttp.Handler()
}
