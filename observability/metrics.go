package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	ConnectedClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connected_clients",
		Help: "Number of currently connected control connections",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total messages routed, by kind",
	}, []string{"kind"})

	CommandDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_command_seconds",
		Help:    "Time to process each control command",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	TransfersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_file_transfers_total",
		Help: "File transfer negotiations by outcome",
	}, []string{"outcome"})

	RelayedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_relayed_bytes_total",
		Help: "Bytes piped between data connections",
	})

	SelfCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_self_cpu_percent",
		Help: "Process CPU usage sampled by the heartbeat worker",
	})

	SelfRSSBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_self_rss_bytes",
		Help: "Process resident memory sampled by the heartbeat worker",
	})
)

func init() {
	prometheus.MustRegister(ConnectedClients)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(TransfersTotal)
	prometheus.MustRegister(RelayedBytes)
	prometheus.MustRegister(SelfCPUPercent)
	prometheus.MustRegister(SelfRSSBytes)
}
