package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(chunksPushedTotal, chunksDeliveredTotal, slowConsumerDropsTotal, streamSubscribers)
}

var chunksPushedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_chunks_pushed_total",
		Help: "Chunks accepted from producers.",
	},
)

var chunksDeliveredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_chunks_delivered_total",
		Help: "Chunk deliveries summed across all subscribers.",
	},
)

var slowConsumerDropsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "stream_slow_consumer_drops_total",
		Help: "Subscribers dropped for exhausting their backpressure credit.",
	},
)

var streamSubscribers = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "stream_subscribers",
		Help: "Live subscribers across all job streams.",
	},
)

func IncChunkPushed()      { chunksPushedTotal.Inc() }
func IncChunkDelivered()   { chunksDeliveredTotal.Inc() }
func IncSlowConsumerDrop() { slowConsumerDropsTotal.Inc() }
func IncSubscribers()      { streamSubscribers.Inc() }
func DecSubscribers()      { streamSubscribers.Dec() }
