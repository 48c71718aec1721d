package logcompress

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	stagingReadySegments = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_log_staging_ready_segments",
		Help: "Current number of sealed segments waiting in a staging queue",
	}, []string{"queue"})

	stagingReadyBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_log_staging_ready_bytes",
		Help: "Current total bytes of sealed segments waiting in a staging queue",
	}, []string{"queue"})

	stagingCommitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_staging_commits_total",
		Help: "Total segments sealed into a staging queue",
	}, []string{"queue"})

	stagingEvictionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_staging_evictions_total",
		Help: "Total ready segments evicted to keep a staging queue within its budget",
	}, []string{"queue"})

	stagingEvictedBytesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_staging_evicted_bytes_total",
		Help: "Total bytes of ready segments evicted from a staging queue",
	}, []string{"queue"})

	sinkRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_log_sink_records_total",
		Help: "Total log records submitted to the compression sink",
	})

	sinkRecordBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_log_sink_record_bytes_total",
		Help: "Total bytes of log records submitted to the compression sink",
	})

	sinkCompressRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_sink_compress_runs_total",
		Help: "Compression steps by result",
	}, []string{"result"})

	sinkSegmentFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "edge_log_sink_segment_failures_total",
		Help: "Raw segments dropped because the codec failed",
	})

	sinkRetrievalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_log_sink_retrievals_total",
		Help: "Content retrievals by result",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(stagingReadySegments)
	prometheus.MustRegister(stagingReadyBytes)
	prometheus.MustRegister(stagingCommitsTotal)
	prometheus.MustRegister(stagingEvictionsTotal)
	prometheus.MustRegister(stagingEvictedBytesTotal)
	prometheus.MustRegister(sinkRecordsTotal)
	prometheus.MustRegister(sinkRecordBytesTotal)
	prometheus.MustRegister(sinkCompressRunsTotal)
	prometheus.MustRegister(sinkSegmentFailuresTotal)
	prometheus.MustRegister(sinkRetrievalsTotal)

	sinkRecordsTotal.Add(0)
	sinkRecordBytesTotal.Add(0)
	sinkSegmentFailuresTotal.Add(0)
}
