// Package exporter exposes the counters of a counting group as prometheus metrics.
package exporter

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dylandreimerink/perfevent"
)

const namespace = "perfevent"

// Counter is a counter in the exported group
type Counter struct {
	// Name is the value of the event label
	Name string
	// ID is the kernel assigned event ID of the group member
	ID uint64
}

// ReadFunc reads all counters of the group at once, it is called on every scrape
type ReadFunc func() (perfevent.CountingGroupResult, error)

// Collector is a prometheus.Collector which reads the group on collection
type Collector struct {
	log      logrus.FieldLogger
	read     ReadFunc
	counters []Counter

	count       *prometheus.Desc
	scaled      *prometheus.Desc
	lost        *prometheus.Desc
	timeEnabled *prometheus.Desc
	timeRunning *prometheus.Desc
	readErrors  prometheus.Counter
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for 'counters', which must all belong to the group read by 'read'
func NewCollector(log logrus.FieldLogger, read ReadFunc, counters []Counter) *Collector {
	return &Collector{
		log:      log.WithField("component", "exporter"),
		read:     read,
		counters: counters,
		count: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_count_total"),
			"Raw value of the counter.",
			[]string{"event"}, nil,
		),
		scaled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_scaled_total"),
			"Value of the counter scaled by time enabled over time running.",
			[]string{"event"}, nil,
		),
		lost: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "event_lost_total"),
			"Lost samples of the counter, only reported by linux 6.0 and later.",
			[]string{"event"}, nil,
		),
		timeEnabled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "time_enabled_seconds_total"),
			"Time the group was enabled.",
			nil, nil,
		),
		timeRunning: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "time_running_seconds_total"),
			"Time the group was scheduled on the PMU.",
			nil, nil,
		),
		readErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Total failed reads of the counting group.",
		}),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.count
	ch <- c.scaled
	ch <- c.lost
	ch <- c.timeEnabled
	ch <- c.timeRunning
	c.readErrors.Describe(ch)
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	defer c.readErrors.Collect(ch)

	res, err := c.read()
	if err != nil {
		c.readErrors.Inc()
		c.log.WithError(err).Warn("Failed to read counting group")
		return
	}

	const nanosPerSecond = 1e9
	ch <- prometheus.MustNewConstMetric(c.timeEnabled, prometheus.CounterValue, float64(res.TimeEnabled)/nanosPerSecond)
	ch <- prometheus.MustNewConstMetric(c.timeRunning, prometheus.CounterValue, float64(res.TimeRunning)/nanosPerSecond)

	for _, counter := range c.counters {
		v, ok := res.Members[counter.ID]
		if !ok {
			c.log.WithField("event", counter.Name).Debug("Counter missing from group read")
			continue
		}

		ch <- prometheus.MustNewConstMetric(c.count, prometheus.CounterValue, float64(v.EventCount), counter.Name)
		ch <- prometheus.MustNewConstMetric(c.scaled, prometheus.CounterValue, float64(v.Scaled()), counter.Name)
		ch <- prometheus.MustNewConstMetric(c.lost, prometheus.CounterValue, float64(v.Lost), counter.Name)
	}
}

// Server serves the metrics of a collector over http
type Server struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	running atomic.Bool
}

// NewServer creates a server for 'collector' which listens on 'addr' once started
func NewServer(log logrus.FieldLogger, addr string, collector prometheus.Collector) (*Server, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(collector); err != nil {
		return nil, fmt.Errorf("registering collector: %w", err)
	}

	return &Server{
		log:      log.WithField("component", "exporter"),
		addr:     addr,
		registry: reg,
	}, nil
}

// Start starts listening, the server is stopped by Stop or when 'ctx' is done
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		s.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler: mux,
	}

	s.running.Store(true)

	go func() {
		s.log.WithField("addr", ln.Addr().String()).Info("Metrics server started")

		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("Metrics server error")
		}

		s.running.Store(false)
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	return nil
}

// Addr returns the address the server listens on, empty before Start
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes the server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	return s.server.Close()
}
