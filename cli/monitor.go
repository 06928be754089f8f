package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chassis-manager/config"
	"github.com/chassis-manager/pkg/device"
	"github.com/chassis-manager/pkg/dispatch"
	"github.com/chassis-manager/pkg/ipmi"
)

func monitorCmd(ctx context.Context, opts *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:     "monitor",
		Short:   "Poll every target and export its state as Prometheus metrics.",
		Example: "chassis-manager monitor --listen :9290",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if listen != "" {
				opts.cfg.Metrics.Listen = listen
			}

			m, err := newMonitor(opts.cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}

			return m.run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "",
		"Metrics listen address, overrides the configuration")

	return cmd
}

// monitor keeps a session to every target and refreshes gauges from them.
type monitor struct {
	cfg        *config.Config
	registry   *prometheus.Registry
	dispatcher *dispatch.Dispatcher
	targets    []*monitoredTarget
	log        *logrus.Entry

	up        *prometheus.GaugeVec
	bladeOn   *prometheus.GaugeVec
	fanSpeed  *prometheus.GaugeVec
	socketOn  *prometheus.GaugeVec
	pollFails *prometheus.CounterVec
}

type monitoredTarget struct {
	cfg     *config.TargetConfig
	creds   ipmi.Credentials
	manager *ipmi.Manager
	session *ipmi.Session
}

func newMonitor(cfg *config.Config, reg *prometheus.Registry) (*monitor, error) {
	metrics := dispatch.NewMetrics()

	m := &monitor{
		cfg:        cfg,
		registry:   reg,
		dispatcher: newDispatcher(cfg, dispatch.WithMetrics(metrics)),
		log:        logrus.WithField("component", "monitor"),
		up: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chassis",
			Name:      "target_up",
			Help:      "Whether the last poll of the target succeeded.",
		}, []string{"target"}),
		bladeOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chassis",
			Name:      "blade_powered_on",
			Help:      "Chassis power state reported by the target.",
		}, []string{"target"}),
		fanSpeed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chassis",
			Name:      "fan_speed_percent",
			Help:      "Fan PWM duty cycle.",
		}, []string{"target", "fan"}),
		socketOn: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chassis",
			Name:      "socket_on",
			Help:      "AC socket relay state.",
		}, []string{"target", "socket"}),
		pollFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chassis",
			Name:      "poll_failures_total",
			Help:      "Polls that failed, by target.",
		}, []string{"target"}),
	}

	for _, c := range []prometheus.Collector{m.up, m.bladeOn, m.fanSpeed, m.socketOn, m.pollFails} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}

	for i := range cfg.Targets {
		t := &cfg.Targets[i]

		creds, err := credentials(t)
		if err != nil {
			return nil, err
		}

		m.targets = append(m.targets, &monitoredTarget{
			cfg:     t,
			creds:   creds,
			manager: newManager(cfg, t),
		})
	}

	return m, nil
}

// run serves the metrics endpoint and polls until ctx is done.
func (m *monitor) run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:              m.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.log.Infof("Serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		defer m.close()

		ticker := time.NewTicker(m.cfg.Metrics.Interval)
		defer ticker.Stop()

		for {
			m.pollAll(ctx)

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	return g.Wait()
}

// pollAll polls every target concurrently.
func (m *monitor) pollAll(ctx context.Context) {
	var g errgroup.Group

	for _, t := range m.targets {
		g.Go(func() error {
			if err := m.poll(ctx, t); err != nil {
				m.log.WithField("target", t.cfg.Name).Warnf("Poll failed: %v", err)
				m.up.WithLabelValues(t.cfg.Name).Set(0)
				m.pollFails.WithLabelValues(t.cfg.Name).Inc()

				// Start over with a fresh session next time
				if t.session != nil {
					t.session.Close(ctx)
					t.session = nil
				}
			}
			return nil
		})
	}

	g.Wait()
}

// poll refreshes the gauges of one target.
func (m *monitor) poll(ctx context.Context, t *monitoredTarget) error {
	if t.session == nil {
		s, err := t.manager.Open(ctx, t.cfg.Endpoint(), t.creds, t.cfg.PrivilegeLevel())
		if err != nil {
			return err
		}
		t.session = s
	}

	name := t.cfg.Name

	status, err := device.NewBlade(m.dispatcher, t.session).Status(ctx)
	if err != nil {
		return err
	}
	m.bladeOn.WithLabelValues(name).Set(boolGauge(status.PoweredOn()))

	for _, f := range t.cfg.Fans {
		speed, err := device.NewFan(m.dispatcher, t.session, f.Number, f.Sensor).Speed(ctx)
		if err != nil {
			return err
		}
		m.fanSpeed.WithLabelValues(name, strconv.Itoa(int(f.Number))).Set(float64(speed))
	}

	for _, n := range t.cfg.Sockets {
		state, err := device.NewACSocket(m.dispatcher, t.session, n).State(ctx)
		if err != nil {
			return err
		}
		m.socketOn.WithLabelValues(name, strconv.Itoa(int(n))).Set(boolGauge(state == device.SocketOn))
	}

	m.up.WithLabelValues(name).Set(1)

	return nil
}

func (m *monitor) close() {
	for _, t := range m.targets {
		t.manager.Close(context.Background())
		t.session = nil
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
