package app

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/pos-terminal/internal/notify"
	"github.com/noah-isme/pos-terminal/internal/resilience"
)

// NewDispatcher builds event delivery from the Kafka and webhook settings. The
// returned close function flushes the Kafka writer.
func (d *Dependencies) NewDispatcher() (*notify.Dispatcher, func() error, error) {
	cfg := d.Config
	endpoints, err := notify.ParseEndpoints(cfg.Webhook.URLs, cfg.Webhook.Secret)
	if err != nil {
		return nil, nil, err
	}
	log := d.Logger.With().Str("component", "notify").Logger()
	disp := &notify.Dispatcher{
		Endpoints: endpoints,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     resilience.NewBreaker(resilience.BreakerConfig{Target: "webhooks", Logger: &log}),
			MaxAttempts: 1,
			Timeout:     cfg.Webhook.Timeout,
		},
		Replay:    notify.RedisReplayProtector{Client: d.Redis, Prefix: "replay"},
		ReplayTTL: cfg.Webhook.ReplayTTL,
		Logger:    log,
	}
	closeFn := func() error { return nil }
	if len(cfg.Kafka.Brokers) > 0 {
		pub := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.TopicPrefix, log.With().Str("sink", "kafka").Logger())
		disp.Publisher = pub
		closeFn = pub.Close
	}
	return disp, closeFn, nil
}

