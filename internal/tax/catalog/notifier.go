package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/observability/logger"
	"github.com/smallbiznis/storetax/internal/observability/metrics"
	"github.com/smallbiznis/storetax/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

//go:generate mockgen -source=notifier.go -destination=./mocks/mock_notifier.go -package=mocks

const ChangeChannel = "storetax:catalog:changed"

// Notifier tells other instances that the rule catalog changed.
type Notifier interface {
	Notify(ctx context.Context, version uint64) error
}

type changeMessage struct {
	InstanceID string               `json:"instance_id"`
	Version    uint64               `json:"version"`
	Metadata   correlation.Metadata `json:"metadata"`
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uint64) error { return nil }

type NotifierParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Redis     *redis.Client `optional:"true"`
	Loader    *Loader
	Clock     clock.Clock
	Log       *zap.Logger
	Metrics   *metrics.Metrics `optional:"true"`
}

// NewNotifier returns a Redis pub/sub notifier, or a local-only one when
// Redis is not configured.
func NewNotifier(p NotifierParams) Notifier {
	if p.Redis == nil {
		p.Log.Named("tax.catalog").Info("redis not configured, catalog changes stay local")
		return nopNotifier{}
	}

	n := NewRedisNotifier(p.Redis, p.Loader, p.Clock, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStart: n.Start,
		OnStop:  n.Stop,
	})
	return n
}

// RedisNotifier publishes catalog versions and reloads on versions published
// by other instances.
type RedisNotifier struct {
	client     *redis.Client
	loader     *Loader
	clock      clock.Clock
	log        *zap.Logger
	metrics    *metrics.Metrics
	instanceID string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedisNotifier(client *redis.Client, loader *Loader, clk clock.Clock, log *zap.Logger, m *metrics.Metrics) *RedisNotifier {
	return &RedisNotifier{
		client:     client,
		loader:     loader,
		clock:      clk,
		log:        log.Named("tax.catalog.notifier"),
		metrics:    m,
		instanceID: ulid.Make().String(),
	}
}

func (n *RedisNotifier) Notify(ctx context.Context, version uint64) error {
	payload, err := json.Marshal(changeMessage{
		InstanceID: n.instanceID,
		Version:    version,
		Metadata:   correlation.MetadataFromContext(ctx, n.clock.Now()),
	})
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, ChangeChannel, payload).Err(); err != nil {
		n.metrics.RecordCatalogBroadcast(ctx, "out", "error")
		return err
	}
	n.metrics.RecordCatalogBroadcast(ctx, "out", "ok")
	return nil
}

func (n *RedisNotifier) Start(ctx context.Context) error {
	pubsub := n.client.Subscribe(ctx, ChangeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	n.mu.Lock()
	n.pubsub = pubsub
	n.done = make(chan struct{})
	n.mu.Unlock()

	go n.listen(pubsub.Channel(), n.done)
	n.log.Info("subscribed to catalog changes", zap.String("instance_id", n.instanceID))
	return nil
}

func (n *RedisNotifier) Stop(ctx context.Context) error {
	n.mu.Lock()
	pubsub, done := n.pubsub, n.done
	n.pubsub = nil
	n.mu.Unlock()

	if pubsub == nil {
		return nil
	}
	if err := pubsub.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (n *RedisNotifier) listen(ch <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range ch {
		n.handle(msg.Payload)
	}
}

func (n *RedisNotifier) handle(payload string) {
	var msg changeMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		n.log.Warn("malformed catalog change message", zap.Error(err))
		n.metrics.RecordCatalogBroadcast(context.Background(), "in", "malformed")
		return
	}
	if msg.InstanceID == n.instanceID {
		return
	}

	ctx := correlation.ContextFromMetadata(context.Background(), msg.Metadata)
	if _, err := n.loader.Reload(ctx, metrics.CatalogReloadTriggerNotification); err != nil {
		n.metrics.RecordCatalogBroadcast(ctx, "in", "error")
		return
	}
	n.metrics.RecordCatalogBroadcast(ctx, "in", "ok")
	logger.WithContext(ctx, n.log).Debug("catalog reloaded from peer",
		zap.String("peer_instance_id", msg.InstanceID),
		zap.Uint64("peer_version", msg.Version),
	)
}
