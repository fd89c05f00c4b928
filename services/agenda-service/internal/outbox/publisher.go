package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/agenda/libs/db"
	"github.com/md-rashed-zaman/agenda/libs/kafkax"
	otelx "github.com/md-rashed-zaman/agenda/libs/otel"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Publisher struct {
	db        db.Beginner
	repo      *Repository
	logger    *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
	onPublish func(eventType string)
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
	// OnPublish is called once per delivered message.
	OnPublish func(eventType string)
}

func NewPublisher(b db.Beginner, repo *Repository, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:        b,
		repo:      repo,
		logger:    logger,
		brokers:   kafkax.SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
		onPublish: cfg.OnPublish,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(p.brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.publishBatch(ctx, writer); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

func (p *Publisher) publishBatch(ctx context.Context, writer messageWriter) (int, error) {
	var published []string
	err := db.InTx(ctx, p.db, func(tx pgx.Tx) error {
		records, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil || len(records) == 0 {
			return err
		}

		ids := make([]int64, 0, len(records))
		for _, r := range records {
			msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
			msg := kafka.Message{
				Topic:   r.EventType,
				Key:     []byte(r.AggregateID),
				Value:   r.Payload,
				Headers: kafkax.EventMeta{EventID: r.EventID, EventType: r.EventType}.Headers(),
			}
			msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
			if err := writer.WriteMessages(ctx, msg); err != nil {
				return err
			}
			ids = append(ids, r.ID)
			published = append(published, r.EventType)
		}
		if err := p.repo.MarkPublished(ctx, tx, ids); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if p.onPublish != nil {
		for _, eventType := range published {
			p.onPublish(eventType)
		}
	}
	return len(published), nil
}
