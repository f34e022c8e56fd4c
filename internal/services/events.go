package services

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/chachabrian/campusride-backend/internal/ledger"
	"github.com/segmentio/kafka-go"
)

// KafkaSink publishes ledger events keyed by ride so a ride's events stay ordered
// within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Publish(ctx context.Context, ev ledger.Event) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(uint64(ev.RideID), 10)),
		Value: b,
		Time:  ev.OccurredAt,
	})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
