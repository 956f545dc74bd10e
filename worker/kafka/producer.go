package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"videoLabeler/worker/registry"
)

// TranscodeEvent is published once per finished transcode job.
type TranscodeEvent struct {
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	FramesDone  *int   `json:"frames_done,omitempty"`
	TotalFrames *int   `json:"total_frames,omitempty"`
	Error       string `json:"error,omitempty"`
	FinishedAt  string `json:"finished_at"`
}

func NewTranscodeEvent(st registry.TaskStatus, at time.Time) *TranscodeEvent {
	ev := &TranscodeEvent{
		Filename:    st.Filename,
		Status:      string(st.TranscodeStatus),
		FramesDone:  st.FramesDone,
		TotalFrames: st.TotalFrames,
		FinishedAt:  at.UTC().Format(time.RFC3339),
	}
	if st.Error != nil {
		ev.Error = *st.Error
	}
	return ev
}

type Producer interface {
	SendTranscodeEvent(ctx context.Context, event *TranscodeEvent) error
	Close() error
}

type producer struct {
	producer sarama.SyncProducer
	topic    string
}

func NewProducer(brokers []string, topic string) (Producer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	return &producer{producer: p, topic: topic}, nil
}

// NewProducerFrom wraps an existing sync producer, e.g. a sarama mock.
func NewProducerFrom(p sarama.SyncProducer, topic string) Producer {
	return &producer{producer: p, topic: topic}
}

func (p *producer) SendTranscodeEvent(ctx context.Context, event *TranscodeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.Filename),
		Value: sarama.ByteEncoder(data),
	}

	_, _, err = p.producer.SendMessage(msg)
	return err
}

func (p *producer) Close() error {
	return p.producer.Close()
}
