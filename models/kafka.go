package models

import "time"

type Record struct {
	Key       []byte
	Value     []byte
	Topic     string
	Headers   map[string]string
	Timestamp time.Time
}

type ConsumerConfig struct {
	Brokers        []string
	Name           string
	Topic          string
	RecordsPerPoll int
	IdleTimeout    time.Duration
}
