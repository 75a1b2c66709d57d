package jobs

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Queue names used across the platform.
const (
	QueueEmail         = "email"
	QueueNotifications = "notifications"
	QueueBatch         = "batch"
	QueueDocuments     = "documents"
)

// Topology maps queue names to their configuration.
type Topology map[string]QueueConfig

// Queue returns the configuration of name, or a single-worker queue when the
// topology does not mention it.
func (t Topology) Queue(name string) QueueConfig {
	if qc, ok := t[name]; ok {
		return qc
	}
	return QueueConfig{Name: name, Concurrency: 1}
}

// DefaultQueues returns the reference topology. Batch work is throttled
// because report exports and bulk updates are resource heavy.
func DefaultQueues() Topology {
	return Topology{
		QueueEmail: {
			Name:        QueueEmail,
			Concurrency: 5,
			Defaults:    Options{Timeout: 30 * time.Second},
		},
		QueueNotifications: {
			Name:        QueueNotifications,
			Concurrency: 10,
			Defaults:    Options{Timeout: 10 * time.Second},
		},
		QueueBatch: {
			Name:        QueueBatch,
			Concurrency: 2,
			Defaults: Options{
				Attempts: 2,
				Backoff:  &BackoffPolicy{Type: BackoffExponential, Delay: 30 * time.Second},
				Timeout:  10 * time.Minute,
			},
		},
		QueueDocuments: {
			Name:        QueueDocuments,
			Concurrency: 3,
			Defaults:    Options{Timeout: 2 * time.Minute},
		},
	}
}

type topologyFile struct {
	Queues []QueueConfig `yaml:"queues"`
}

// LoadTopology overlays the queue settings in the YAML file at path onto the
// default topology. An empty path returns the defaults.
//
//	queues:
//	  - name: batch
//	    concurrency: 3
//	    defaults:
//	      attempts: 5
//	      backoff: {type: fixed, delay: 1m}
//	    kindTimeouts:
//	      report_export: 20m
func LoadTopology(path string) (Topology, error) {
	queues := DefaultQueues()
	if path == "" {
		return queues, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue topology: %w", err)
	}

	var file topologyFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse queue topology %s: %w", path, err)
	}

	for _, qc := range file.Queues {
		if qc.Name == "" {
			return nil, fmt.Errorf("queue topology %s: queue without name", path)
		}
		if qc.Defaults.Backoff != nil {
			if err := qc.Defaults.Backoff.Validate(); err != nil {
				return nil, fmt.Errorf("queue topology %s: queue %q: %w", path, qc.Name, err)
			}
		}
		base, ok := queues[qc.Name]
		if !ok {
			queues[qc.Name] = qc
			continue
		}
		if qc.Concurrency > 0 {
			base.Concurrency = qc.Concurrency
		}
		base.Defaults = qc.Defaults.withDefaults(base.Defaults)
		if len(qc.KindTimeouts) > 0 {
			base.KindTimeouts = qc.KindTimeouts
		}
		queues[qc.Name] = base
	}
	return queues, nil
}
