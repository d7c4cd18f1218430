package saga

import (
	"fmt"

	"github.com/quiby-ai/ordersaga/pkg/events"
)

// Step is one participant position in the forward order.
type Step struct {
	Source            events.Source `koanf:"source"`
	InputTopic        string        `koanf:"input_topic"`
	OutputTopic       string        `koanf:"output_topic"`
	CompensationTopic string        `koanf:"compensation_topic"`
}

type TopologyConfig struct {
	Steps           []Step `koanf:"steps"`
	StartTopic      string `koanf:"start_topic"`
	NotifyTopic     string `koanf:"notify_topic"`
	DeadLetterTopic string `koanf:"dead_letter_topic"`
}

func DefaultTopologyConfig() TopologyConfig {
	return TopologyConfig{
		Steps: []Step{
			{Source: events.SourceProductValidation, InputTopic: events.TopicProductValidationInput, OutputTopic: events.TopicProductValidationOutput},
			{Source: events.SourcePayment, InputTopic: events.TopicPaymentInput, OutputTopic: events.TopicPaymentOutput},
			{Source: events.SourceInventory, InputTopic: events.TopicInventoryInput, OutputTopic: events.TopicInventoryOutput},
		},
		StartTopic:      events.TopicOrderStart,
		NotifyTopic:     events.TopicOrderNotify,
		DeadLetterTopic: events.TopicDeadLetter,
	}
}

// Topology is the immutable Saga Topology Table.
type Topology struct {
	steps           []Step
	index           map[events.Source]int
	startTopic      string
	notifyTopic     string
	deadLetterTopic string
}

func NewTopology(cfg TopologyConfig) (*Topology, error) {
	if len(cfg.Steps) == 0 {
		return nil, fmt.Errorf("%w: no steps", ErrInvalidTopology)
	}
	if cfg.StartTopic == "" || cfg.NotifyTopic == "" || cfg.DeadLetterTopic == "" {
		return nil, fmt.Errorf("%w: start, notify and dead-letter topics are required", ErrInvalidTopology)
	}

	t := &Topology{
		steps:           make([]Step, len(cfg.Steps)),
		index:           make(map[events.Source]int, len(cfg.Steps)),
		startTopic:      cfg.StartTopic,
		notifyTopic:     cfg.NotifyTopic,
		deadLetterTopic: cfg.DeadLetterTopic,
	}
	inputs := make(map[string]events.Source, len(cfg.Steps))
	for i, s := range cfg.Steps {
		if !s.Source.Valid() || s.Source == events.SourceOrder || s.Source == events.SourceOrchestrator {
			return nil, fmt.Errorf("%w: step %d has invalid source %q", ErrInvalidTopology, i, s.Source)
		}
		if _, dup := t.index[s.Source]; dup {
			return nil, fmt.Errorf("%w: duplicate step %s", ErrInvalidTopology, s.Source)
		}
		if s.InputTopic == "" || s.OutputTopic == "" {
			return nil, fmt.Errorf("%w: step %s needs input and output topics", ErrInvalidTopology, s.Source)
		}
		if other, dup := inputs[s.InputTopic]; dup {
			return nil, fmt.Errorf("%w: %s and %s share input topic %s", ErrInvalidTopology, other, s.Source, s.InputTopic)
		}
		inputs[s.InputTopic] = s.Source
		if s.CompensationTopic == "" {
			s.CompensationTopic = s.InputTopic
		}
		t.steps[i] = s
		t.index[s.Source] = i
	}
	return t, nil
}

func (t *Topology) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

func (t *Topology) Step(source events.Source) (Step, bool) {
	i, ok := t.index[source]
	if !ok {
		return Step{}, false
	}
	return t.steps[i], true
}

// Index returns the forward position of source.
func (t *Topology) Index(source events.Source) (int, bool) {
	i, ok := t.index[source]
	return i, ok
}

func (t *Topology) First() Step { return t.steps[0] }
func (t *Topology) Last() Step  { return t.steps[len(t.steps)-1] }

// Next returns the step after source, false for the last step.
func (t *Topology) Next(source events.Source) (Step, bool) {
	i, ok := t.index[source]
	if !ok || i == len(t.steps)-1 {
		return Step{}, false
	}
	return t.steps[i+1], true
}

// Previous returns the step before source, false for the first step.
func (t *Topology) Previous(source events.Source) (Step, bool) {
	i, ok := t.index[source]
	if !ok || i == 0 {
		return Step{}, false
	}
	return t.steps[i-1], true
}

func (t *Topology) StartTopic() string      { return t.startTopic }
func (t *Topology) NotifyTopic() string     { return t.notifyTopic }
func (t *Topology) DeadLetterTopic() string { return t.deadLetterTopic }

// InputTopics lists every topic a participant of the topology consumes.
// Compensation topics that differ from the input are included.
func (t *Topology) InputTopics(source events.Source) []string {
	s, ok := t.Step(source)
	if !ok {
		return nil
	}
	if s.CompensationTopic == s.InputTopic {
		return []string{s.InputTopic}
	}
	return []string{s.InputTopic, s.CompensationTopic}
}

// OrchestratorTopics lists every topic the orchestrator consumes.
func (t *Topology) OrchestratorTopics() []string {
	seen := map[string]bool{t.startTopic: true}
	topics := []string{t.startTopic}
	for _, s := range t.steps {
		if !seen[s.OutputTopic] {
			seen[s.OutputTopic] = true
			topics = append(topics, s.OutputTopic)
		}
	}
	return topics
}

// Route is where the orchestrator sends an envelope next.
type Route struct {
	Topic    string
	Status   events.SagaStatus
	Target   events.Source
	Terminal bool
	Message  string
}

type RouteKey struct {
	Source events.Source
	Status events.SagaStatus
}

// Route maps an incoming (source, status) pair to the next hop. Failures walk
// the topology backwards: a step reporting ROLLBACK_PENDING is compensated
// first, a step reporting FAIL hands the rollback to its predecessor.
func (t *Topology) Route(source events.Source, status events.SagaStatus) (Route, error) {
	if source == events.SourceOrder {
		if status != events.StatusPending {
			return Route{}, fmt.Errorf("%w: %s/%s", ErrUnknownRoute, source, status)
		}
		first := t.steps[0]
		return Route{
			Topic:   first.InputTopic,
			Status:  events.StatusPending,
			Target:  first.Source,
			Message: fmt.Sprintf("Saga started, sending to %s", first.Source),
		}, nil
	}

	i, ok := t.index[source]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s/%s", ErrUnknownRoute, source, status)
	}
	step := t.steps[i]

	switch status {
	case events.StatusSuccess:
		if i == len(t.steps)-1 {
			return Route{
				Topic:    t.notifyTopic,
				Status:   events.StatusSuccess,
				Terminal: true,
				Message:  "Saga finished successfully",
			}, nil
		}
		next := t.steps[i+1]
		return Route{
			Topic:   next.InputTopic,
			Status:  events.StatusPending,
			Target:  next.Source,
			Message: fmt.Sprintf("%s succeeded, sending to %s", source, next.Source),
		}, nil

	case events.StatusRollbackPending:
		return Route{
			Topic:   step.CompensationTopic,
			Status:  events.StatusRollbackPending,
			Target:  step.Source,
			Message: fmt.Sprintf("%s failed, compensating %s", source, step.Source),
		}, nil

	case events.StatusFail:
		if i == 0 {
			return Route{
				Topic:    t.notifyTopic,
				Status:   events.StatusFail,
				Terminal: true,
				Message:  "Saga finished with errors, all steps rolled back",
			}, nil
		}
		prev := t.steps[i-1]
		return Route{
			Topic:   prev.CompensationTopic,
			Status:  events.StatusRollbackPending,
			Target:  prev.Source,
			Message: fmt.Sprintf("%s rolled back, compensating %s", source, prev.Source),
		}, nil
	}

	return Route{}, fmt.Errorf("%w: %s/%s", ErrUnknownRoute, source, status)
}

// Routes enumerates every (source, status) pair the orchestrator can receive.
func (t *Topology) Routes() []RouteKey {
	keys := []RouteKey{{Source: events.SourceOrder, Status: events.StatusPending}}
	for _, s := range t.steps {
		keys = append(keys,
			RouteKey{Source: s.Source, Status: events.StatusSuccess},
			RouteKey{Source: s.Source, Status: events.StatusRollbackPending},
			RouteKey{Source: s.Source, Status: events.StatusFail},
		)
	}
	return keys
}

// incomingTopic is the topic an envelope from source would have arrived on.
func (t *Topology) incomingTopic(source events.Source) string {
	if source == events.SourceOrder {
		return t.startTopic
	}
	if s, ok := t.Step(source); ok {
		return s.OutputTopic
	}
	return ""
}
