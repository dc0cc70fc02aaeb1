package core

import "github.com/dkeye/huddle/internal/domain"

// Server to client event types.
const (
	EventRouterRtpCapabilities = "routerRtpCapabilities"
	EventNewProducer           = "newProducer"
	EventProducerClosed        = "producerClosed"
	EventParticipantJoined     = "participantJoined"
	EventParticipantLeft       = "participantLeft"
)

// Envelope is the unit of the signaling channel in both directions.
// ID correlates a reply with its request.
type Envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Data any    `json:"data,omitempty"`
}

type NewProducerEvent struct {
	ProducerID    domain.ProducerID    `json:"producerId"`
	ParticipantID domain.ParticipantID `json:"participantId"`
	Kind          domain.MediaKind     `json:"kind"`
}

type ProducerClosedEvent struct {
	ProducerID domain.ProducerID `json:"producerId"`
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type ParticipantJoinedEvent struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName"`
}

type ParticipantLeftEvent struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
}
