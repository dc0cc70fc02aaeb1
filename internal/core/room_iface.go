package core

import (
	"github.com/dkeye/huddle/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []*Participant
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID          domain.ParticipantID `json:"id"`
	DisplayName string               `json:"displayName"`
	State       string               `json:"state"`
}

// ProducerInfo is a snapshot of one live producer in a room.
type ProducerInfo struct {
	ID    domain.ProducerID    `json:"producerId"`
	Owner domain.ParticipantID `json:"participantId"`
	Kind  domain.MediaKind     `json:"kind"`
}

// ProducerEntry is a producer with the consumers that depend on it.
type ProducerEntry struct {
	Producer  Producer
	Owner     domain.ParticipantID
	Consumers map[domain.ConsumerID]domain.ParticipantID
}

// Welcome is what a joiner learns about the room at the moment it is
// added, under the same exclusion as producer announcements.
type Welcome struct {
	RTPCapabilities domain.RTPCapabilities
	Peers           []MemberDTO
	Producers       []ProducerInfo
}

// RoomService is the core-facing API of a room.
// It owns the membership and producer sets but never touches the
// signaling transport beyond non-blocking sends.
type RoomService interface {
	ID() domain.RoomID
	Router() Router
	ParticipantCount() int
	MembersSnapshot() []MemberDTO
	ProducersSnapshot() []ProducerInfo

	// AddParticipant registers p; welcome runs under the room lock.
	AddParticipant(p *Participant, welcome func(Welcome)) error
	// RemoveParticipant reports whether p was present and whether the
	// room is now empty.
	RemoveParticipant(id domain.ParticipantID) (removed bool, empty bool)
	Participant(id domain.ParticipantID) (*Participant, bool)

	// AddProducer registers pr and announces it to everybody else.
	AddProducer(owner domain.ParticipantID, pr Producer, announce any) (PublishResult, error)
	RemoveProducer(id domain.ProducerID) (ProducerEntry, bool)
	Producer(id domain.ProducerID) (ProducerEntry, bool)
	AddConsumer(producerID domain.ProducerID, owner domain.ParticipantID, consumerID domain.ConsumerID) error
	RemoveConsumer(producerID domain.ProducerID, consumerID domain.ConsumerID)

	TrackTransport(t Transport, owner domain.ParticipantID)
	UntrackTransport(id domain.TransportID)
	TransportCount() int

	Broadcast(from domain.ParticipantID, v any) PublishResult

	// CloseIfEmpty marks the room closed when nobody is left.
	CloseIfEmpty() bool
	Closed() bool
	// Release closes every tracked transport and the router.
	Release()
}

type RoomInfo struct {
	ID               domain.RoomID `json:"id"`
	ParticipantCount int           `json:"participantCount"`
	ProducerCount    int           `json:"producerCount"`
	TransportCount   int           `json:"transportCount"`
}
