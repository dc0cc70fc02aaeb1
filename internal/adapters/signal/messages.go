package signal

import (
	"github.com/dkeye/huddle/internal/core"
	"github.com/dkeye/huddle/internal/domain"
)

// Client to server message types.
const (
	MsgJoinRoom                = "joinRoom"
	MsgLeaveRoom               = "leaveRoom"
	MsgCreateProducerTransport = "createProducerTransport"
	MsgCreateConsumerTransport = "createConsumerTransport"
	MsgConnectTransport        = "connectTransport"
	MsgProduce                 = "produce"
	MsgConsume                 = "consume"
	MsgPauseConsumer           = "pauseConsumer"
	MsgResumeConsumer          = "resumeConsumer"
	MsgIceCandidate            = "iceCandidate"
	MsgPing                    = "ping"
	MsgWhoAmI                  = "whoami"
)

// Reply types.
const (
	ReplyError              = "error"
	ReplyTransportCreated   = "transportCreated"
	ReplyTransportConnected = "transportConnected"
	ReplyProduced           = "produced"
	ReplyConsumed           = "consumed"
	ReplyConsumerPaused     = "consumerPaused"
	ReplyConsumerResumed    = "consumerResumed"
	ReplyLeft               = "left"
	ReplyPong               = "pong"
	ReplyWhoAmI             = "whoami"
)

type joinPayload struct {
	Username string `json:"username" validate:"required,max=36"`
	RoomID   string `json:"roomId" validate:"required,max=64"`
}

type leavePayload struct {
	Username string `json:"username,omitempty"`
	RoomID   string `json:"roomId,omitempty"`
}

type connectPayload struct {
	TransportID    domain.TransportID    `json:"transportId" validate:"required"`
	DTLSParameters domain.DTLSParameters `json:"dtlsParameters"`
	ICEParameters  *domain.ICEParameters `json:"iceParameters,omitempty"`
}

type producePayload struct {
	Kind          domain.MediaKind     `json:"kind" validate:"required,oneof=audio video"`
	RTPParameters domain.RTPParameters `json:"rtpParameters"`
}

type consumePayload struct {
	ProducerID      domain.ProducerID      `json:"producerId" validate:"required"`
	RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
	TransportID     domain.TransportID     `json:"transportId,omitempty"`
	Paused          bool                   `json:"paused,omitempty"`
}

type consumerRefPayload struct {
	ConsumerID domain.ConsumerID `json:"consumerId" validate:"required"`
}

type icePayload struct {
	TransportID domain.TransportID  `json:"transportId" validate:"required"`
	Candidate   domain.ICECandidate `json:"candidate"`
}

type errorBody struct {
	Code        domain.ErrorCode   `json:"code"`
	Message     string             `json:"message"`
	TransportID domain.TransportID `json:"transportId,omitempty"`
}

type errorReply struct {
	Type  string    `json:"type"`
	ID    string    `json:"id,omitempty"`
	Error errorBody `json:"error"`
}

type capabilitiesReply struct {
	ParticipantID   domain.ParticipantID   `json:"participantId"`
	RoomID          domain.RoomID          `json:"roomId"`
	RTPCapabilities domain.RTPCapabilities `json:"rtpCapabilities"`
	Peers           []core.MemberDTO       `json:"peers"`
}

type transportConnectedReply struct {
	TransportID domain.TransportID `json:"transportId"`
}

type producedReply struct {
	ProducerID domain.ProducerID `json:"producerId"`
}

type consumerRefReply struct {
	ConsumerID domain.ConsumerID `json:"consumerId"`
}

type whoAmIReply struct {
	ParticipantID domain.ParticipantID `json:"participantId"`
	DisplayName   string               `json:"displayName,omitempty"`
	RoomID        domain.RoomID        `json:"roomId,omitempty"`
	State         string               `json:"state"`
}
