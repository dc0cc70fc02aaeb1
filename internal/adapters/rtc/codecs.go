package rtc

import (
	"fmt"
	"strings"

	"github.com/dkeye/huddle/internal/domain"
	"github.com/pion/webrtc/v4"
)

func codecType(kind domain.MediaKind) (webrtc.RTPCodecType, error) {
	switch kind {
	case domain.KindAudio:
		return webrtc.RTPCodecTypeAudio, nil
	case domain.KindVideo:
		return webrtc.RTPCodecTypeVideo, nil
	}
	return 0, fmt.Errorf("%w: unknown media kind %q", domain.ErrInvalidRequest, kind)
}

func feedbackToWebRTC(in []domain.RTCPFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(in))
	for _, fb := range in {
		out = append(out, webrtc.RTCPFeedback{Type: fb.Type, Parameter: fb.Parameter})
	}
	return out
}

func codecToWebRTC(c domain.RTPCodec) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:     c.MimeType,
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			SDPFmtpLine:  c.SDPFmtpLine,
			RTCPFeedback: feedbackToWebRTC(c.RTCPFeedback),
		},
		PayloadType: webrtc.PayloadType(c.PayloadType),
	}
}

// newMediaEngine registers the router's codec table.
func newMediaEngine(codecs []domain.RTPCodec) (*webrtc.MediaEngine, error) {
	if len(codecs) == 0 {
		return nil, fmt.Errorf("router needs at least one codec")
	}
	m := &webrtc.MediaEngine{}
	for _, c := range codecs {
		typ, err := codecType(c.Kind)
		if err != nil {
			return nil, err
		}
		if err := m.RegisterCodec(codecToWebRTC(c), typ); err != nil {
			return nil, fmt.Errorf("register codec %s: %w", c.MimeType, err)
		}
	}
	return m, nil
}

// findCodec picks the router codec matching mimeType.
func findCodec(codecs []domain.RTPCodec, mimeType string) (domain.RTPCodec, bool) {
	for _, c := range codecs {
		if strings.EqualFold(c.MimeType, mimeType) {
			return c, true
		}
	}
	return domain.RTPCodec{}, false
}

func candidateFromWebRTC(c webrtc.ICECandidate) domain.ICECandidate {
	return domain.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Address,
		Protocol:   c.Protocol.String(),
		Port:       c.Port,
		Type:       c.Typ.String(),
		TCPType:    c.TCPType,
	}
}

func candidateToWebRTC(c domain.ICECandidate) (*webrtc.ICECandidate, error) {
	proto, err := webrtc.NewICEProtocol(c.Protocol)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	typ, err := webrtc.NewICECandidateType(c.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return &webrtc.ICECandidate{
		Foundation: c.Foundation,
		Priority:   c.Priority,
		Address:    c.Address,
		Protocol:   proto,
		Port:       c.Port,
		Typ:        typ,
		Component:  1,
		TCPType:    c.TCPType,
	}, nil
}

func dtlsRole(role string) webrtc.DTLSRole {
	switch strings.ToLower(role) {
	case "client":
		return webrtc.DTLSRoleClient
	case "server":
		return webrtc.DTLSRoleServer
	}
	return webrtc.DTLSRoleAuto
}

func dtlsToWebRTC(p domain.DTLSParameters) webrtc.DTLSParameters {
	out := webrtc.DTLSParameters{Role: dtlsRole(p.Role)}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, webrtc.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func dtlsFromWebRTC(p webrtc.DTLSParameters) domain.DTLSParameters {
	out := domain.DTLSParameters{Role: "auto"}
	for _, fp := range p.Fingerprints {
		out.Fingerprints = append(out.Fingerprints, domain.DTLSFingerprint{Algorithm: fp.Algorithm, Value: fp.Value})
	}
	return out
}

func dtlsState(s webrtc.DTLSTransportState) (domain.TransportState, bool) {
	switch s {
	case webrtc.DTLSTransportStateNew:
		return domain.TransportNew, true
	case webrtc.DTLSTransportStateConnecting:
		return domain.TransportConnecting, true
	case webrtc.DTLSTransportStateConnected:
		return domain.TransportConnected, true
	case webrtc.DTLSTransportStateFailed:
		return domain.TransportFailed, true
	case webrtc.DTLSTransportStateClosed:
		return domain.TransportClosed, true
	}
	return "", false
}
