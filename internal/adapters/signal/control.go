package signal

func (ctl *SignalWSController) handlePing(s *session, req Request) error {
	ctl.reply(s, req, ReplyPong, nil)
	return nil
}

func (ctl *SignalWSController) handleWhoAmI(s *session, req Request) error {
	ctl.reply(s, req, ReplyWhoAmI, whoAmIReply{
		ParticipantID: s.p.ID(),
		DisplayName:   s.p.DisplayName(),
		RoomID:        s.p.RoomID(),
		State:         s.p.State().String(),
	})
	return nil
}
