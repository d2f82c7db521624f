package server

// handleUSER accepts any user name. There is no PASS step and no
// authorization.
func (s *session) handleUSER(arg string) {
	s.user = arg
	s.logger.Info("user_logged_in", "user", s.user)
	s.reply(230, "User logged in")
}

func (s *session) handleSYST(_ string) {
	s.reply(215, "UNIX Type: L8")
}

func (s *session) handleNOOP(_ string) {
	s.reply(200, "NOOP OK")
}

func (s *session) handleQUIT(_ string) {
	s.reply(221, "Goodbye")
	s.quit = true
}

// handleKILL stops the whole server. It is only dispatched when enabled
// with WithKillCommand.
func (s *session) handleKILL(_ string) {
	s.logger.Warn("server_killed", "user", s.user)
	s.reply(221, "Server shutting down")
	s.quit = true
	go s.server.Close()
}

func (s *session) handleNotImplemented(_ string) {
	s.reply(502, "Command not implemented")
}
