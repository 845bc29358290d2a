package storage

// Stats is the aggregate snapshot served to admins and exported as gauges.
type Stats struct {
	Users          int `json:"users"`
	ActiveSessions int `json:"active_sessions"`
	ActiveAPIKeys  int `json:"active_api_keys"`
	PendingInvites int `json:"pending_invites"`
	Conversations  int `json:"conversations"`
	Messages       int `json:"messages"`
}

// GetStats collects row counts across the main tables.
func (s *Store) GetStats() (*Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM users`, &st.Users},
		{`SELECT COUNT(*) FROM sessions WHERE expires_at > CURRENT_TIMESTAMP`, &st.ActiveSessions},
		{`SELECT COUNT(*) FROM api_keys WHERE revoked = 0`, &st.ActiveAPIKeys},
		{`SELECT COUNT(*) FROM invites WHERE status = 'pending'`, &st.PendingInvites},
		{`SELECT COUNT(*) FROM conversations`, &st.Conversations},
		{`SELECT COUNT(*) FROM messages`, &st.Messages},
	}
	for _, c := range counts {
		if err := s.db.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return &st, nil
}
