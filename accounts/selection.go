package accounts

// ActiveSelection holds the active account id per platform for one customer.
type ActiveSelection map[Platform]string

func (s ActiveSelection) Get(p Platform) (string, bool) {
	id, ok := s[p]
	return id, ok && id != ""
}

// ElectSuccessor picks the remaining account with the earliest connectedAt, skipping removedID.
// Returns "" when nothing remains.
func ElectSuccessor(remaining []*ConnectedAccount, removedID string) string {
	var best *ConnectedAccount
	for _, a := range remaining {
		if a == nil || a.ID == removedID {
			continue
		}
		if best == nil || a.ConnectedAt.Before(best.ConnectedAt) ||
			(a.ConnectedAt.Equal(best.ConnectedAt) && a.ID < best.ID) {
			best = a
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}
