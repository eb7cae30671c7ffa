package realtime

// Participant roles as tagged in presence snapshots
const (
	RoleMaker = "maker"
	RoleTaker = "taker"
)

// Member is one attached participant in a game's presence set
type Member struct {
	UserID      string `json:"userId"`
	Role        string `json:"role,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// DiffPresence compares two presence snapshots and reports who joined and
// who left, keyed by user ID. Pure: callers keep the previous snapshot as
// explicit state and reset it on reconnect.
func DiffPresence(old, current []Member) (joined, left []Member) {
	oldSet := make(map[string]Member, len(old))
	for _, m := range old {
		oldSet[m.UserID] = m
	}
	currentSet := make(map[string]Member, len(current))
	for _, m := range current {
		currentSet[m.UserID] = m
	}

	for _, m := range current {
		if _, ok := oldSet[m.UserID]; !ok {
			joined = append(joined, m)
		}
	}
	for _, m := range old {
		if _, ok := currentSet[m.UserID]; !ok {
			left = append(left, m)
		}
	}
	return joined, left
}
