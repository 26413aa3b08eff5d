package models

// AllowedTransitions is the ride lifecycle. Statuses without an entry are
// terminal.
var AllowedTransitions = map[RideStatus][]RideStatus{
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

var allowedTransitionSet = buildTransitionSet(AllowedTransitions)

func buildTransitionSet(transitions map[RideStatus][]RideStatus) map[RideStatus]map[RideStatus]struct{} {
	set := make(map[RideStatus]map[RideStatus]struct{}, len(transitions))
	for from, tos := range transitions {
		next := make(map[RideStatus]struct{}, len(tos))
		for _, to := range tos {
			next[to] = struct{}{}
		}
		set[from] = next
	}
	return set
}

// CanTransition checks if a ride may move from one status to another.
func CanTransition(from, to RideStatus) bool {
	next, ok := allowedTransitionSet[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}
