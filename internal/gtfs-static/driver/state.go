package driver

// State is a step of one agency import.
type State int

const (
	StatePending State = iota
	StateDownloading
	StateExtracting
	StateDeletingOldData
	StateLoadingEntities
	StateResolvingRelationships
	StateIndexing
	StateCleaningUp
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StatePending:                "pending",
	StateDownloading:            "downloading",
	StateExtracting:             "extracting",
	StateDeletingOldData:        "deleting-old-data",
	StateLoadingEntities:        "loading-entities",
	StateResolvingRelationships: "resolving-relationships",
	StateIndexing:               "indexing",
	StateCleaningUp:             "cleaning-up",
	StateDone:                   "done",
	StateFailed:                 "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}
