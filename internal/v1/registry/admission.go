package registry

// Admission decision helpers - pure business logic, fully testable

// JoinDecision is the outcome class of an admission check.
type JoinDecision int

const (
	// DecisionReject turns the join away with an error envelope.
	DecisionReject JoinDecision = iota
	// DecisionWait parks the candidate in the waiting room.
	DecisionWait
	// DecisionAdmit inserts the candidate as a live participant.
	DecisionAdmit
)

// JoinVerdict is the full result of evaluating a join request against the
// room's current state.
type JoinVerdict struct {
	Decision JoinDecision

	// AsHost grants host and moderator bits on admission. Always true for
	// creators of new rooms and validated creator-token holders.
	AsHost bool

	// ErrorMessage and ErrorCode populate the error envelope on rejection.
	ErrorMessage string
	ErrorCode    string
}

// JoinRequest is the admission-relevant subset of a join envelope.
type JoinRequest struct {
	RoomID       string
	Name         string
	Password     string
	IsHost       bool
	CreatorToken string
}

// DecideJoin evaluates the admission policy:
//
//	no room, not claiming host, no valid token  -> reject ROOM_NOT_FOUND
//	no room, claiming host                      -> create and admit as host
//	password mismatch                           -> reject INVALID_PASSWORD
//	unlocked                                    -> admit
//	locked without valid creator token          -> waiting room
//	locked with valid creator token             -> bypass, admit as host
//
// passwordOK and tokenValid are precomputed by the registry (ValidatePassword
// and ValidateCreatorToken) so this stays a pure function of its inputs.
func DecideJoin(req JoinRequest, roomExists, roomLocked, passwordOK, tokenValid bool) JoinVerdict {
	if !roomExists {
		if !req.IsHost && !tokenValid {
			return JoinVerdict{
				Decision:     DecisionReject,
				ErrorMessage: "Room not found",
				ErrorCode:    "ROOM_NOT_FOUND",
			}
		}
		return JoinVerdict{Decision: DecisionAdmit, AsHost: true}
	}

	if !passwordOK {
		return JoinVerdict{
			Decision:     DecisionReject,
			ErrorMessage: "Invalid room password",
			ErrorCode:    "INVALID_PASSWORD",
		}
	}

	if roomLocked && !tokenValid {
		return JoinVerdict{Decision: DecisionWait}
	}

	return JoinVerdict{
		Decision: DecisionAdmit,
		AsHost:   req.IsHost || tokenValid,
	}
}

// passwordMatches implements the password gate: rooms without a password
// admit anyone, and unknown rooms admit so the first joiner can set one.
func passwordMatches(stored, candidate string) bool {
	if stored == "" {
		return true
	}
	return stored == candidate
}

// tokenMatches implements the creator-token gate with strict equality.
// Empty tokens never validate, including against rooms that minted none.
func tokenMatches(stored, candidate string) bool {
	return stored != "" && candidate != "" && stored == candidate
}
