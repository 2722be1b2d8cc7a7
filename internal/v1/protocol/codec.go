package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks frames that are not valid JSON envelopes.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType marks envelopes whose type tag is outside the closed set.
	ErrUnknownType = errors.New("unknown message type")
	// ErrMissingField marks envelopes missing a field their type requires.
	ErrMissingField = errors.New("missing required field")
)

// Decode parses a single JSON frame into its typed envelope and validates
// the fields the variant requires. The returned error wraps ErrMalformed,
// ErrUnknownType or ErrMissingField; callers translate any failure into a
// protocol error envelope and keep the socket open.
func Decode(data []byte) (Message, error) {
	var probe struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg, ok := newByType(probe.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if err := validate(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// Encode marshals an envelope for transmission as one text frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %q envelope: %w", msg.Hdr().Type, err)
	}
	return data, nil
}

// MustEncode marshals an envelope built by this package. Outbound builders
// produce only marshalable values, so a failure here is a programming error.
func MustEncode(msg Message) []byte {
	data, err := Encode(msg)
	if err != nil {
		panic(err)
	}
	return data
}

func newByType(t Type) (Message, bool) {
	switch t {
	case TypeJoin:
		return &Join{}, true
	case TypeLeave:
		return &Leave{}, true
	case TypeOffer:
		return &Offer{}, true
	case TypeAnswer:
		return &Answer{}, true
	case TypeICECandidate:
		return &ICECandidate{}, true
	case TypeFileOffer:
		return &FileOffer{}, true
	case TypeFileAnswer:
		return &FileAnswer{}, true
	case TypeFileChunk:
		return &FileChunk{}, true
	case TypeQualityChange:
		return &QualityChange{}, true
	case TypeChat:
		return &Chat{}, true
	case TypeRaiseHand:
		return &RaiseHand{}, true
	case TypeLowerHand:
		return &LowerHand{}, true
	case TypeModerator:
		return &ModeratorAction{}, true
	case TypeRoomLocked:
		return &RoomLocked{}, true
	case TypeRoomUnlocked:
		return &RoomUnlocked{}, true
	case TypeAdmitUser:
		return &AdmitUser{}, true
	case TypeRejectUser:
		return &RejectUser{}, true
	case TypeParticipantJoined:
		return &ParticipantJoined{}, true
	case TypeParticipantLeft:
		return &ParticipantLeft{}, true
	case TypeParticipantUpdated:
		return &ParticipantUpdated{}, true
	case TypeWaitingRoom:
		return &WaitingRoom{}, true
	case TypeError:
		return &Error{}, true
	}
	return nil, false
}

// validate enforces the per-variant required fields. Wrong-kinded fields are
// already rejected by json.Unmarshal before this runs.
func validate(msg Message) error {
	switch m := msg.(type) {
	case *Join:
		if m.Name == "" {
			return missing(TypeJoin, "name")
		}
	case *Offer:
		if m.TargetID == "" {
			return missing(TypeOffer, "targetId")
		}
		if len(m.SDP) == 0 {
			return missing(TypeOffer, "sdp")
		}
	case *Answer:
		if m.TargetID == "" {
			return missing(TypeAnswer, "targetId")
		}
		if len(m.SDP) == 0 {
			return missing(TypeAnswer, "sdp")
		}
	case *ICECandidate:
		if m.TargetID == "" {
			return missing(TypeICECandidate, "targetId")
		}
		if len(m.Candidate) == 0 {
			return missing(TypeICECandidate, "candidate")
		}
	case *FileOffer:
		if m.TargetID == "" {
			return missing(TypeFileOffer, "targetId")
		}
		if m.FileName == "" {
			return missing(TypeFileOffer, "fileName")
		}
	case *FileAnswer:
		if m.TargetID == "" {
			return missing(TypeFileAnswer, "targetId")
		}
	case *FileChunk:
		if m.TargetID == "" {
			return missing(TypeFileChunk, "targetId")
		}
		if m.Chunk == "" {
			return missing(TypeFileChunk, "chunk")
		}
		if m.Total < 1 {
			return missing(TypeFileChunk, "total")
		}
	case *QualityChange:
		if m.TargetID == "" {
			return missing(TypeQualityChange, "targetId")
		}
		switch m.Quality {
		case "high", "medium", "low":
		default:
			return fmt.Errorf("%w: quality must be high, medium or low (got %q)", ErrMissingField, m.Quality)
		}
	case *Chat:
		if m.Text == "" {
			return missing(TypeChat, "text")
		}
	case *ModeratorAction:
		if m.TargetID == "" {
			return missing(TypeModerator, "targetId")
		}
		switch m.Action {
		case ActionMute, ActionUnmute, ActionKick, ActionMakeModerator:
		default:
			return fmt.Errorf("%w: unknown moderator action %q", ErrMissingField, m.Action)
		}
	case *AdmitUser:
		if m.TargetID == "" {
			return missing(TypeAdmitUser, "targetId")
		}
	case *RejectUser:
		if m.TargetID == "" {
			return missing(TypeRejectUser, "targetId")
		}
	}
	return nil
}

func missing(t Type, field string) error {
	return fmt.Errorf("%w: %q requires %q", ErrMissingField, t, field)
}
