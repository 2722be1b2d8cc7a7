package protocol

import (
	"time"

	"k8s.io/utils/ptr"
)

// Outbound envelope constructors. Every builder stamps the header with the
// current server time in epoch milliseconds.

func header(t Type, roomID, participantID string) Header {
	return Header{
		Type:          t,
		RoomID:        roomID,
		ParticipantID: participantID,
		Timestamp:     time.Now().UnixMilli(),
	}
}

// NewError builds an error envelope. code may be empty for generic protocol,
// capacity and authorization failures.
func NewError(roomID, participantID, message, code string) *Error {
	return &Error{
		Header:  header(TypeError, roomID, participantID),
		Message: message,
		Code:    code,
	}
}

// NewParticipantJoined announces participantID to the room with its full
// flag state.
func NewParticipantJoined(roomID, participantID, name string, isModerator, isMuted, isVideoOff bool) *ParticipantJoined {
	return &ParticipantJoined{
		Header:      header(TypeParticipantJoined, roomID, participantID),
		Name:        name,
		IsModerator: isModerator,
		IsMuted:     isMuted,
		IsVideoOff:  isVideoOff,
	}
}

// NewParticipantLeft announces that participantID left the room.
func NewParticipantLeft(roomID, participantID string) *ParticipantLeft {
	return &ParticipantLeft{
		Header: header(TypeParticipantLeft, roomID, participantID),
	}
}

// NewParticipantUpdated carries the full merged flag state after a patch,
// with every field populated so recipients replace rather than merge.
func NewParticipantUpdated(roomID, participantID string, isMuted, isVideoOff, isHandRaised, isModerator bool) *ParticipantUpdated {
	return &ParticipantUpdated{
		Header:       header(TypeParticipantUpdated, roomID, participantID),
		IsMuted:      ptr.To(isMuted),
		IsVideoOff:   ptr.To(isVideoOff),
		IsHandRaised: ptr.To(isHandRaised),
		IsModerator:  ptr.To(isModerator),
	}
}

// NewWaitingRoom notifies that the candidate in participantID awaits review.
func NewWaitingRoom(roomID, participantID, name string) *WaitingRoom {
	return &WaitingRoom{
		Header: header(TypeWaitingRoom, roomID, participantID),
		Name:   name,
	}
}

// NewRoomLocked announces that lockedBy locked the room.
func NewRoomLocked(roomID, lockedBy string) *RoomLocked {
	return &RoomLocked{
		Header:   header(TypeRoomLocked, roomID, lockedBy),
		LockedBy: lockedBy,
	}
}

// NewRoomUnlocked announces that unlockedBy unlocked the room.
func NewRoomUnlocked(roomID, unlockedBy string) *RoomUnlocked {
	return &RoomUnlocked{
		Header:     header(TypeRoomUnlocked, roomID, unlockedBy),
		UnlockedBy: unlockedBy,
	}
}

// NewModeratorAction notifies targetID of a moderator command issued by
// senderID, such as the courtesy message preceding a kick.
func NewModeratorAction(roomID, senderID, targetID, action string) *ModeratorAction {
	return &ModeratorAction{
		Header:   header(TypeModerator, roomID, senderID),
		TargetID: targetID,
		Action:   action,
	}
}

// NewRejectUser notifies a waiting candidate that admission was declined.
func NewRejectUser(roomID, senderID, targetID, reason string) *RejectUser {
	return &RejectUser{
		Header:   header(TypeRejectUser, roomID, senderID),
		TargetID: targetID,
		Reason:   reason,
	}
}
