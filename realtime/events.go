package realtime

import "encoding/json"

// Server initiated events.
const (
	EventForceLogout         = "force-logout"
	EventNewAnnouncement     = "new-announcement"
	EventAnnouncementDeleted = "announcement-deleted"
	EventStudentAssigned     = "student-assigned"
	EventAssignmentUpdated   = "assignment-updated"
	EventAssignmentRemoved   = "assignment-removed"
	EventRescheduleApproved  = "reschedule-approved"
	EventRescheduleRejected  = "reschedule-rejected"
)

// Client initiated events.
const (
	EventJoinRoom = "join-room"
)

// DomainEvents are delivered to listeners as they arrive.
var DomainEvents = []string{
	EventNewAnnouncement,
	EventAnnouncementDeleted,
	EventStudentAssigned,
	EventAssignmentUpdated,
	EventAssignmentRemoved,
	EventRescheduleApproved,
	EventRescheduleRejected,
}

// Frame is the JSON envelope exchanged with the realtime backend.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame encodes data into a frame.
func NewFrame(event string, data any) (Frame, error) {
	if data == nil {
		return Frame{Event: event}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: raw}, nil
}

// ForceLogoutPayload is the body of a force-logout event.
type ForceLogoutPayload struct {
	Reason string `json:"reason"`
}

// AnnouncementDeletedPayload is the body of an announcement-deleted event.
type AnnouncementDeletedPayload struct {
	ID string `json:"id"`
}

// MessagePayload is the body shared by assignment and reschedule events.
type MessagePayload struct {
	Message string `json:"message"`
}

// Rooms returns the rooms a connection joins for a user.
func Rooms(uid, role string) []string {
	return []string{role + "-" + uid, role}
}
