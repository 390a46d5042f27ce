package service

// Monitor message types published for every session.
const (
	MsgAgentMessage     = "agent_message"
	MsgPatientChunk     = "patient_chunk"
	MsgPatientDone      = "patient_done"
	MsgTurnError        = "turn_error"
	MsgSessionCompleted = "session_completed"
)

// Broadcaster fans session activity out to live monitors (avoids import cycle)
type Broadcaster interface {
	BroadcastToSession(sessionID string, msgType string, payload interface{})
}

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToSession(string, string, interface{}) {}
