package signal

import "encoding/json"

// Message types on the signaling socket.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeUnregister = "unregister"
	TypeOffer      = "offer"
	TypeAnswer     = "answer"
	TypeCandidate  = "candidate"
	TypePing       = "ping"
	TypePong       = "pong"
	TypeWhoAmI     = "whoami"
	TypeError      = "error"
)

// Error codes carried in Message.Error.
const (
	CodeIDTaken         = "id_taken"
	CodeBadID           = "bad_id"
	CodeRateLimited     = "rate_limited"
	CodePeerUnavailable = "peer_unavailable"
	CodeNotRegistered   = "not_registered"
	CodeBadPayload      = "bad_payload"
)

// Message is the one envelope the directory speaks. Negotiation payloads are
// opaque to the server and forwarded with From filled in.
type Message struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	To        string          `json:"to,omitempty"`
	From      string          `json:"from,omitempty"`
	SDP       string          `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func errorMessage(code string) Message { return Message{Type: TypeError, Error: code} }
