package matchmaking

import "sync"

// JoinRequest is one participant asking to be matched, together with where and how
// the answer has to be routed back.
type JoinRequest struct {
	ParticipantID    string
	ReplyAddress     string
	CorrelationToken string
}

// Match pairs two participants. Player1 is always the one who waited.
type Match struct {
	Player1 string `json:"player1"`
	Player2 string `json:"player2"`
}

// Notification tells the coordinator to send Match to one participant.
type Notification struct {
	ReplyAddress     string
	CorrelationToken string
	Match            Match
}

// WaitingRoom holds at most one unmatched participant.
//
// It is driven by a single consumer, so the lock is never contended in practice; it
// keeps the check-and-set atomic if that ever changes.
type WaitingRoom struct {
	mu   sync.Mutex
	slot *JoinRequest
}

func NewWaitingRoom() *WaitingRoom {
	return &WaitingRoom{}
}

// OnJoin applies one join to the room. When the room was empty the request is parked
// and nothing is returned. Otherwise the parked participant is paired with req, the
// room is emptied and two notifications are returned: the parked participant's first.
//
// Participants are not de-duplicated: the same id may end up on both sides of a match.
func (r *WaitingRoom) OnJoin(req JoinRequest) ([]Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.slot == nil {
		parked := req
		r.slot = &parked
		return nil, false
	}

	waiting := *r.slot
	r.slot = nil

	match := Match{Player1: waiting.ParticipantID, Player2: req.ParticipantID}
	return []Notification{
		{ReplyAddress: waiting.ReplyAddress, CorrelationToken: waiting.CorrelationToken, Match: match},
		{ReplyAddress: req.ReplyAddress, CorrelationToken: req.CorrelationToken, Match: match},
	}, true
}

// Waiting returns the parked request, if any.
func (r *WaitingRoom) Waiting() (JoinRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == nil {
		return JoinRequest{}, false
	}
	return *r.slot, true
}

// Len is 0 or 1.
func (r *WaitingRoom) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slot == nil {
		return 0
	}
	return 1
}
