package channel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// BroadcastTopic carries every newly published case.
const BroadcastTopic = "/topic/cases.new"

const personalPrefix = "/topic/professionals."
const personalSuffix = ".updates"

// PersonalTopic is the update topic scoped to one identity.
func PersonalTopic(userID int64) string {
	return personalPrefix + strconv.FormatInt(userID, 10) + personalSuffix
}

// personalOwner extracts the user id from a personal topic.
func personalOwner(destination string) (int64, bool) {
	if !strings.HasPrefix(destination, personalPrefix) || !strings.HasSuffix(destination, personalSuffix) {
		return 0, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(destination, personalPrefix), personalSuffix)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// UpdateType discriminates personal update payloads.
type UpdateType string

const (
	TypeCaseAssigned UpdateType = "CASE_ASSIGNED"
	TypeCaseDeleted  UpdateType = "CASE_DELETED"
	TypeCaseUpdated  UpdateType = "CASE_UPDATED"
)

// Event is a decoded notification. The set of implementations is closed.
type Event interface {
	isEvent()
}

type NewCaseBroadcast struct {
	CaseID   int64
	Title    string
	Category string
}

// CaseAssigned means the recipient is no longer eligible for the case as an
// open opportunity.
type CaseAssigned struct {
	CaseID int64
}

type CaseDeleted struct {
	CaseID int64
}

// CaseUpdated means the case status may have changed.
type CaseUpdated struct {
	CaseID int64
}

// Unknown is any payload that did not decode into a known kind.
type Unknown struct {
	Destination string
	Reason      string
}

func (NewCaseBroadcast) isEvent() {}
func (CaseAssigned) isEvent()     {}
func (CaseDeleted) isEvent()      {}
func (CaseUpdated) isEvent()      {}
func (Unknown) isEvent()          {}

type broadcastPayload struct {
	CaseID   int64  `json:"caseId"`
	Title    string `json:"title"`
	Category string `json:"category"`
}

type updatePayload struct {
	Type   UpdateType `json:"type"`
	CaseID int64      `json:"caseId"`
}

// Decode turns a MESSAGE body into an Event. It never fails; payloads that
// do not fit a known kind come back as Unknown.
func Decode(destination string, body []byte) Event {
	switch {
	case destination == BroadcastTopic:
		var p broadcastPayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Unknown{Destination: destination, Reason: err.Error()}
		}
		if p.CaseID <= 0 {
			return Unknown{Destination: destination, Reason: "missing caseId"}
		}
		return NewCaseBroadcast{CaseID: p.CaseID, Title: p.Title, Category: p.Category}

	case strings.HasPrefix(destination, personalPrefix):
		var p updatePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return Unknown{Destination: destination, Reason: err.Error()}
		}
		if p.CaseID <= 0 {
			return Unknown{Destination: destination, Reason: "missing caseId"}
		}
		switch p.Type {
		case TypeCaseAssigned:
			return CaseAssigned{CaseID: p.CaseID}
		case TypeCaseDeleted:
			return CaseDeleted{CaseID: p.CaseID}
		case TypeCaseUpdated:
			return CaseUpdated{CaseID: p.CaseID}
		default:
			return Unknown{Destination: destination, Reason: fmt.Sprintf("unknown type %q", p.Type)}
		}

	default:
		return Unknown{Destination: destination, Reason: "unknown destination"}
	}
}

// EncodeBroadcast renders the body published on BroadcastTopic.
func EncodeBroadcast(ev NewCaseBroadcast) []byte {
	body, _ := json.Marshal(broadcastPayload{CaseID: ev.CaseID, Title: ev.Title, Category: ev.Category})
	return body
}

// EncodeUpdate renders the body published on a personal topic.
func EncodeUpdate(typ UpdateType, caseID int64) []byte {
	body, _ := json.Marshal(updatePayload{Type: typ, CaseID: caseID})
	return body
}
