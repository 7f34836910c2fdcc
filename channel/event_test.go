package channel

import "testing"

func TestDecode_KnownKinds(t *testing.T) {
	personal := PersonalTopic(5)
	tests := []struct {
		dest string
		body string
		want Event
	}{
		{BroadcastTopic, `{"caseId":42,"title":"X","category":"Family"}`, NewCaseBroadcast{CaseID: 42, Title: "X", Category: "Family"}},
		{personal, `{"type":"CASE_ASSIGNED","caseId":42}`, CaseAssigned{CaseID: 42}},
		{personal, `{"type":"CASE_DELETED","caseId":7}`, CaseDeleted{CaseID: 7}},
		{personal, `{"type":"CASE_UPDATED","caseId":9}`, CaseUpdated{CaseID: 9}},
	}
	for _, tt := range tests {
		if got := Decode(tt.dest, []byte(tt.body)); got != tt.want {
			t.Errorf("decode %s: expected %#v, got %#v", tt.body, tt.want, got)
		}
	}
}

func TestDecode_UnknownShapes(t *testing.T) {
	personal := PersonalTopic(5)
	tests := []struct {
		dest string
		body string
	}{
		{BroadcastTopic, `not json`},
		{BroadcastTopic, `{"title":"no id"}`},
		{personal, `{"type":"CASE_EXPLODED","caseId":1}`},
		{personal, `{"type":"CASE_DELETED"}`},
		{"/topic/other", `{"caseId":1}`},
	}
	for _, tt := range tests {
		if _, ok := Decode(tt.dest, []byte(tt.body)).(Unknown); !ok {
			t.Errorf("expected Unknown for %s on %s", tt.body, tt.dest)
		}
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	ev := NewCaseBroadcast{CaseID: 3, Title: "Lease", Category: "civil"}
	if got := Decode(BroadcastTopic, EncodeBroadcast(ev)); got != ev {
		t.Fatalf("expected %#v, got %#v", ev, got)
	}
	if got := Decode(PersonalTopic(1), EncodeUpdate(TypeCaseDeleted, 3)); got != (CaseDeleted{CaseID: 3}) {
		t.Fatalf("expected CaseDeleted, got %#v", got)
	}
}

func TestPersonalOwner(t *testing.T) {
	if id, ok := personalOwner(PersonalTopic(12)); !ok || id != 12 {
		t.Fatalf("expected owner 12, got %d %v", id, ok)
	}
	for _, dest := range []string{BroadcastTopic, "/topic/professionals.x.updates", "/topic/professionals.3"} {
		if _, ok := personalOwner(dest); ok {
			t.Errorf("expected %s to have no owner", dest)
		}
	}
}
