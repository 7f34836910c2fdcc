package notify

import (
	"context"
	"errors"
	"testing"

	"casedesk/channel"
	"casedesk/db"
)

type published struct {
	destination string
	recipients  []int64
	body        []byte
}

type fakePublisher struct {
	sent []published
}

func (p *fakePublisher) Publish(destination string, body []byte) int {
	p.sent = append(p.sent, published{destination: destination, body: body})
	return 1
}

func (p *fakePublisher) PublishPersonal(recipients []int64, body []byte) int {
	p.sent = append(p.sent, published{recipients: recipients, body: body})
	return len(recipients)
}

type fakeStore struct {
	pending []Message
	status  map[string]string
}

func (s *fakeStore) Process(ctx context.Context, limit int, handle func(Message) error) (int, error) {
	done := 0
	for i := 0; i < len(s.pending) && i < limit; i++ {
		m := s.pending[i]
		if err := handle(m); err != nil {
			s.status[m.ID] = "failed"
			continue
		}
		s.status[m.ID] = "processed"
		done++
	}
	return done, nil
}

func TestTranslate(t *testing.T) {
	d, err := Translate(Message{Topic: db.TopicCasePublished, Payload: []byte(`{"caseId":9,"title":"Lease","category":"Tenancy"}`)})
	if err != nil || !d.Broadcast {
		t.Fatalf("expected broadcast delivery, got %+v %v", d, err)
	}
	ev, ok := channel.Decode(channel.BroadcastTopic, d.Body).(channel.NewCaseBroadcast)
	if !ok || ev.CaseID != 9 || ev.Category != "Tenancy" {
		t.Fatalf("unexpected broadcast body %s", d.Body)
	}

	d, err = Translate(Message{Topic: db.TopicCaseUpdated, Payload: []byte(`{"caseId":4,"recipients":[2,3]}`)})
	if err != nil || d.Broadcast || len(d.Recipients) != 2 {
		t.Fatalf("expected personal delivery to 2 recipients, got %+v %v", d, err)
	}
	if _, ok := channel.Decode(channel.PersonalTopic(2), d.Body).(channel.CaseUpdated); !ok {
		t.Fatalf("unexpected update body %s", d.Body)
	}

	d, err = Translate(Message{Topic: db.TopicCaseDeleted, Payload: []byte(`{"caseId":4}`)})
	if err != nil || d.Recipients != nil {
		t.Fatalf("expected delivery to every client, got %+v %v", d, err)
	}

	if _, err := Translate(Message{Topic: "case.exploded", Payload: []byte(`{"caseId":4}`)}); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
	if _, err := Translate(Message{Topic: db.TopicCaseAssigned, Payload: []byte(`{}`)}); err == nil {
		t.Fatal("expected error for missing caseId")
	}
}

func TestRelay_Once(t *testing.T) {
	store := &fakeStore{
		status: map[string]string{},
		pending: []Message{
			{ID: "a", Topic: db.TopicCasePublished, Payload: []byte(`{"caseId":1,"title":"t","category":"Tax"}`)},
			{ID: "b", Topic: db.TopicCaseAssigned, Payload: []byte(`{"caseId":1}`)},
			{ID: "c", Topic: "bogus", Payload: []byte(`{"caseId":1}`)},
		},
	}
	pub := &fakePublisher{}
	r := NewRelay(store, pub, 0, 10, nil)

	n, err := r.Once(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 delivered, got %d", n)
	}
	if store.status["c"] != "failed" {
		t.Fatalf("expected bogus row to count an attempt, got %q", store.status["c"])
	}
	if len(pub.sent) != 2 || pub.sent[0].destination != channel.BroadcastTopic {
		t.Fatalf("unexpected publishes %+v", pub.sent)
	}
	if pub.sent[1].recipients != nil {
		t.Fatalf("expected assignment to address everyone, got %v", pub.sent[1].recipients)
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRelay(&fakeStore{status: map[string]string{}}, &fakePublisher{}, 0, 0, nil)
	if err := r.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
