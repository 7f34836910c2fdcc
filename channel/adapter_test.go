package channel

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
)

type tokenAuth map[string]int64

func (a tokenAuth) Authenticate(token string) (int64, error) {
	id, ok := a[token]
	if !ok {
		return 0, errors.New("bad token")
	}
	return id, nil
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(tokenAuth{"pro-5": 5, "pro-6": 6}, quietLogger())
	ts := httptest.NewServer(hub)
	t.Cleanup(ts.Close)
	return hub, "ws" + ts.URL[4:]
}

type recorder struct {
	events chan Event
	mu     sync.Mutex
	states []State
}

func newRecorder() *recorder {
	return &recorder{events: make(chan Event, 16)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnEvent: func(ev Event) { r.events <- ev },
		OnState: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) count(s State) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cur := range r.states {
		if cur == s {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func expectEvent(t *testing.T, r *recorder, want Event) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("expected %#v, got %#v", want, got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %#v", want)
	}
}

func expectNoEvent(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("expected no event, got %#v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func subscribedBoth(hub *Hub, userID int64, n int) func() bool {
	return func() bool {
		return hub.Subscribers(BroadcastTopic) == n && hub.Subscribers(PersonalTopic(userID)) == n
	}
}

func TestAdapter_DeliversBroadcastAndPersonalEvents(t *testing.T) {
	hub, url := startHub(t)
	rec := newRecorder()
	a := NewAdapter(Config{URL: url, Token: "pro-5", UserID: 5, Logger: quietLogger()}, rec.callbacks())
	a.Activate(context.Background())
	defer a.Deactivate()

	waitFor(t, "subscriptions", subscribedBoth(hub, 5, 1))

	hub.Publish(BroadcastTopic, EncodeBroadcast(NewCaseBroadcast{CaseID: 42, Title: "X", Category: "Family"}))
	expectEvent(t, rec, NewCaseBroadcast{CaseID: 42, Title: "X", Category: "Family"})

	hub.PublishPersonal([]int64{5}, EncodeUpdate(TypeCaseAssigned, 42))
	expectEvent(t, rec, CaseAssigned{CaseID: 42})

	hub.PublishPersonal([]int64{6}, EncodeUpdate(TypeCaseDeleted, 42))
	hub.PublishPersonal([]int64{5}, []byte(`{"type":"NOPE","caseId":1}`))
	expectNoEvent(t, rec)

	if rec.count(StateOnline) != 1 {
		t.Fatalf("expected one online transition, got %d", rec.count(StateOnline))
	}
}

func TestAdapter_ReconnectResubscribesOnce(t *testing.T) {
	hub, url := startHub(t)
	rec := newRecorder()
	a := NewAdapter(Config{
		URL:            url,
		Token:          "pro-5",
		UserID:         5,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         quietLogger(),
	}, rec.callbacks())
	a.Activate(context.Background())
	a.Activate(context.Background())
	defer a.Deactivate()

	waitFor(t, "first subscriptions", subscribedBoth(hub, 5, 1))
	hub.DropAll()
	waitFor(t, "reconnect", func() bool { return rec.count(StateOnline) == 2 })
	waitFor(t, "resubscriptions", subscribedBoth(hub, 5, 1))

	if rec.count(StateOffline) < 1 {
		t.Fatal("expected an offline transition")
	}

	hub.PublishPersonal(nil, EncodeUpdate(TypeCaseUpdated, 9))
	expectEvent(t, rec, CaseUpdated{CaseID: 9})
	expectNoEvent(t, rec)
}

func TestAdapter_DeactivateStopsCallbacks(t *testing.T) {
	hub, url := startHub(t)
	rec := newRecorder()
	a := NewAdapter(Config{URL: url, Token: "pro-5", UserID: 5, Logger: quietLogger()}, rec.callbacks())
	a.Activate(context.Background())

	waitFor(t, "subscriptions", subscribedBoth(hub, 5, 1))
	a.Deactivate()
	if a.Active() {
		t.Fatal("expected adapter to be inactive")
	}
	waitFor(t, "disconnect", func() bool { return hub.Clients() == 0 })

	hub.Publish(BroadcastTopic, EncodeBroadcast(NewCaseBroadcast{CaseID: 1}))
	expectNoEvent(t, rec)

	a.Deactivate()
}

func TestAdapter_UnauthorizedStaysOffline(t *testing.T) {
	_, url := startHub(t)
	rec := newRecorder()
	a := NewAdapter(Config{
		URL:            url,
		Token:          "stolen",
		UserID:         5,
		ReconnectDelay: 10 * time.Millisecond,
		Logger:         quietLogger(),
	}, rec.callbacks())
	a.Activate(context.Background())
	waitFor(t, "retries", func() bool { return rec.count(StateOffline) >= 2 })
	a.Deactivate()

	if rec.count(StateOnline) != 0 {
		t.Fatal("expected adapter never to come online")
	}
}

func TestHub_RejectsForeignPersonalTopic(t *testing.T) {
	hub, url := startHub(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	send := func(f *frame.Frame) {
		if err := writeFrame(conn, f); err != nil {
			t.Fatalf("write %s: %v", f.Command, err)
		}
	}
	send(newFrame(frame.CONNECT, nil, "Authorization", "Bearer pro-6"))
	if f, err := readFrame(conn, quietLogger()); err != nil || f.Command != frame.CONNECTED {
		t.Fatalf("expected CONNECTED, got %+v %v", f, err)
	}

	send(newFrame(frame.SUBSCRIBE, nil, frame.Id, "s1", frame.Destination, PersonalTopic(5)))
	f, err := readFrame(conn, quietLogger())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Command != frame.ERROR {
		t.Fatalf("expected ERROR, got %s", f.Command)
	}
	if hub.Subscribers(PersonalTopic(5)) != 0 {
		t.Fatal("expected no subscriber on foreign topic")
	}
}

// scriptedServer completes the handshake, waits for both subscriptions and
// then writes the given raw messages followed by a valid broadcast.
func scriptedServer(t *testing.T, raw func(conn *websocket.Conn)) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		logger := quietLogger()
		if _, err := readFrame(conn, logger); err != nil {
			return
		}
		if err := writeFrame(conn, newFrame(frame.CONNECTED, nil, frame.Version, "1.2")); err != nil {
			return
		}
		subs := make(map[string]string, 2)
		for len(subs) < 2 {
			f, err := readFrame(conn, logger)
			if err != nil {
				return
			}
			if f.Command == frame.SUBSCRIBE {
				subs[f.Header.Get(frame.Destination)] = f.Header.Get(frame.Id)
			}
		}
		raw(conn)
		_ = writeFrame(conn, newFrame(frame.MESSAGE,
			EncodeBroadcast(NewCaseBroadcast{CaseID: 42, Title: "X", Category: "Family"}),
			frame.Destination, BroadcastTopic,
			frame.Subscription, subs[BroadcastTopic],
		))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(ts.Close)
	return "ws" + ts.URL[4:]
}

func TestAdapter_SkipsUndecodableFrames(t *testing.T) {
	url := scriptedServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("MESSAGE\ngarbage-header\n\n{}\x00"))
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		_ = conn.WriteMessage(websocket.TextMessage, []byte("\n"))
	})
	rec := newRecorder()
	a := NewAdapter(Config{
		URL:            url,
		Token:          "pro-5",
		UserID:         5,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         quietLogger(),
	}, rec.callbacks())
	a.Activate(context.Background())
	defer a.Deactivate()

	expectEvent(t, rec, NewCaseBroadcast{CaseID: 42, Title: "X", Category: "Family"})
	if n := rec.count(StateOffline); n != 0 {
		t.Fatalf("expected the connection to survive, got %d offline transitions", n)
	}
	if n := rec.count(StateOnline); n != 1 {
		t.Fatalf("expected one online transition, got %d", n)
	}
}
