package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tablesync/session"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// script is what the fake server does with each successive connection.
type script func(connIndex int, conn *websocket.Conn)

func newStreamServer(t *testing.T, s script) (*httptest.Server, *int64) {
	t.Helper()
	var conns int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		idx := int(atomic.AddInt64(&conns, 1)) - 1
		s(idx, conn)
	}))
	t.Cleanup(srv.Close)
	return srv, &conns
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func closeWith(conn *websocket.Conn, code int) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
	// Give the peer a moment to read the close frame before the TCP
	// teardown races it.
	time.Sleep(20 * time.Millisecond)
	conn.Close()
}

type recorder struct {
	mu        sync.Mutex
	messages  []*session.Session
	errors    []error
	states    []ConnState
	navs      []Destination
	gotMsg    chan struct{}
	gotNav    chan struct{}
	closeOnce sync.Once
	navOnce   sync.Once
}

func newRecorder() *recorder {
	return &recorder{gotMsg: make(chan struct{}), gotNav: make(chan struct{})}
}

func (r *recorder) hooks() Hooks {
	return Hooks{
		OnMessage: func(s *session.Session) {
			r.mu.Lock()
			r.messages = append(r.messages, s)
			r.mu.Unlock()
			r.closeOnce.Do(func() { close(r.gotMsg) })
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errors = append(r.errors, err)
			r.mu.Unlock()
		},
		OnConnectionChange: func(s ConnState) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
		OnNavigate: func(d Destination) {
			r.mu.Lock()
			r.navs = append(r.navs, d)
			r.mu.Unlock()
			r.navOnce.Do(func() { close(r.gotNav) })
		},
	}
}

func (r *recorder) snapshotCounts() (msgs, errs, navs int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages), len(r.errors), len(r.navs)
}

func TestConnect_DeliversSnapshots(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv, _ := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		ready <- conn
	})

	rec := newRecorder()
	m := New(Config{URL: wsURL(srv)}, rec.hooks())
	defer m.Close()

	if err := m.Connect("s1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn := <-ready
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"s1","status":"playing","handCount":2,"participants":[]}`)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rec.gotMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
	rec.mu.Lock()
	got := rec.messages[0]
	rec.mu.Unlock()
	if got.ID != "s1" || got.HandCount != 2 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
	if m.State() != StateConnected {
		t.Fatalf("state = %v, want connected", m.State())
	}
}

func TestConnect_MalformedPayloadDoesNotHaltStream(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv, _ := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		ready <- conn
	})

	rec := newRecorder()
	m := New(Config{URL: wsURL(srv)}, rec.hooks())
	defer m.Close()

	if err := m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := <-ready
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"s1","participants":[]}`))

	select {
	case <-rec.gotMsg:
	case <-time.After(2 * time.Second):
		t.Fatal("stream halted after malformed payload")
	}
	_, errs, _ := rec.snapshotCounts()
	if errs != 1 {
		t.Fatalf("expected 1 parse error, got %d", errs)
	}
}

func TestClose_NotFoundNavigatesWithoutRetry(t *testing.T) {
	srv, conns := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		closeWith(conn, 4004)
	})

	rec := newRecorder()
	m := New(Config{
		URL:            wsURL(srv),
		ReconnectDelay: 30 * time.Millisecond,
		NavigateDelay:  10 * time.Millisecond,
	}, rec.hooks())
	defer m.Close()

	if err := m.Connect("gone"); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rec.gotNav:
	case <-time.After(2 * time.Second):
		t.Fatal("expected navigation to the listing view")
	}
	rec.mu.Lock()
	dest := rec.navs[0]
	rec.mu.Unlock()
	if dest != DestListing {
		t.Fatalf("navigated to %v, want listing", dest)
	}

	// Wait past the reconnect window and confirm nothing redialed.
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt64(conns); n != 1 {
		t.Fatalf("expected no reconnect after 4004, got %d connections", n)
	}
	_, _, navs := rec.snapshotCounts()
	if navs != 1 {
		t.Fatalf("expected exactly one navigation, got %d", navs)
	}
}

func TestClose_RetryableCodeReconnectsOnce(t *testing.T) {
	srv, conns := newStreamServer(t, func(idx int, conn *websocket.Conn) {
		if idx == 0 {
			closeWith(conn, websocket.CloseInternalServerErr) // 1011
			return
		}
		// Second connection stays up.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	rec := newRecorder()
	m := New(Config{
		URL:            wsURL(srv),
		ReconnectDelay: 50 * time.Millisecond,
	}, rec.hooks())
	defer m.Close()

	if err := m.Connect("s1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt64(conns) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("reconnect never happened, %d connections", atomic.LoadInt64(conns))
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Exactly one retry for one failure.
	time.Sleep(120 * time.Millisecond)
	if n := atomic.LoadInt64(conns); n != 2 {
		t.Fatalf("expected exactly one reconnect, got %d connections", n)
	}
	if m.State() != StateConnected {
		t.Fatalf("state after reconnect = %v, want connected", m.State())
	}
}

func TestClose_NormalClosureDoesNotRetry(t *testing.T) {
	srv, conns := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		closeWith(conn, websocket.CloseNormalClosure)
	})

	rec := newRecorder()
	m := New(Config{URL: wsURL(srv), ReconnectDelay: 20 * time.Millisecond}, rec.hooks())
	defer m.Close()

	if err := m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	if n := atomic.LoadInt64(conns); n != 1 {
		t.Fatalf("normal closure must not retry, got %d connections", n)
	}
	if m.State() != StateDisconnected {
		t.Fatalf("state = %v, want disconnected", m.State())
	}
}

func TestSummaryNotificationBypassesReconciler(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv, _ := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		ready <- conn
	})

	rec := newRecorder()
	m := New(Config{URL: wsURL(srv), NavigateDelay: 10 * time.Millisecond}, rec.hooks())
	defer m.Close()

	if err := m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := <-ready
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"summary_available"}`))

	select {
	case <-rec.gotNav:
	case <-time.After(2 * time.Second):
		t.Fatal("expected delayed navigation to summary")
	}
	msgs, _, _ := rec.snapshotCounts()
	if msgs != 0 {
		t.Fatalf("notification leaked into the snapshot path: %d messages", msgs)
	}
	rec.mu.Lock()
	dest := rec.navs[0]
	rec.mu.Unlock()
	if dest != DestSummary {
		t.Fatalf("navigated to %v, want summary", dest)
	}
}

func TestClose_SilencesHooks(t *testing.T) {
	ready := make(chan *websocket.Conn, 1)
	srv, _ := newStreamServer(t, func(_ int, conn *websocket.Conn) {
		ready <- conn
	})

	rec := newRecorder()
	m := New(Config{URL: wsURL(srv), NavigateDelay: 10 * time.Millisecond}, rec.hooks())

	if err := m.Connect("s1"); err != nil {
		t.Fatal(err)
	}
	conn := <-ready
	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"summary_available"}`))
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	msgsBefore, errsBefore, navsBefore := rec.snapshotCounts()

	_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"id":"s1","participants":[]}`))
	time.Sleep(100 * time.Millisecond)

	msgs, errs, navs := rec.snapshotCounts()
	if msgs != msgsBefore || errs != errsBefore || navs != navsBefore {
		t.Fatalf("hooks fired after Close: msgs %d->%d errs %d->%d navs %d->%d",
			msgsBefore, msgs, errsBefore, errs, navsBefore, navs)
	}
	if err := m.Connect("s1"); err != ErrClosed {
		t.Fatalf("Connect after Close = %v, want ErrClosed", err)
	}
}
