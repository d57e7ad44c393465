package livefeed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func mustEvent(t *testing.T, topic string) Event {
	t.Helper()
	ev, err := NewEvent("emergency.created", topic, "case-1", map[string]string{"status": "WAITING_FOR_HOSPITAL"})
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	return ev
}

func TestHub_PublishToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	sub := hub.register("US-BOS-STM-03")
	other := hub.register("IN-NEW-APO-01")

	if err := hub.Publish(context.Background(), mustEvent(t, "US-BOS-STM-03")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case msg := <-sub.send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ResourceID != "case-1" || got.Type != "emergency.created" {
			t.Errorf("unexpected event %+v", got)
		}
		if !strings.Contains(string(got.Data), "WAITING_FOR_HOSPITAL") {
			t.Errorf("data not carried: %s", got.Data)
		}
	default:
		t.Fatal("subscriber did not receive the event")
	}

	select {
	case <-other.send:
		t.Fatal("client on another topic received the event")
	default:
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := hub.register("US-BOS-STM-03")
	if hub.Subscribers("US-BOS-STM-03") != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers("US-BOS-STM-03"))
	}

	hub.unregister(c)
	hub.unregister(c)

	if hub.Subscribers("US-BOS-STM-03") != 0 {
		t.Fatalf("expected 0 subscribers, got %d", hub.Subscribers("US-BOS-STM-03"))
	}
	if _, ok := <-c.send; ok {
		t.Fatal("send channel should be closed")
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := hub.register("T")

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*2; i++ {
			_ = hub.Publish(context.Background(), mustEvent(t, "T"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
	if len(c.send) != sendBuffer {
		t.Errorf("expected buffer filled to %d, got %d", sendBuffer, len(c.send))
	}
}

func TestHub_ConcurrentPublishAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		c := hub.register("T")
		go func() {
			defer wg.Done()
			_ = hub.Publish(context.Background(), mustEvent(t, "T"))
		}()
		go func() {
			defer wg.Done()
			hub.unregister(c)
		}()
	}
	wg.Wait()
	if n := hub.Subscribers("T"); n != 0 {
		t.Fatalf("expected all clients gone, got %d", n)
	}
}

func TestHub_ServeStreamsEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	e.GET("/feed", func(c echo.Context) error { return hub.Serve(c, "US-BOS-STM-03") })
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
	ws, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers("US-BOS-STM-03") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.Publish(context.Background(), mustEvent(t, "US-BOS-STM-03")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Topic != "US-BOS-STM-03" {
		t.Errorf("topic = %q", got.Topic)
	}

	ws.Close()
	deadline = time.Now().Add(2 * time.Second)
	for hub.Subscribers("US-BOS-STM-03") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not unregistered after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
