package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kilupskalvis/swivel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// feedServer is a minimal websocket producer emitting the given events
// and collecting acks.
func feedServer(t *testing.T, events []models.ChangeEvent, acks chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		for _, ev := range events {
			data, err := msgpack.Marshal(ev)
			require.NoError(t, err)
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, data))
		}

		for range events {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ack ackFrame
			if err := msgpack.Unmarshal(data, &ack); err == nil {
				acks <- ack.Seq
			}
		}
	}))
}

func TestWebSocket_ReceiveAndAck(t *testing.T) {
	events := []models.ChangeEvent{
		{RecordID: "a", Op: models.OpUpsert, Payload: []byte(`{"title":"one"}`), Seq: "0001"},
		{RecordID: "b", Op: models.OpDelete, Seq: "0002"},
	}
	acks := make(chan string, len(events))
	srv := feedServer(t, events, acks)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(context.Background(), url, nil)
	require.NoError(t, err)
	defer ws.Close()

	for _, want := range events {
		select {
		case got := <-ws.Events():
			assert.Equal(t, want.RecordID, got.RecordID)
			assert.Equal(t, want.Op, got.Op)
			assert.Equal(t, want.Seq, got.Seq)
			require.NoError(t, ws.Ack(got.Seq))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %s", want.Seq)
		}
	}

	for _, want := range events {
		select {
		case seq := <-acks:
			assert.Equal(t, want.Seq, seq)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for ack %s", want.Seq)
		}
	}
}

func TestWebSocket_MalformedFrameSkipped(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0xc1})) // never-used msgpack byte
		good, _ := msgpack.Marshal(models.ChangeEvent{RecordID: "ok", Op: models.OpUpsert, Seq: "1"})
		require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, good))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, err := DialWebSocket(context.Background(), url, nil)
	require.NoError(t, err)
	defer ws.Close()

	select {
	case ev := <-ws.Events():
		assert.Equal(t, "ok", ev.RecordID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the valid event")
	}
}

func TestReplay_AckTracking(t *testing.T) {
	r := NewReplay(4)
	r.Emit(models.ChangeEvent{RecordID: "a", Op: models.OpUpsert, Seq: "1"})
	r.Finish()

	ev := <-r.Events()
	require.NoError(t, r.Ack(ev.Seq))
	assert.True(t, r.Acked("1"))
	assert.Equal(t, 1, r.AckedCount())

	_, open := <-r.Events()
	assert.False(t, open)
}
