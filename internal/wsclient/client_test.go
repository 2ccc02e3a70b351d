package wsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kvs-signaling/core/internal/clockskew"
	"github.com/kvs-signaling/core/internal/model"
)

var testCreds = model.Credentials{
	AccessKeyID:     "AKIDEXAMPLE",
	SecretAccessKey: "wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY",
	Expiration:      time.Now().Add(time.Hour),
}

var upgrader = websocket.Upgrader{}

func wssURL(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "?X-Amz-ChannelARN=arn:aws:kinesisvideo:us-west-2:1:channel/c/1"
}

func TestBuildURLMasterOmitsClientID(t *testing.T) {
	u, err := BuildURL("wss://e.example/", "arn:1", model.RoleMaster, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(u, "X-Amz-ClientId") {
		t.Fatalf("expected master URL to omit X-Amz-ClientId: %s", u)
	}
}

func TestBuildURLViewerRequiresClientID(t *testing.T) {
	_, err := BuildURL("wss://e.example/", "arn:1", model.RoleViewer, "")
	if model.CodeOf(err) != model.ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}

	u, err := BuildURL("wss://e.example/", "arn:1", model.RoleViewer, "peer-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(u, "X-Amz-ClientId=peer-1") {
		t.Fatalf("expected viewer URL to carry client id: %s", u)
	}
}

func TestConnectDeliversMessageToCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"SDP_OFFER"}`))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var got []byte
	done := make(chan struct{})

	c, err := Connect(context.Background(), ConnectParams{
		WSSEndpoint: wssURL(t, srv),
		ChannelArn:  "arn:aws:kinesisvideo:us-west-2:1:channel/c/1",
		Role:        model.RoleMaster,
		Creds:       testCreds,
		Region:      "us-west-2",
		Skew:        clockskew.NewTable(),
		State:       model.StateConnect,
		Now:         time.Now(),
	}, Callbacks{
		OnMessage: func(frame []byte) {
			mu.Lock()
			got = frame
			mu.Unlock()
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message callback")
	}

	mu.Lock()
	defer mu.Unlock()
	if string(got) != `{"action":"SDP_OFFER"}` {
		t.Fatalf("unexpected frame: %s", got)
	}
}

func TestSendFailsWhenNotConnected(t *testing.T) {
	c := &Client{}
	_, err := c.Send([]byte("x"))
	if model.CodeOf(err) != model.ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnectInvokesOnDisconnectedWhenServerCloses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	done := make(chan struct{})
	c, err := Connect(context.Background(), ConnectParams{
		WSSEndpoint: wssURL(t, srv),
		ChannelArn:  "arn:aws:kinesisvideo:us-west-2:1:channel/c/1",
		Role:        model.RoleMaster,
		Creds:       testCreds,
		Region:      "us-west-2",
		Skew:        clockskew.NewTable(),
		State:       model.StateConnect,
		Now:         time.Now(),
	}, Callbacks{
		OnDisconnected: func(lastErr error) {
			close(done)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
	if c.Connected() {
		t.Fatal("expected Connected() to be false after disconnect")
	}
}
