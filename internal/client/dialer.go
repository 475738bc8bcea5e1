package client

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"opsync/api/internal/realtime"
	deltasync "opsync/api/internal/sync"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// SyncFunc fetches a delta from the server, typically over the HTTP sync
// endpoint. Injected so the dialer stays transport-agnostic and testable.
type SyncFunc func(ctx context.Context, missionID string, since *time.Time) (deltasync.Delta, error)

// Dialer maintains the realtime connection for one mission: connect, join the
// room, catch up via delta sync, pump inbound frames into the reconciler, and
// on any transport failure retry forever with capped exponential backoff.
// Cancelling ctx (the user navigating away) is the only way out.
type Dialer struct {
	URL        string
	Token      string
	MissionID  string
	Reconciler *Reconciler
	Sync       SyncFunc
}

func (d *Dialer) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := d.runOnce(ctx)
		if err != nil {
			log.Printf("realtime connection lost for %s: %v", d.MissionID, err)
		}
		if connected {
			backoff = initialBackoff
		}
		if ctx.Err() != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

func (d *Dialer) runOnce(ctx context.Context) (bool, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.Token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, d.URL, header)
	if err != nil {
		return false, err
	}
	defer ws.Close()

	// Tear the socket down when the caller cancels, which unblocks the read
	// pump below.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	join, err := realtime.EncodeEnvelope(realtime.EventRoomJoin, realtime.RoomRequest{MissionID: d.MissionID})
	if err != nil {
		return true, err
	}
	if err := ws.WriteMessage(websocket.TextMessage, join); err != nil {
		return true, err
	}

	// Repair whatever was missed while disconnected before trusting the live
	// stream again. A sync failure is not fatal to the connection: the client
	// keeps serving stale cache and the next reconnect retries.
	if d.Sync != nil {
		since, err := d.Reconciler.Cursor()
		if err != nil {
			log.Printf("read cursor for %s: %v", d.MissionID, err)
		} else if delta, err := d.Sync(ctx, d.MissionID, since); err != nil {
			log.Printf("delta sync for %s: %v", d.MissionID, err)
		} else if err := d.Reconciler.ApplyDelta(delta); err != nil {
			log.Printf("apply delta for %s: %v", d.MissionID, err)
		}
	}

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return true, err
		}
		var env realtime.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		if err := d.Reconciler.HandleEnvelope(env); err != nil {
			log.Printf("merge frame %s: %v", env.Event, err)
		}
	}
}

func nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
