package galvo

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

func TestEncodeStatus(t *testing.T) {
	status := &PlaybackStatus{
		Session: "abc",
		File:    "show.ild",
		Time:    time.Unix(1500, 0).UTC(),
		Frame:   4,
		Frames:  10,
		Points:  123456,
	}

	payload, err := EncodeStatus(status, "json")
	if err != nil {
		t.Fatal(err.Error())
	}
	fromJSON := &PlaybackStatus{}
	if errGo := json.Unmarshal(payload, fromJSON); errGo != nil {
		t.Fatal(errGo)
	}
	if fromJSON.Session != "abc" || fromJSON.Points != 123456 || fromJSON.Frame != 4 {
		t.Fatalf("json payload decoded as %+v", fromJSON)
	}

	payload, err = EncodeStatus(status, "msgpack")
	if err != nil {
		t.Fatal(err.Error())
	}
	fromMsgpack := &PlaybackStatus{}
	if errGo := msgpack.Unmarshal(payload, fromMsgpack); errGo != nil {
		t.Fatal(errGo)
	}
	if fromMsgpack.File != "show.ild" || fromMsgpack.Frames != 10 || !fromMsgpack.Time.Equal(status.Time) {
		t.Fatalf("msgpack payload decoded as %+v", fromMsgpack)
	}

	if _, err = EncodeStatus(status, "xml"); err == nil {
		t.Fatal("expected an error for an unknown encoding")
	}
}

func TestPublishDisconnected(t *testing.T) {
	emitter := NewStatusEmitter(MQTTSettings{Broker: "localhost:1", Topic: "t", Encoding: "json"}, "test")
	if err := emitter.Publish(&PlaybackStatus{}); err == nil {
		t.Fatal("expected publishing without a connection to fail")
	}
	if published, failures := emitter.Counts(); published != 0 || failures != 1 {
		t.Fatalf("unexpected counts %d/%d", published, failures)
	}
}
