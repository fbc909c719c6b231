package galvo

// This module publishes playback status messages to an MQTT broker so that
// installations can be monitored remotely.  It subscribes to the status fanout
// and never touches the playback path

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-stack/stack"
	"github.com/karlmutch/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// EncodeStatus serializes a status message as json or msgpack
func EncodeStatus(status *PlaybackStatus, encoding string) (payload []byte, err errors.Error) {
	errGo := error(nil)
	switch encoding {
	case "json", "":
		payload, errGo = json.Marshal(status)
	case "msgpack":
		payload, errGo = msgpack.Marshal(status)
	default:
		return nil, errors.New("unknown status encoding").With("encoding", encoding).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo != nil {
		return nil, errors.Wrap(errGo).With("encoding", encoding).With("stack", stack.Trace().TrimRuntime())
	}
	return payload, nil
}

// StatusEmitter publishes status messages to a broker
type StatusEmitter struct {
	settings MQTTSettings
	clientID string
	client   mqtt.Client

	published uint64
	failures  uint64
	connected bool
	sync.Mutex
}

// NewStatusEmitter creates an emitter, Connect must be called before publishing
func NewStatusEmitter(settings MQTTSettings, clientID string) (emitter *StatusEmitter) {
	return &StatusEmitter{
		settings: settings,
		clientID: clientID,
	}
}

// Connect establishes the broker connection, the client reconnects by itself
// after it has been established once
func (e *StatusEmitter) Connect() (err errors.Error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.settings.Broker))
	opts.SetClientID(e.clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.Lock()
		e.connected = true
		e.Unlock()
		logger.Info("mqtt connection established", "broker", e.settings.Broker, "client_id", e.clientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, errGo error) {
		e.Lock()
		e.connected = false
		e.Unlock()
		logger.Warn("mqtt connection lost, will auto-reconnect", "broker", e.settings.Broker, "error", errGo)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt connection timeout").With("broker", e.settings.Broker).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo := token.Error(); errGo != nil {
		return errors.Wrap(errGo).With("broker", e.settings.Broker).With("stack", stack.Trace().TrimRuntime())
	}

	e.Lock()
	e.connected = true
	e.Unlock()

	return nil
}

func (e *StatusEmitter) isConnected() bool {
	e.Lock()
	defer e.Unlock()
	return e.connected
}

func (e *StatusEmitter) failed() {
	e.Lock()
	e.failures++
	e.Unlock()
}

// Publish sends one status message to the status topic
func (e *StatusEmitter) Publish(status *PlaybackStatus) (err errors.Error) {
	if e.client == nil || !e.isConnected() {
		e.failed()
		return errors.New("mqtt not connected").With("broker", e.settings.Broker).With("stack", stack.Trace().TrimRuntime())
	}

	payload, err := EncodeStatus(status, e.settings.Encoding)
	if err != nil {
		e.failed()
		return err
	}

	topic := fmt.Sprintf("%s/%s", e.settings.Topic, status.Session)
	token := e.client.Publish(topic, e.settings.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.failed()
		return errors.New("mqtt publish timeout").With("topic", topic).With("stack", stack.Trace().TrimRuntime())
	}
	if errGo := token.Error(); errGo != nil {
		e.failed()
		return errors.Wrap(errGo).With("topic", topic).With("stack", stack.Trace().TrimRuntime())
	}

	e.Lock()
	e.published++
	e.Unlock()
	return nil
}

// Counts returns the number of messages published and the number that failed
func (e *StatusEmitter) Counts() (published uint64, failures uint64) {
	e.Lock()
	defer e.Unlock()
	return e.published, e.failures
}

// Close disconnects from the broker
func (e *StatusEmitter) Close() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
	}
}

// StartStatusEmitter will add itself to the subscriptions for playback status
// messages and publish each one it receives until quitC is closed
func StartStatusEmitter(settings MQTTSettings, clientID string, subscribeC chan chan *PlaybackStatus, errorC chan<- errors.Error, quitC <-chan struct{}) {

	emitter := NewStatusEmitter(settings, clientID)
	if err := emitter.Connect(); err != nil {
		reportError(err, errorC)
		return
	}
	defer emitter.Close()

	// Only the latest status matters, a small buffer absorbs broker hiccups
	updateC := make(chan *PlaybackStatus, 4)
	defer close(updateC)

	subscribeC <- updateC

	for {
		select {
		case status := <-updateC:
			if status == nil {
				continue
			}
			if err := emitter.Publish(status); err != nil {
				reportError(err, errorC)
			}
		case <-quitC:
			return
		}
	}
}

func reportError(err errors.Error, errorC chan<- errors.Error) {
	select {
	case errorC <- err:
	case <-time.After(100 * time.Millisecond):
		fmt.Fprintln(os.Stderr, err.Error())
	}
}
