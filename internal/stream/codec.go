package stream

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"codeberg.org/mutker/posturectl/internal/analysis"
	"codeberg.org/mutker/posturectl/internal/errors"
	"github.com/gorilla/websocket"
)

// Protocol names accepted by NewCodec
const (
	ProtocolJSON     = "json"
	ProtocolSocketIO = "socketio"
)

const dataURLMarker = ";base64,"

// Decoded is the result of decoding one transport message. Event is nil
// for protocol-only messages; Reply, when set, must be written back.
type Decoded struct {
	Event *Event
	Reply []byte
}

// Codec translates between transport messages and Events/Intents.
type Codec interface {
	Encode(intent Intent) ([]byte, error)
	Decode(messageType int, payload []byte) (Decoded, error)
}

// NewCodec returns the codec for protocol.
func NewCodec(protocol string) (Codec, error) {
	switch protocol {
	case "", ProtocolJSON:
		return jsonCodec{}, nil
	case ProtocolSocketIO:
		return socketIOCodec{}, nil
	default:
		return nil, errors.New().WithData(errors.ErrInvalidConfig, "stream protocol "+protocol)
	}
}

// jsonCodec speaks plain {type, data} JSON over text frames. Binary
// frames and non-JSON text frames carry a JPEG frame.
type jsonCodec struct{}

func (jsonCodec) Encode(intent Intent) ([]byte, error) {
	return json.Marshal(intent)
}

func (jsonCodec) Decode(messageType int, payload []byte) (Decoded, error) {
	if messageType == websocket.BinaryMessage {
		return Decoded{Event: &Event{Kind: KindFrame, Frame: payload}}, nil
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		frame, err := decodeFrame(string(trimmed))
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Event: &Event{Kind: KindFrame, Frame: frame}}, nil
	}

	var env struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Decoded{}, errors.New().Wrap(errors.ErrInvalidMessage, err)
	}

	ev, err := decodeTyped(env.Type, env.Data, trimmed)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Event: ev}, nil
}

// Engine.IO v4 packet types and Socket.IO packet types used here
const (
	eioOpen    = '0'
	eioClose   = '1'
	eioPing    = '2'
	eioPong    = '3'
	eioMessage = '4'
	eioNoop    = '6'

	sioConnect      = '0'
	sioDisconnect   = '1'
	sioEvent        = '2'
	sioConnectError = '4'
)

// handshaker is implemented by codecs that must finish a protocol
// handshake before the first intent is sent.
type handshaker interface {
	handshake(conn *websocket.Conn) error
}

// socketIOCodec speaks the Socket.IO v5 / Engine.IO v4 text framing used
// by Flask-SocketIO servers.
type socketIOCodec struct{}

func (socketIOCodec) Encode(intent Intent) ([]byte, error) {
	args := []any{intent.Type}
	if intent.Data != nil {
		args = append(args, intent.Data)
	}
	body, err := json.Marshal(args)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidArgument, err)
	}
	return append([]byte{eioMessage, sioEvent}, body...), nil
}

// handshake waits for the Engine.IO open packet, joins the default
// namespace and returns once the server acknowledges the join.
func (socketIOCodec) handshake(conn *websocket.Conn) error {
	if err := conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return err
	}
	defer conn.SetReadDeadline(time.Time{})

	reply := func(msg []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, msg)
	}

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if messageType != websocket.TextMessage || len(payload) == 0 {
			continue
		}

		switch {
		case payload[0] == eioOpen:
			if err := reply([]byte{eioMessage, sioConnect}); err != nil {
				return err
			}
		case payload[0] == eioPing:
			if err := reply([]byte{eioPong}); err != nil {
				return err
			}
		case len(payload) >= 2 && payload[0] == eioMessage && payload[1] == sioConnect:
			return nil
		case len(payload) >= 2 && payload[0] == eioMessage && payload[1] == sioConnectError:
			return errors.New().WithData(errors.ErrStreamFailed, string(payload[2:]))
		}
	}
}

func (socketIOCodec) Decode(messageType int, payload []byte) (Decoded, error) {
	errFactory := errors.New()

	if messageType == websocket.BinaryMessage {
		return Decoded{Event: &Event{Kind: KindFrame, Frame: payload}}, nil
	}
	if len(payload) == 0 {
		return Decoded{}, errFactory.WithData(errors.ErrInvalidMessage, "empty packet")
	}

	switch payload[0] {
	case eioOpen:
		// Join the default namespace once the transport is open.
		return Decoded{Reply: []byte{eioMessage, sioConnect}}, nil
	case eioPing:
		return Decoded{Reply: []byte{eioPong}}, nil
	case eioPong, eioNoop:
		return Decoded{}, nil
	case eioClose:
		return Decoded{Event: &Event{Kind: KindClosed}}, nil
	case eioMessage:
	default:
		return Decoded{}, errFactory.WithData(errors.ErrInvalidMessage, string(payload[:1]))
	}

	if len(payload) < 2 {
		return Decoded{}, errFactory.WithData(errors.ErrInvalidMessage, "truncated packet")
	}

	switch payload[1] {
	case sioConnect:
		return Decoded{}, nil
	case sioDisconnect:
		return Decoded{Event: &Event{Kind: KindClosed}}, nil
	case sioConnectError:
		return Decoded{Event: &Event{
			Kind: KindError,
			Err:  errFactory.WithData(errors.ErrStreamFailed, string(payload[2:])),
		}}, nil
	case sioEvent:
	default:
		return Decoded{}, nil
	}

	body := payload[2:]
	// Skip an optional namespace ("/ns,") and ack id prefix.
	if i := bytes.IndexByte(body, '['); i >= 0 {
		body = body[i:]
	}

	var args []json.RawMessage
	if err := json.Unmarshal(body, &args); err != nil || len(args) == 0 {
		return Decoded{}, errFactory.WithData(errors.ErrInvalidMessage, string(body))
	}

	var name string
	if err := json.Unmarshal(args[0], &name); err != nil {
		return Decoded{}, errFactory.Wrap(errors.ErrInvalidMessage, err)
	}

	var data json.RawMessage
	if len(args) > 1 {
		data = args[1]
	}

	ev, err := decodeTyped(name, data, data)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Event: ev}, nil
}

// analysisPayload is the analysis_data wire shape.
type analysisPayload struct {
	OverallScore *float64                   `json:"overall_score"`
	Metrics      map[string]analysis.Metric `json:"metrics"`
	Predict      string                     `json:"predict"`
}

// decodeTyped builds the event for a named server event. Analysis fields
// are read from data, or from whole when data is absent.
func decodeTyped(name string, data, whole json.RawMessage) (*Event, error) {
	errFactory := errors.New()

	switch name {
	case TypeVideoFrame:
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidMessage, err)
		}
		frame, err := decodeFrame(encoded)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: KindFrame, Frame: frame}, nil

	case TypeAnalysisData:
		src := data
		if len(bytes.TrimSpace(src)) == 0 || string(bytes.TrimSpace(src)) == "null" {
			src = whole
		}
		var p analysisPayload
		if err := json.Unmarshal(src, &p); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidMessage, err)
		}
		snap, ok := p.snapshot()
		if !ok {
			return nil, errFactory.WithData(errors.ErrInvalidMessage, "analysis_data without scores")
		}
		return &Event{Kind: KindMetrics, Snapshot: snap}, nil

	case TypeAnalysisComplete:
		return &Event{Kind: KindComplete}, nil

	default:
		return nil, errFactory.WithData(errors.ErrInvalidMessage, "unknown event "+name)
	}
}

// snapshot converts the payload. A missing overall score falls back to the
// mean of the delivered metrics.
func (p analysisPayload) snapshot() (analysis.Snapshot, bool) {
	snap := analysis.Snapshot{
		Metrics:    make(map[string]analysis.Metric, len(p.Metrics)),
		Prediction: p.Predict,
	}
	sum := 0.0
	for name, m := range p.Metrics {
		snap.Metrics[name] = analysis.NewMetric(m.Score)
		sum += m.Score
	}

	switch {
	case p.OverallScore != nil:
		snap.OverallScore = *p.OverallScore
	case len(p.Metrics) > 0:
		snap.OverallScore = sum / float64(len(p.Metrics))
	default:
		return analysis.Snapshot{}, false
	}
	return snap, true
}

// decodeFrame accepts bare base64 or a data URL.
func decodeFrame(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, dataURLMarker); i >= 0 && strings.HasPrefix(encoded, "data:") {
		encoded = encoded[i+len(dataURLMarker):]
	}
	frame, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrInvalidMessage, err)
	}
	if len(frame) == 0 {
		return nil, errors.New().WithData(errors.ErrInvalidMessage, "empty frame")
	}
	return frame, nil
}
