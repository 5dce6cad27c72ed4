package daemon

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/underwatersim/vaosim/internal/logging"
	"github.com/underwatersim/vaosim/internal/metrics"
	"github.com/underwatersim/vaosim/internal/node"
)

// ServerName and ProtocolVersion are echoed by the "version" action (S1).
const (
	ServerName      = "VirtualAcousticOcean"
	ProtocolVersion = "0.2.0"
	serverVersion   = "1.0.0"
)

// Request is one newline-terminated JSON control-plane command (spec §4.5).
type Request struct {
	Action string          `json:"action"`
	ID     *int64          `json:"id,omitempty"`
	Port   int             `json:"port,omitempty"`
	Param  string          `json:"param,omitempty"`
	Value  json.RawMessage `json:"value,omitempty"`
	Time   int64           `json:"time,omitempty"`
	Data   string          `json:"data,omitempty"` // odata base64 payload, UASP2 only
}

// Response is one newline-terminated JSON response or notification.
type Response struct {
	Name     string `json:"name,omitempty"`
	Version  string `json:"version,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	ID       any    `json:"id,omitempty"`
	Param    string `json:"param,omitempty"`
	Value    any    `json:"value,omitempty"`
	Event    string `json:"event,omitempty"`
	Time     int64  `json:"time,omitempty"`
}

// Client is the daemon's view of its bound node (spec §9 "Opaque client
// indirection"): get/set parameters and fire a transmission. The sim
// package injects the concrete Simulation+Node implementation.
type Client interface {
	NodeID() string
	IRate() float64
	OChannels() int
	Get(key string) (node.Value, bool)
	Set(key string, v node.Value)
	ResetSeqno()
	ClearDAC()
	AppendDAC(samples []float32) (appended int, overflow bool)
	SnapshotDAC() []float32
	Transmit(tRequestSample int64, x [][]float32, id string) (tStartSample int64)
}

func ack(id *int64) *Response {
	if id == nil {
		return nil
	}
	return &Response{ID: *id}
}

// reqID unwraps an optional request id into a plain interface value so
// json's omitempty drops it cleanly when absent instead of encoding "null".
func reqID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}

func valueToJSON(v node.Value) any {
	switch v.Kind {
	case node.KindInt:
		return v.Int
	case node.KindFloat:
		return v.Flt
	case node.KindBool:
		return v.Bool
	case node.KindListFloat:
		return v.List
	default:
		return nil
	}
}

// decodeValue interprets a JSON "value" field against the kind of the
// parameter's current value (if known), falling back to trying float then
// bool then a float list.
func decodeValue(hint node.Value, hintOK bool, raw json.RawMessage) (node.Value, bool) {
	if hintOK {
		switch hint.Kind {
		case node.KindBool:
			var b bool
			if err := json.Unmarshal(raw, &b); err == nil {
				return node.BoolValue(b), true
			}
		case node.KindInt:
			var i int64
			if err := json.Unmarshal(raw, &i); err == nil {
				return node.IntValue(i), true
			}
		case node.KindFloat:
			var f float64
			if err := json.Unmarshal(raw, &f); err == nil {
				return node.FloatValue(f), true
			}
		case node.KindListFloat:
			var l []float64
			if err := json.Unmarshal(raw, &l); err == nil {
				return node.ListValue(l), true
			}
		}
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return node.BoolValue(b), true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return node.FloatValue(f), true
	}
	var l []float64
	if err := json.Unmarshal(raw, &l); err == nil {
		return node.ListValue(l), true
	}
	return node.Value{}, false
}

// reshapeDAC turns the flat, channel-interleaved DAC buffer into a
// (samples x ochannels) matrix, dropping a trailing partial frame (spec §9
// "DAC channel reshape ambiguity").
func reshapeDAC(flat []float32, ochannels int) [][]float32 {
	if ochannels <= 0 || len(flat) < ochannels {
		return nil
	}
	usable := len(flat) - len(flat)%ochannels
	rows := usable / ochannels
	out := make([][]float32, rows)
	for t := 0; t < rows; t++ {
		row := make([]float32, ochannels)
		copy(row, flat[t*ochannels:(t+1)*ochannels])
		out[t] = row
	}
	return out
}

// HandleRequest executes one control-plane request against cl and dest,
// returning the response to write back, or nil when the contract calls for
// silence (unknown get, ostop, quit; spec §4.5). An odata request carries
// its samples in-band as base64 in req.Data; both framings route it here,
// and neither framing reads DAC samples from a separate data socket.
func HandleRequest(cl Client, dest *Destination, remoteHost string, req Request) *Response {
	switch req.Action {
	case "version":
		return &Response{Name: ServerName, Version: serverVersion, Protocol: ProtocolVersion, ID: reqID(req.ID)}

	case "ireset":
		cl.ResetSeqno()
		return ack(req.ID)

	case "istart":
		dest.Learn(remoteHost, req.Port)
		return ack(req.ID)

	case "istop":
		dest.Clear()
		return ack(req.ID)

	case "oclear":
		cl.ClearDAC()
		return ack(req.ID)

	case "odata":
		raw, err := base64.StdEncoding.DecodeString(req.Data)
		if err != nil || len(raw) < HeaderSize || (len(raw)-HeaderSize)%4 != 0 {
			metrics.IncBadPacket(cl.NodeID())
			logging.L().Warn("bad_odata_packet", "node", cl.NodeID())
			return nil
		}
		samples, err := DecodeSamples(raw[HeaderSize:], (len(raw)-HeaderSize)/4)
		if err != nil {
			metrics.IncBadPacket(cl.NodeID())
			logging.L().Warn("bad_odata_packet", "node", cl.NodeID(), "error", err)
			return nil
		}
		if _, overflow := cl.AppendDAC(samples); overflow {
			logging.L().Warn("dac_buffer_overflow", "node", cl.NodeID())
		}
		return ack(req.ID)

	case "ostart":
		flat := cl.SnapshotDAC()
		x := reshapeDAC(flat, cl.OChannels())
		id := ""
		if req.ID != nil {
			id = strconv.FormatInt(*req.ID, 10)
		}
		tReq := int64(0)
		if req.Time > 0 {
			tReq = int64(float64(req.Time) * cl.IRate() / 1e6)
		}
		cl.Transmit(tReq, x, id)
		return ack(req.ID)

	case "ostop":
		return nil // cannot cancel an in-flight transmission

	case "get":
		v, ok := cl.Get(req.Param)
		if !ok {
			return nil
		}
		return &Response{Param: req.Param, Value: valueToJSON(v), ID: reqID(req.ID)}

	case "set":
		hint, hintOK := cl.Get(req.Param)
		if v, ok := decodeValue(hint, hintOK, req.Value); ok {
			cl.Set(req.Param, v)
		}
		return ack(req.ID)

	case "quit":
		return nil

	default:
		metrics.IncBadCommand(cl.NodeID())
		logging.L().Warn("unknown_action", "node", cl.NodeID(), "action", req.Action)
		return nil
	}
}
