// Package remote exposes the engine as JSON-RPC over MQTT.
package remote

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/media"
	"github.com/djbird2046/toney-music/internal/player"
)

const (
	CmdLoad        = "load"
	CmdPlay        = "play"
	CmdPause       = "pause"
	CmdStop        = "stop"
	CmdSeek        = "seek"
	CmdSetVolume   = "setVolume"
	CmdGetVolume   = "getVolume"
	CmdGetMetadata = "getMetadata"
	CmdStatus      = "status"
)

// Controller is the part of player.Engine the commands drive.
type Controller interface {
	Load(ctx context.Context, path string) error
	Play() error
	Pause() error
	Stop() error
	Seek(ms int64) error
	SetVolume(v float64)
	Volume() float64
	GetMetadata(path string) media.TrackMetadata
	Status() player.Status
}

// Request is one RPC call. ID is echoed back verbatim.
type Request struct {
	ID     json.RawMessage        `json:"id,omitempty"`
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// Response answers a Request. Error is empty on success.
type Response struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result interface{}     `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Processor runs one method.
type Processor interface {
	Run(ctx context.Context, req *Request, c Controller) (interface{}, error)
}

var processors = map[string]Processor{
	CmdLoad:        load{},
	CmdPlay:        play{},
	CmdPause:       pause{},
	CmdStop:        stop{},
	CmdSeek:        seek{},
	CmdSetVolume:   setVolume{},
	CmdGetVolume:   getVolume{},
	CmdGetMetadata: getMetadata{},
	CmdStatus:      status{},
}

// Process is a parsed request bound to its processor.
type Process struct {
	req       *Request
	processor Processor
}

// NewProcess parses payload. The returned request is non-nil whenever the
// payload was valid JSON, so errors can still be answered with its id.
func NewProcess(payload []byte) (*Process, *Request, error) {
	req := &Request{}
	if err := json.Unmarshal(payload, req); err != nil {
		return nil, nil, errors.Wrap(err, "decoding request")
	}
	processor, ok := processors[req.Method]
	if !ok {
		return nil, req, errors.Errorf("unsupported method %q", req.Method)
	}
	return &Process{req: req, processor: processor}, req, nil
}

func (p *Process) Run(ctx context.Context, c Controller) (interface{}, error) {
	return p.processor.Run(ctx, p.req, c)
}

// Handle runs payload against c and returns the encoded response.
func Handle(ctx context.Context, c Controller, payload []byte) []byte {
	resp := Response{}
	process, req, err := NewProcess(payload)
	if req != nil {
		resp.ID = req.ID
	}
	if err == nil {
		resp.Result, err = process.Run(ctx, c)
	}
	if err != nil {
		resp.Error = err.Error()
		resp.Result = nil
	}
	out, err := json.Marshal(resp)
	if err != nil {
		out, _ = json.Marshal(Response{ID: resp.ID, Error: err.Error()})
	}
	return out
}
