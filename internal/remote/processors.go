package remote

import (
	"context"

	"github.com/pkg/errors"

	"github.com/djbird2046/toney-music/internal/util"
)

type ok struct{}

func stringParam(req *Request, name string) (string, error) {
	v := req.Params[name]
	if v == nil {
		return "", errors.Errorf("missing parameter %q", name)
	}
	s, isString := v.(string)
	if !isString || s == "" {
		return "", errors.Errorf("parameter %q must be a non-empty string", name)
	}
	return s, nil
}

func numberParam(req *Request, name string) (float64, error) {
	v := req.Params[name]
	if v == nil {
		return 0, errors.Errorf("missing parameter %q", name)
	}
	f, isNumber := v.(float64)
	if !isNumber {
		return 0, errors.Errorf("parameter %q must be a number", name)
	}
	return f, nil
}

type load struct{}

func (load) Run(ctx context.Context, req *Request, c Controller) (interface{}, error) {
	path, err := stringParam(req, "path")
	if err != nil {
		return nil, err
	}
	return ok{}, c.Load(ctx, path)
}

type play struct{}

func (play) Run(_ context.Context, _ *Request, c Controller) (interface{}, error) {
	return ok{}, c.Play()
}

type pause struct{}

func (pause) Run(_ context.Context, _ *Request, c Controller) (interface{}, error) {
	return ok{}, c.Pause()
}

type stop struct{}

func (stop) Run(_ context.Context, _ *Request, c Controller) (interface{}, error) {
	return ok{}, c.Stop()
}

type seek struct{}

func (seek) Run(_ context.Context, req *Request, c Controller) (interface{}, error) {
	ms, err := numberParam(req, "positionMs")
	if err != nil {
		return nil, err
	}
	return ok{}, c.Seek(int64(ms))
}

type setVolume struct{}

func (setVolume) Run(_ context.Context, req *Request, c Controller) (interface{}, error) {
	v, err := numberParam(req, "value")
	if err != nil {
		return nil, err
	}
	c.SetVolume(v)
	return volumeResult{Value: c.Volume()}, nil
}

type volumeResult struct {
	Value float64 `json:"value"`
}

type getVolume struct{}

func (getVolume) Run(_ context.Context, _ *Request, c Controller) (interface{}, error) {
	return volumeResult{Value: c.Volume()}, nil
}

type getMetadata struct{}

func (getMetadata) Run(_ context.Context, req *Request, c Controller) (interface{}, error) {
	path, err := stringParam(req, "path")
	if err != nil {
		return nil, err
	}
	return c.GetMetadata(path), nil
}

type statusResult struct {
	State          string  `json:"state"`
	Path           string  `json:"path,omitempty"`
	PositionMs     int64   `json:"positionMs"`
	DurationMs     int64   `json:"durationMs"`
	Elapsed        string  `json:"elapsed"`
	Total          string  `json:"total"`
	Volume         float64 `json:"volume"`
	RenderedFrames int64   `json:"renderedFrames"`
	Underflows     int64   `json:"underflows"`
	BitPerfect     bool    `json:"bitPerfect"`
}

type status struct{}

func (status) Run(_ context.Context, _ *Request, c Controller) (interface{}, error) {
	st := c.Status()
	return statusResult{
		State:          st.State.String(),
		Path:           st.Path,
		PositionMs:     st.Position.Milliseconds(),
		DurationMs:     st.Duration.Milliseconds(),
		Elapsed:        util.FormatDuration(st.Position),
		Total:          util.FormatDuration(st.Duration),
		Volume:         st.Volume,
		RenderedFrames: st.RenderedFrames,
		Underflows:     st.Underflows,
		BitPerfect:     st.BitPerfect,
	}, nil
}
