package session

import (
	"context"
	"encoding/json"
	"time"

	"photonic/internal/controller"
	"photonic/internal/eventserver"
)

// registerRPC installs every control-surface method against the
// session's event server. Each handler is a thin JSON-RPC adapter over the
// corresponding Session method.
func (s *Session) registerRPC() {
	s.events.Register("get_connected", s.rpcGetConnected)
	s.events.Register("set_connected", s.rpcSetConnected)
	s.events.Register("get_exposure", s.rpcGetExposure)
	s.events.Register("set_exposure", s.rpcSetExposure)
	s.events.Register("guide", s.rpcGuide)
	s.events.Register("dither", s.rpcDither)
	s.events.Register("stop_capture", s.rpcStopCapture)
	s.events.Register("loop", s.rpcLoop)
	s.events.Register("find_star", s.rpcFindStar)
	s.events.Register("get_app_state", s.rpcGetAppState)
	s.events.Register("get_calibrated", s.rpcGetCalibrated)
	s.events.Register("get_pixel_scale", s.rpcGetPixelScale)
	s.events.Register("get_lock_position", s.rpcGetLockPosition)
	s.events.Register("set_lock_position", s.rpcSetLockPosition)
	s.events.Register("set_paused", s.rpcSetPaused)
}

type pausedParams struct {
	Paused bool `json:"paused"`
	Full   bool `json:"full"`
}

func (s *Session) rpcSetPaused(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p pausedParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: err.Error()}
	}
	s.SetPaused(p.Paused, p.Full)
	return nil, nil
}

func (s *Session) rpcGetConnected(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	return s.Connected(), nil
}

type connectedParams struct {
	Connected bool `json:"connected"`
}

func (s *Session) rpcSetConnected(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p connectedParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: err.Error()}
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.SetConnected(ctx, p.Connected); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeDomainError, Message: err.Error()}
	}
	return nil, nil
}

func (s *Session) rpcGetExposure(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	return s.Exposure(), nil
}

type exposureParams struct {
	ExposureMs int `json:"exposure_ms"`
}

func (s *Session) rpcSetExposure(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p exposureParams
	if err := json.Unmarshal(params, &p); err != nil || p.ExposureMs <= 0 {
		return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: "exposure_ms must be a positive integer"}
	}
	s.SetExposure(p.ExposureMs)
	return nil, nil
}

type settleJSON struct {
	Pixels   float64 `json:"pixels"`
	MinTimeS float64 `json:"time"`
	TimeoutS float64 `json:"timeout"`
}

func (j settleJSON) toParams() controller.SettleParams {
	sp := controller.DefaultSettleParams()
	if j.Pixels > 0 {
		sp.Pixels = j.Pixels
	}
	if j.MinTimeS > 0 {
		sp.MinTimeS = j.MinTimeS
	}
	if j.TimeoutS > 0 {
		sp.TimeoutS = j.TimeoutS
	}
	return sp
}

type guideParams struct {
	Settle      settleJSON `json:"settle"`
	Recalibrate bool       `json:"recalibrate"`
}

func (s *Session) rpcGuide(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p guideParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: err.Error()}
	}
	ctx := context.Background()
	if err := s.Guide(ctx, p.Settle.toParams(), p.Recalibrate); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeDomainError, Message: err.Error()}
	}
	return nil, nil
}

type ditherParams struct {
	Amount float64    `json:"amount"`
	RAOnly bool       `json:"raOnly"`
	Settle settleJSON `json:"settle"`
}

func (s *Session) rpcDither(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p ditherParams
	if err := json.Unmarshal(params, &p); err != nil || p.Amount <= 0 {
		return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: "amount must be a positive number"}
	}
	if err := s.Dither(p.Amount, p.RAOnly, p.Settle.toParams()); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeDomainError, Message: err.Error()}
	}
	return nil, nil
}

func (s *Session) rpcStopCapture(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	s.StopCapture()
	return nil, nil
}

func (s *Session) rpcLoop(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	if err := s.Loop(context.Background()); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeDomainError, Message: err.Error()}
	}
	return nil, nil
}

func (s *Session) rpcFindStar(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.FindStar(ctx); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeDomainError, Message: err.Error()}
	}
	x, y, _ := s.GetLockPosition()
	return map[string]float64{"X": x, "Y": y}, nil
}

func (s *Session) rpcGetAppState(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	return string(s.AppState()), nil
}

func (s *Session) rpcGetCalibrated(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	return s.GetCalibrated(), nil
}

func (s *Session) rpcGetPixelScale(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	return s.PixelScale(), nil
}

func (s *Session) rpcGetLockPosition(_ json.RawMessage) (interface{}, *eventserver.RPCError) {
	x, y, valid := s.GetLockPosition()
	if !valid {
		return nil, nil
	}
	return map[string]float64{"X": x, "Y": y}, nil
}

type lockPositionParams struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (s *Session) rpcSetLockPosition(params json.RawMessage) (interface{}, *eventserver.RPCError) {
	var p lockPositionParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &eventserver.RPCError{Code: eventserver.CodeInvalidParams, Message: err.Error()}
	}
	s.SetLockPosition(p.X, p.Y)
	return nil, nil
}
