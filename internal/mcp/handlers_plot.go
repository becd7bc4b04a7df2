package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"

	mcp_sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/HyphaGroup/plotd/internal/audit"
	"github.com/HyphaGroup/plotd/internal/firmware"
	"github.com/HyphaGroup/plotd/internal/history"
	"github.com/HyphaGroup/plotd/internal/instruction"
	"github.com/HyphaGroup/plotd/internal/logger"
	"github.com/HyphaGroup/plotd/internal/session"
	"github.com/HyphaGroup/plotd/internal/validation"
)

// StartParams are the plot_start arguments
type StartParams struct {
	Address  string `json:"address,omitempty" jsonschema:"machine IP[:PORT]; defaults to machine.address"`
	CacheDir string `json:"cache_dir,omitempty" jsonschema:"directory holding instructions.bin, inside cache_dir; defaults to cache_dir"`
}

// StartResult is returned by plot_start
type StartResult struct {
	SessionID  string `json:"session_id"`
	Address    string `json:"address"`
	TotalBytes int    `json:"total_bytes"`
}

// PauseParams are the plot_pause arguments
type PauseParams struct{}

// PauseResult is returned by plot_pause
type PauseResult struct {
	Paused bool `json:"paused"`
}

// StopParams are the plot_stop arguments
type StopParams struct{}

// StopResult is returned by plot_stop
type StopResult struct {
	Stopped bool `json:"stopped"`
}

// MoveParams are the plot_move_to_start arguments
type MoveParams struct {
	Address string   `json:"address,omitempty" jsonschema:"machine IP[:PORT]; defaults to machine.address"`
	StartX  *float64 `json:"start_x,omitempty" jsonschema:"page x in mm; defaults to start.bin"`
	StartY  *float64 `json:"start_y,omitempty" jsonschema:"page y in mm; defaults to start.bin"`
}

// MoveResult is returned by plot_move_to_start
type MoveResult struct {
	Moved bool    `json:"moved"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
}

// EventsParams are the plot_events arguments
type EventsParams struct {
	SessionID  string `json:"session_id,omitempty" jsonschema:"session to poll; defaults to the most recent"`
	SinceIndex *int   `json:"since_index,omitempty" jsonschema:"last index already seen; -1 for all"`
}

// EventsResult is returned by plot_events
type EventsResult struct {
	SessionID string                   `json:"session_id"`
	Events    []*session.BufferedEvent `json:"events"`
	LastIndex int                      `json:"last_index"`
	Running   bool                     `json:"running"`
}

// StatusParams are the plot_status arguments
type StatusParams struct{}

// StatusResult is returned by plot_status
type StatusResult struct {
	session.Snapshot
	Address     string               `json:"address,omitempty"`
	CachedBytes int                  `json:"cached_bytes"`
	Current     *session.RunInfo     `json:"current,omitempty"`
	Buffer      *session.BufferStats `json:"buffer,omitempty"`
}

// HistoryParams are the plot_history arguments
type HistoryParams struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum runs to return; default 20"`
}

// HistoryResult is returned by plot_history
type HistoryResult struct {
	Runs []*history.Run `json:"runs"`
}

func (s *Server) handlePlotStart(ctx context.Context, request *mcp_sdk.CallToolRequest, params StartParams) (*mcp_sdk.CallToolResult, any, error) {
	address, err := s.resolveAddress(params.Address)
	if err != nil {
		return nil, nil, err
	}

	dir, err := validation.ResolveCacheDir(s.cfg.CacheDir, params.CacheDir)
	if err != nil {
		recordAudit(ctx, audit.OpPlotStart, "", address, err)
		return nil, nil, err
	}
	set, err := instruction.LoadCache(dir)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_start")
	}

	// The stream outlives this request.
	run, err := s.manager.Launch(context.WithoutCancel(ctx), address, set, nil)
	if err != nil {
		recordAudit(ctx, audit.OpPlotStart, "", address, err)
		return nil, nil, SanitizeError(err, "plot_start")
	}
	recordAudit(ctx, audit.OpPlotStart, run.ID, run.Address, nil)

	ctx = context.WithValue(ctx, logger.ContextKeySessionID, run.ID)
	ctx = context.WithValue(ctx, logger.ContextKeyAddress, run.Address)
	logger.InfoContext(ctx, "plot started", "bytes", run.Total, "client", GetRemoteAddr(ctx))

	return nil, StartResult{SessionID: run.ID, Address: run.Address, TotalBytes: run.Total}, nil
}

func (s *Server) handlePlotPause(ctx context.Context, request *mcp_sdk.CallToolRequest, params PauseParams) (*mcp_sdk.CallToolResult, any, error) {
	paused, err := s.manager.TogglePause(ctx)
	recordAudit(ctx, audit.OpPlotPause, s.currentRunID(), "", err)
	if err != nil {
		if errors.Is(err, session.ErrNoActiveSession) {
			return nil, nil, session.ErrNoActiveSession
		}
		return nil, nil, SanitizeError(err, "plot_pause")
	}
	return nil, PauseResult{Paused: paused}, nil
}

func (s *Server) handlePlotStop(ctx context.Context, request *mcp_sdk.CallToolRequest, params StopParams) (*mcp_sdk.CallToolResult, any, error) {
	err := s.manager.Stop(ctx)
	recordAudit(ctx, audit.OpPlotStop, s.currentRunID(), "", err)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_stop")
	}
	return nil, StopResult{Stopped: true}, nil
}

func (s *Server) handlePlotMoveToStart(ctx context.Context, request *mcp_sdk.CallToolRequest, params MoveParams) (*mcp_sdk.CallToolResult, any, error) {
	if s.manager.State().Snapshot().Streaming {
		return nil, nil, fmt.Errorf("plot_move_to_start: %w", session.ErrSessionBusy)
	}

	address, err := s.resolveAddress(params.Address)
	if err != nil {
		return nil, nil, err
	}

	x, y, err := s.startPosition(params)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_move_to_start")
	}

	err = s.manager.MoveToStart(context.WithoutCancel(ctx), address, s.cfg.Physical, x, y)
	recordAudit(ctx, audit.OpPlotMove, "", address, err)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_move_to_start")
	}
	return nil, MoveResult{Moved: true, X: x, Y: y}, nil
}

func (s *Server) handlePlotEvents(ctx context.Context, request *mcp_sdk.CallToolRequest, params EventsParams) (*mcp_sdk.CallToolResult, any, error) {
	var (
		run *session.Run
		ok  bool
	)
	if params.SessionID == "" {
		run, ok = s.manager.Current()
	} else {
		if err := validation.ValidateRunID(params.SessionID); err != nil {
			return nil, nil, fmt.Errorf("session_id: %w", err)
		}
		run, ok = s.manager.Run(params.SessionID)
	}
	if !ok {
		if params.SessionID == "" {
			return nil, nil, fmt.Errorf("no session has been started")
		}
		return nil, nil, fmt.Errorf("session %s not found", params.SessionID)
	}

	since := -1
	if params.SinceIndex != nil {
		since = *params.SinceIndex
	}
	events, err := run.Events.After(since)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_events")
	}

	return nil, EventsResult{
		SessionID: run.ID,
		Events:    events,
		LastIndex: run.Events.LastIndex(),
		Running:   run.IsRunning(),
	}, nil
}

func (s *Server) handlePlotStatus(ctx context.Context, request *mcp_sdk.CallToolRequest, params StatusParams) (*mcp_sdk.CallToolResult, any, error) {
	result := StatusResult{
		Snapshot: s.manager.State().Snapshot(),
		Address:  s.cfg.Machine.Addr(),
	}

	if set, err := instruction.LoadCache(s.cfg.CacheDir); err == nil {
		result.CachedBytes = set.Len()
	} else if !errors.Is(err, instruction.ErrNoCachedDrawing) {
		logger.Error("plot_status: reading cache: %v", err)
	}

	if run, ok := s.manager.Current(); ok {
		info := run.Info()
		stats := run.Events.Stats()
		result.Current = &info
		result.Buffer = &stats
	}
	return nil, result, nil
}

func (s *Server) handlePlotHistory(ctx context.Context, request *mcp_sdk.CallToolRequest, params HistoryParams) (*mcp_sdk.CallToolResult, any, error) {
	if s.history == nil {
		return nil, nil, fmt.Errorf("run history is not enabled")
	}
	if params.Limit < 0 {
		return nil, nil, fmt.Errorf("limit must be positive")
	}

	runs, err := s.history.List(ctx, params.Limit)
	if err != nil {
		return nil, nil, SanitizeError(err, "plot_history")
	}
	if runs == nil {
		runs = []*history.Run{}
	}
	return nil, HistoryResult{Runs: runs}, nil
}

// currentRunID is the ID of the running stream, if any
func (s *Server) currentRunID() string {
	if run, ok := s.manager.Current(); ok && run.IsRunning() {
		return run.ID
	}
	return ""
}

// resolveAddress picks the explicit address or the configured machine
func (s *Server) resolveAddress(explicit string) (string, error) {
	if explicit != "" {
		if err := validation.ValidateMachineAddress(explicit); err != nil {
			return "", err
		}
		return firmware.NormalizeAddress(explicit), nil
	}
	if addr := s.cfg.Machine.Addr(); addr != "" {
		return addr, nil
	}
	return "", fmt.Errorf("address is required: pass address or set machine.address in plotd.jsonc")
}

// startPosition takes explicit coordinates first and falls back to start.bin
// for any that are missing. Without start.bin the pen goes to the page origin.
func (s *Server) startPosition(params MoveParams) (x, y float64, err error) {
	if params.StartX != nil {
		if err := validation.ValidateCoordinate("start_x", *params.StartX); err != nil {
			return 0, 0, err
		}
	}
	if params.StartY != nil {
		if err := validation.ValidateCoordinate("start_y", *params.StartY); err != nil {
			return 0, 0, err
		}
	}
	if params.StartX != nil && params.StartY != nil {
		return *params.StartX, *params.StartY, nil
	}
	x, y, err = instruction.LoadStart(s.cfg.CacheDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, 0, err
	}
	if params.StartX != nil {
		x = *params.StartX
	}
	if params.StartY != nil {
		y = *params.StartY
	}
	return x, y, nil
}
