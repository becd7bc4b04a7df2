package mcp

// registerAllTools registers all MCP tools with the registry
func (s *Server) registerAllTools(r *Registry) {
	s.registerSessionTools(r)
	s.registerMachineTools(r)
	s.registerStatusTools(r)
}

func (s *Server) registerSessionTools(r *Registry) {
	Register(r, ToolDef{
		Name:    "plot_start",
		Control: true,
		Description: `Stream the cached drawing to the plotter.

Loads instructions.bin from the cache directory, connects to the machine and streams
in the background. Returns at once with a session_id; poll plot_events for progress.
Fails if a drawing is already being streamed.

Parameters:
  address   : machine "IP[:PORT]" (default: machine.address from plotd.jsonc)
  cache_dir : directory holding instructions.bin, inside cache_dir from plotd.jsonc (default: cache_dir itself)`,
	}, s.handlePlotStart)

	Register(r, ToolDef{
		Name:    "plot_pause",
		Control: true,
		Description: `Toggle pause on the running drawing.

Returns {"paused": true} after pausing and {"paused": false} after resuming.
Fails with "no active session" when nothing is connected.`,
	}, s.handlePlotPause)

	Register(r, ToolDef{
		Name:    "plot_stop",
		Control: true,
		Description: `Stop the running drawing.

The firmware is told to stop and the stream ends with a "stopped" event.
Does nothing when no drawing is running.`,
	}, s.handlePlotStop)

	Register(r, ToolDef{
		Name: "plot_events",
		Description: `Poll events of a drawing session.

Returns events after since_index (-1 or omitted returns everything still buffered) and
last_index to pass on the next poll. The last event of a session is one of
"complete", "stopped" or "error". session_id defaults to the most recent session.
Old progress events are thinned out on long drawings; if an event the caller has
not seen was dropped the call fails with "purged", and polling with -1 recovers.`,
	}, s.handlePlotEvents)
}

func (s *Server) registerMachineTools(r *Registry) {
	Register(r, ToolDef{
		Name:    "plot_move_to_start",
		Control: true,
		Description: `Move the pen to the drawing's start position.

Uses start_x/start_y when given, otherwise the position cached in start.bin.
Coordinates are millimetres on the page. Refused while a drawing is streaming.`,
	}, s.handlePlotMoveToStart)
}

func (s *Server) registerStatusTools(r *Registry) {
	Register(r, ToolDef{
		Name: "plot_status",
		Description: `Report the session state: connected, paused, cursor, whether a drawing is
streaming, the most recent session, and the size of the cached drawing.`,
	}, s.handlePlotStatus)

	Register(r, ToolDef{
		Name:        "plot_history",
		Description: `List recent drawing sessions, newest first. limit defaults to 20.`,
	}, s.handlePlotHistory)
}
