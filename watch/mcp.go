package watch

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/pagewatch/engine"
	"github.com/hazyhaar/pagewatch/kit"
)

// RegisterMCP registers the watch tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerStatus(srv)
	s.registerPreview(srv)
	s.registerRun(srv)
}

func (s *Service) toolEndpoint(name string, ep kit.Endpoint) kit.Endpoint {
	return kit.Chain(kit.Logging(s.logger, name))(ep)
}

func (s *Service) registerStatus(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_status",
		Description: "Show the stored digest of the watch and run counters of this process",
		InputSchema: kit.InputSchema(nil, nil),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		return s.Status(ctx)
	}
	kit.RegisterMCPTool(srv, tool, s.toolEndpoint(tool.Name, ep), kit.NoArgs)
}

// PreviewResponse is the MCP and HTTP shape of a preview.
type PreviewResponse struct {
	WatchID  string   `json:"watch_id"`
	URL      string   `json:"url"`
	Verdict  string   `json:"verdict"`
	Previous *string  `json:"previous"`
	Current  string   `json:"current"`
	Items    []string `json:"items"`
}

// NewPreviewResponse converts an engine result.
func NewPreviewResponse(watchID, url string, res *engine.Result) *PreviewResponse {
	items := res.Items
	if items == nil {
		items = []string{}
	}
	return &PreviewResponse{
		WatchID:  watchID,
		URL:      url,
		Verdict:  res.Verdict.String(),
		Previous: res.Previous,
		Current:  res.Current,
		Items:    items,
	}
}

func (s *Service) registerPreview(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_preview",
		Description: "Fetch the page and show the extracted items, digest and the verdict a run would produce, without notifying or saving",
		InputSchema: kit.InputSchema(nil, nil),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		res, err := s.Preview(ctx)
		if err != nil {
			return nil, err
		}
		return NewPreviewResponse(s.cfg.WatchID, s.cfg.TargetURL, res), nil
	}
	kit.RegisterMCPTool(srv, tool, s.toolEndpoint(tool.Name, ep), kit.NoArgs)
}

// RunResponse is the MCP and HTTP shape of a finished run.
type RunResponse struct {
	*engine.Result
	Trace string `json:"trace"`
	Stage string `json:"failed_stage,omitempty"`
	Error string `json:"error,omitempty"`
}

// NewRunResponse converts a run outcome.
func NewRunResponse(res *engine.Result, err error) *RunResponse {
	r := &RunResponse{Result: res}
	if res != nil {
		r.Trace = res.TraceString()
	}
	if err != nil {
		r.Stage = engine.StageOf(err).String()
		r.Error = err.Error()
	}
	return r
}

func (s *Service) registerRun(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "pagewatch_run",
		Description: "Run one detection pass now: notify and store the new digest if the watched region changed",
		InputSchema: kit.InputSchema(nil, nil),
	}
	ep := func(ctx context.Context, _ any) (any, error) {
		res, err := s.Run(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		return NewRunResponse(res, nil), nil
	}
	kit.RegisterMCPTool(srv, tool, s.toolEndpoint(tool.Name, ep), kit.NoArgs)
}
