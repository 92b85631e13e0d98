package app

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/dashstream/engine/internal/model"
)

// SwitchVariantRequest selects a new audio/video pairing by Variant index
// into the currently loaded manifest.
type SwitchVariantRequest struct {
	Body struct {
		VariantIndex int     `json:"variantIndex" doc:"Index into the manifest's variant list"`
		Clear        bool    `json:"clear,omitempty" doc:"Clear existing buffer instead of extending it"`
		SafeMarginS  float64 `json:"safeMarginSeconds,omitempty" doc:"Seconds of existing buffer to keep when clearing"`
	}
}

type SwitchVariantResponse struct {
	Body struct {
		VariantIndex int `json:"variantIndex"`
	}
}

func createSwitchVariantHdlr(s *Server) func(ctx context.Context, req *SwitchVariantRequest) (*SwitchVariantResponse, error) {
	return func(ctx context.Context, req *SwitchVariantRequest) (*SwitchVariantResponse, error) {
		if req.Body.VariantIndex < 0 || req.Body.VariantIndex >= len(s.mf.Variants) {
			return nil, huma.Error400BadRequest("variantIndex out of range")
		}
		v := s.mf.Variants[req.Body.VariantIndex]
		if err := s.engine.SwitchVariant(v, req.Body.Clear, req.Body.SafeMarginS); err != nil {
			return nil, huma.Error500InternalServerError("switch variant failed", err)
		}
		resp := &SwitchVariantResponse{}
		resp.Body.VariantIndex = req.Body.VariantIndex
		return resp, nil
	}
}

type switchTextInput struct {
	Body struct {
		StreamID string `json:"streamId" doc:"StreamID of the text track to switch to"`
	}
}

type switchTextResponse struct {
	Body struct {
		StreamID string `json:"streamId"`
	}
}

func createSwitchTextHdlr(s *Server) func(ctx context.Context, req *switchTextInput) (*switchTextResponse, error) {
	return func(ctx context.Context, req *switchTextInput) (*switchTextResponse, error) {
		stream, ok := s.mf.Stream(model.StreamID(req.Body.StreamID))
		if !ok {
			return nil, huma.Error404NotFound("unknown text streamId")
		}
		if err := s.engine.SwitchTextStream(stream); err != nil {
			return nil, huma.Error500InternalServerError("switch text failed", err)
		}
		resp := &switchTextResponse{}
		resp.Body.StreamID = req.Body.StreamID
		return resp, nil
	}
}

type seekInput struct {
	Body struct {
		TimeS float64 `json:"timeSeconds" doc:"Presentation time to seek to"`
	}
}

type seekResponse struct {
	Body struct {
		TimeS float64 `json:"timeSeconds"`
	}
}

func createSeekHdlr(s *Server) func(ctx context.Context, req *seekInput) (*seekResponse, error) {
	return func(ctx context.Context, req *seekInput) (*seekResponse, error) {
		s.playhead.Seek(req.Body.TimeS)
		s.engine.Seeked()
		resp := &seekResponse{}
		resp.Body.TimeS = req.Body.TimeS
		return resp, nil
	}
}

type retryResponse struct {
	Body struct {
		Resumed bool `json:"resumed"`
	}
}

func createRetryHdlr(s *Server) func(ctx context.Context, _ *struct{}) (*retryResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*retryResponse, error) {
		resp := &retryResponse{}
		resp.Body.Resumed = s.engine.Retry()
		return resp, nil
	}
}

type statusResponse struct {
	Body struct {
		PresentationTimeS float64            `json:"presentationTimeSeconds"`
		DurationS         float64            `json:"durationSeconds"`
		IsLive            bool               `json:"isLive"`
		RecentErrors      []statusErrorEntry `json:"recentErrors"`
	}
}

type statusErrorEntry struct {
	Severity string `json:"severity"`
	Category string `json:"category"`
	Code     string `json:"code"`
}

func createStatusHdlr(s *Server) func(ctx context.Context, _ *struct{}) (*statusResponse, error) {
	return func(ctx context.Context, _ *struct{}) (*statusResponse, error) {
		resp := &statusResponse{}
		resp.Body.PresentationTimeS = s.playhead.PresentationTime()
		resp.Body.DurationS = s.mf.Timeline.Duration()
		resp.Body.IsLive = s.mf.Timeline.IsLive()
		s.mu.Lock()
		for _, e := range s.recentErrors {
			resp.Body.RecentErrors = append(resp.Body.RecentErrors, statusErrorEntry{
				Severity: e.Severity.String(),
				Category: string(e.Category),
				Code:     string(e.Code),
			})
		}
		s.mu.Unlock()
		return resp, nil
	}
}

func createRouteAPI(s *Server) func(r chi.Router) {
	return func(r chi.Router) {
		config := huma.DefaultConfig("dashstream engine control API", "1.0.0")
		config.Servers = []*huma.Server{{URL: "/api"}}
		config.Info.Description = `Debug/control surface for a running Streaming Engine instance:
		switch the active variant or text track, seek the playhead, retry after a
		recoverable failure, and inspect buffering status.`

		api := humachi.New(r, config)

		huma.Register(api, huma.Operation{
			OperationID: "switch-variant",
			Method:      http.MethodPost,
			Path:        "/switch-variant",
			Summary:     "Switch the active audio/video variant",
			Tags:        []string{"engine"},
			Errors:      []int{400, 500},
		}, createSwitchVariantHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "switch-text",
			Method:      http.MethodPost,
			Path:        "/switch-text",
			Summary:     "Switch the active text track",
			Tags:        []string{"engine"},
			Errors:      []int{404, 500},
		}, createSwitchTextHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "seek",
			Method:      http.MethodPost,
			Path:        "/seek",
			Summary:     "Seek the playhead and reconcile all tracks",
			Tags:        []string{"engine"},
		}, createSeekHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "retry",
			Method:      http.MethodPost,
			Path:        "/retry",
			Summary:     "Resume all tracks after a recoverable failure",
			Tags:        []string{"engine"},
		}, createRetryHdlr(s))

		huma.Register(api, huma.Operation{
			OperationID: "status",
			Method:      http.MethodGet,
			Path:        "/status",
			Summary:     "Report playhead position, duration, and recent errors",
			Tags:        []string{"engine"},
		}, createStatusHdlr(s))
	}
}
