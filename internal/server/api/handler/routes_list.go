package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/Alia5/VIIPER/apitypes"
	"github.com/Alia5/VIIPER/internal/server/api"
	"github.com/Alia5/VIIPER/router"
)

// RoutesList returns a handler that reports the router's installed routing
// table and per-target configuration.
func RoutesList(rtr *router.Router) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var out apitypes.RoutesListResponse
		for _, rt := range rtr.Routes() {
			out.Routes = append(out.Routes, apitypes.RouteInfo{
				Src:  rt.Src.String(),
				Dst:  string(rt.Dst),
				Hint: rt.Hint,
			})
		}
		for t, cfg := range rtr.Configs() {
			out.Targets = append(out.Targets, apitypes.TargetConfigInfo{
				Target:     string(t),
				Mode:       cfg.Mode.String(),
				MergeRule:  cfg.MergeRule.String(),
				MaxPlayers: cfg.MaxPlayers,
			})
		}
		b, err := json.Marshal(out)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
