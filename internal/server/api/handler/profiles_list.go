package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/Alia5/VIIPER/apitypes"
	"github.com/Alia5/VIIPER/internal/server/api"
	"github.com/Alia5/VIIPER/profile"
)

// ProfilesList returns a handler that reports, per output target, the
// active profile index and every profile name in that target's set.
func ProfilesList(profiles *profile.Service) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		var out apitypes.ProfilesListResponse
		for _, t := range profiles.Targets() {
			names, err := profiles.ProfileNames(t)
			if err != nil {
				continue
			}
			out.Targets = append(out.Targets, apitypes.ProfileTargetInfo{
				Target: string(t),
				Active: profiles.ActiveIndex(t),
				Names:  names,
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
