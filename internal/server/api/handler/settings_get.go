package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/Alia5/VIIPER/apitypes"
	"github.com/Alia5/VIIPER/internal/server/api"
	"github.com/Alia5/VIIPER/settings"
)

// SettingsGet returns a handler that reports the settings journal's
// currently loaded record, if any.
func SettingsGet(store *settings.Store) api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		rec, ok := store.Load()
		payload := apitypes.SettingsResponse{}
		if ok {
			payload = apitypes.SettingsResponse{
				Sequence:           rec.Sequence,
				ActiveProfile:      rec.ActiveProfile,
				ActiveUSBMode:      rec.ActiveUSBMode,
				AuxOrientation:     rec.AuxOrientation,
				CustomProfileCount: len(rec.CustomProfiles),
			}
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
