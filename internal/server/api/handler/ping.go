package handler

import (
	"encoding/json"
	"log/slog"

	"github.com/Alia5/VIIPER/apitypes"
	"github.com/Alia5/VIIPER/internal/server/api"
)

// Ping returns a handler that answers liveness checks.
func Ping() api.HandlerFunc {
	return func(req *api.Request, res *api.Response, logger *slog.Logger) error {
		payload := apitypes.PingResponse{Server: "viiper-adapter", Version: "dev"}
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		res.JSON = string(b)
		return nil
	}
}
