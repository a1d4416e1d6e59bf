package handler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alia5/VIIPER/apiclient"
	"github.com/Alia5/VIIPER/controller/target"
	"github.com/Alia5/VIIPER/internal/server/api"
	"github.com/Alia5/VIIPER/internal/server/api/handler"
	"github.com/Alia5/VIIPER/internal/server/usb"
	handlerTest "github.com/Alia5/VIIPER/internal/testing"
	"github.com/Alia5/VIIPER/profile"
)

func TestProfilesList(t *testing.T) {
	set := &profile.Set{Profiles: []*profile.Profile{{Name: "default"}, {Name: "fightstick"}}, Default: 0}
	svc := profile.NewService(profile.Config{Sets: map[target.Target]*profile.Set{target.USBDevice: set}}, nil)

	addr, _, done := handlerTest.StartAPIServer(t, func(r *api.Router, s *usb.Server, apiSrv *api.Server) {
		r.Register("profiles/list", handler.ProfilesList(svc))
	})
	defer done()

	c := apiclient.NewTransport(addr)
	line, err := c.Do("profiles/list", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"targets":[{"target":"USB_DEVICE","active":0,"names":["default","fightstick"]}]}`, line)
}
