// Package target enumerates the output-target tags shared by the router,
// profile service, and player manager (spec.md §6 "Output-target tags").
package target

// Target identifies a console-side output protocol.
type Target string

const (
	USBDevice Target = "USB_DEVICE"
	Dreamcast Target = "DREAMCAST"
	NeoGeo    Target = "NEOGEO"
	GameCube  Target = "GAMECUBE"
	XboxOrig  Target = "XBOX_ORIGINAL"
	XInput    Target = "XINPUT"
)

// MaxPlayers is the fixed per-target player-slot ceiling (spec.md §6: "Each
// has a fixed max_players").
var MaxPlayers = map[Target]int{
	USBDevice: 4,
	Dreamcast: 4,
	NeoGeo:    2,
	GameCube:  4,
	XboxOrig:  4,
	XInput:    4,
}

// Max returns the configured max player count for t, or 1 if t is unknown.
func Max(t Target) int {
	if n, ok := MaxPlayers[t]; ok {
		return n
	}
	return 1
}
