package commands

import (
	"teamer/config"
	"teamer/datamodel/peer"
	"teamer/token"
)

// The CLI has no game attached, the announced state comes from the config
func staticState(cfg *config.Config) peer.StateSource {
	state := peer.State{
		Name:  cfg.Player.Name,
		X:     cfg.Player.X,
		Y:     cfg.Player.Y,
		Token: token.ParsePartyMustParse(cfg.Player.Token),
		Mass:  cfg.Player.Mass,
	}
	return peer.StateSourceFunc(func() peer.State { return state })
}
