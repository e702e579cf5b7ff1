package netcomponents

import "github.com/yohamta/donburi"

type NetSpriteData struct {
	ID      string
	Visible bool
}

var NetSprite = donburi.NewComponentType[NetSpriteData]()
