package netcomponents

import "github.com/yohamta/donburi"

type NetPlayerInfoData struct {
	Name         string
	Score        int
	LastSequence uint32 // last input sequence the server has applied
	IsLocal      bool   // client-side only, not synced
}

var NetPlayerInfo = donburi.NewComponentType[NetPlayerInfoData]()
