package netcomponents

import "github.com/yohamta/donburi"

type NetHealthData struct {
	Current int
	Max     int
}

var NetHealth = donburi.NewComponentType[NetHealthData]()
