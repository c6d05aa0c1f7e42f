package handlers

import (
	"fmt"

	"github.com/lk2023060901/danmu-garden-netser/pkg/netser"
)

type Hit struct {
	Damage int32
}

type Heal struct {
	Amount int32
}

type Boss struct {
	Name string
}

func OnHit(state any, h Hit) {
	if b, ok := state.(*Boss); ok {
		fmt.Println(b.Name, h.Damage)
	}
}

func OnHitQuiet(_ any, h Hit) {
	_ = h
}

func onHeal(state any, h Heal) {
	fmt.Println(h.Amount)
}

// Called 只被直接调用，不是回调目标。
func Called(state any, h Hit) {}

func notHandler(h Hit) {}

type Unit struct {
	Hits  netser.Event[Hit]
	Heals netser.Event[Heal]
}

func Wire(u *Unit, b *Boss) {
	u.Hits.Subscribe(OnHit, b)
	u.Hits.Subscribe(OnHitQuiet, nil)
	u.Heals.Subscribe(onHeal, nil)
	Called(nil, Hit{})
	notHandler(Hit{})
}
