package saveg

import (
	"github.com/cfoust/framesync/pkg/archive"
	"github.com/cfoust/framesync/pkg/world"
)

// Fixed-layout records, written with Buffer.Marshal. Object and texture
// references are archive handles.

type playerRecord struct {
	Slot          byte
	PlayerState   int32
	Health        int32
	Armor         int32
	ArmorType     int32
	ReadyWeapon   int32
	PendingWeapon int32
	Weapons       [world.NumWeapons]bool
	Ammo          [world.NumAmmo]int32
	MaxAmmo       [world.NumAmmo]int32
	Keys          [world.NumKeys]bool
	Powers        [world.NumPowers]int32
	Backpack      bool
	Kills         int32
	Items         int32
	Secrets       int32
	ViewZ         float32
	ViewHeight    float32
	Mo            archive.Handle
}

func (r *playerRecord) from(slot int, p *world.Player) {
	r.Slot = byte(slot)
	r.PlayerState = p.PlayerState
	r.Health = p.Health
	r.Armor = p.Armor
	r.ArmorType = p.ArmorType
	r.ReadyWeapon = p.ReadyWeapon
	r.PendingWeapon = p.PendingWeapon
	r.Weapons = p.Weapons
	r.Ammo = p.Ammo
	r.MaxAmmo = p.MaxAmmo
	r.Keys = p.Keys
	r.Powers = p.Powers
	r.Backpack = p.Backpack
	r.Kills = p.Kills
	r.Items = p.Items
	r.Secrets = p.Secrets
	r.ViewZ = p.ViewZ
	r.ViewHeight = p.ViewHeight
}

func (r *playerRecord) to(p *world.Player) {
	p.InGame = true
	p.PlayerState = r.PlayerState
	p.Health = r.Health
	p.Armor = r.Armor
	p.ArmorType = r.ArmorType
	p.ReadyWeapon = r.ReadyWeapon
	p.PendingWeapon = r.PendingWeapon
	p.Weapons = r.Weapons
	p.Ammo = r.Ammo
	p.MaxAmmo = r.MaxAmmo
	p.Keys = r.Keys
	p.Powers = r.Powers
	p.Backpack = r.Backpack
	p.Kills = r.Kills
	p.Items = r.Items
	p.Secrets = r.Secrets
	p.ViewZ = r.ViewZ
	p.ViewHeight = r.ViewHeight
}

type sectorRecord struct {
	FloorHeight   float32
	CeilingHeight float32
	FloorPic      archive.Handle
	CeilingPic    archive.Handle
	LightLevel    int16
	Special       int16
	Tag           int16
	SoundTarget   archive.Handle
}

type lineRecord struct {
	Flags   int16
	Special int16
	Tag     int16
}

type sideRecord struct {
	TopTexture    archive.Handle
	MiddleTexture archive.Handle
	BottomTexture archive.Handle
	OffsetX       float32
	OffsetY       float32
}

type mobjRecord struct {
	Handle archive.Handle
	ID     uint16
	Type   int32
	Pos    world.Vec3
	Mom    world.Vec3
	Angle  uint32
	Flags  uint32
	Health int32
	State  int32
	Tics   int32
	Player int32
	Target archive.Handle
	Tracer archive.Handle
}

type ceilingRecord struct {
	Sector       int32
	Type         int32
	BottomHeight float32
	TopHeight    float32
	Speed        float32
	Crush        bool
	Direction    int32
	Tag          int32
	OldDirection int32
}

type doorRecord struct {
	Sector       int32
	Type         int32
	TopHeight    float32
	Speed        float32
	Direction    int32
	TopWait      int32
	TopCountdown int32
}

type floorRecord struct {
	Sector          int32
	Type            int32
	Crush           bool
	Direction       int32
	NewSpecial      int32
	Texture         archive.Handle
	FloorDestHeight float32
	Speed           float32
}

type platRecord struct {
	Sector    int32
	Speed     float32
	Low       float32
	High      float32
	Wait      int32
	Count     int32
	Status    int32
	OldStatus int32
	Crush     bool
	Tag       int32
	Type      int32
}

type flashRecord struct {
	Sector   int32
	Count    int32
	MaxLight int32
	MinLight int32
	MaxTime  int32
	MinTime  int32
}

type strobeRecord struct {
	Sector     int32
	Count      int32
	MinLight   int32
	MaxLight   int32
	DarkTime   int32
	BrightTime int32
}

type glowRecord struct {
	Sector    int32
	MinLight  int32
	MaxLight  int32
	Direction int32
}
