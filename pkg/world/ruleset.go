package world

// Ruleset is the capability set a game hands to the engine at startup. The
// sync core calls into it to create and move objects; it never reaches into
// game logic any other way.
type Ruleset interface {
	// GameID names the game in save headers. Saves from another game are
	// refused.
	GameID() string

	// NewLevel builds the static geometry of a level with no thinkers in it.
	NewLevel(episode, mapNum, skill int32) (*World, error)

	// SpawnMobj creates a map object of the given type. It is not linked
	// into any world.
	SpawnMobj(kind int32) *Mobj

	// Move applies one tic of input to a player's map object.
	Move(mo *Mobj, cmd Ticcmd)

	Textures() TextureSet
}

// TextureSet maps between engine texture/flat indices and their names.
type TextureSet interface {
	TextureName(num int) (string, bool)
	TextureNum(name string) (int, bool)
	FlatName(num int) (string, bool)
	FlatNum(name string) (int, bool)
}

// SoundPlayer starts sounds. Either origin or sector may be nil; both nil
// means a sound at the listener.
type SoundPlayer interface {
	StartSound(id int32, origin *Mobj, sector *Sector, volume float32)
}
