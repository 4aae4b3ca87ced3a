package world

import "strings"

// TextureTable is a simple TextureSet backed by name lists. Index 0 of
// each list is NoTexture.
type TextureTable struct {
	textures  []string
	flats     []string
	texIndex  map[string]int
	flatIndex map[string]int
}

func NewTextureTable(textures []string, flats []string) *TextureTable {
	t := &TextureTable{
		textures:  append([]string{"-"}, textures...),
		flats:     append([]string{"-"}, flats...),
		texIndex:  make(map[string]int),
		flatIndex: make(map[string]int),
	}
	for i, name := range t.textures[1:] {
		t.texIndex[strings.ToUpper(name)] = i + 1
	}
	for i, name := range t.flats[1:] {
		t.flatIndex[strings.ToUpper(name)] = i + 1
	}
	return t
}

func lookupName(names []string, num int) (string, bool) {
	if num <= NoTexture || num >= len(names) {
		return "", false
	}
	return names[num], true
}

func (t *TextureTable) TextureName(num int) (string, bool) {
	return lookupName(t.textures, num)
}

func (t *TextureTable) FlatName(num int) (string, bool) {
	return lookupName(t.flats, num)
}

func (t *TextureTable) TextureNum(name string) (int, bool) {
	num, ok := t.texIndex[strings.ToUpper(name)]
	return num, ok
}

func (t *TextureTable) FlatNum(name string) (int, bool) {
	num, ok := t.flatIndex[strings.ToUpper(name)]
	return num, ok
}

var _ TextureSet = (*TextureTable)(nil)
