// Package huffman implements the canonical Huffman coder that frame packets
// are compressed with before they are handed to the transport.
package huffman

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

const (
	numSymbols = 256

	// Longest code the coder will produce. Frequency tables that would need
	// longer codes are flattened until they fit.
	MaxCodeLength = 24

	headerSize = 4
)

type DecodeError struct {
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("huffman: %s (bit %d)", e.Reason, e.Offset)
}

var ErrNotInitialized = errors.New("huffman: coder not initialized")

type code struct {
	bits   uint32
	length uint8
}

// Coder holds a canonical code table built from a frequency table. A Coder is
// immutable once built and safe for concurrent use.
type Coder struct {
	codes [numSymbols]code

	// canonical decoding tables
	counts  [MaxCodeLength + 1]uint16
	symbols []byte
}

type node struct {
	weight uint64
	// lowest symbol in the subtree, used to break ties so that the same
	// frequency table always yields the same code
	symbol int
	left   *node
	right  *node
}

type nodeHeap []*node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].weight != h[j].weight {
		return h[i].weight < h[j].weight
	}
	return h[i].symbol < h[j].symbol
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)   { *h = append(*h, x.(*node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

func codeLengths(freqs [numSymbols]uint64) [numSymbols]uint8 {
	h := make(nodeHeap, 0, numSymbols)
	for symbol, weight := range freqs {
		h = append(h, &node{weight: weight, symbol: symbol})
	}
	heap.Init(&h)

	for h.Len() > 1 {
		a := heap.Pop(&h).(*node)
		b := heap.Pop(&h).(*node)
		symbol := a.symbol
		if b.symbol < symbol {
			symbol = b.symbol
		}
		heap.Push(&h, &node{
			weight: a.weight + b.weight,
			symbol: symbol,
			left:   a,
			right:  b,
		})
	}

	var lengths [numSymbols]uint8
	var walk func(n *node, depth int)
	walk = func(n *node, depth int) {
		if n.left == nil {
			if depth > 255 {
				depth = 255
			}
			lengths[n.symbol] = uint8(depth)
			return
		}
		walk(n.left, depth+1)
		walk(n.right, depth+1)
	}
	walk(h[0], 0)

	return lengths
}

// New builds a coder from a frequency table. Symbols with a frequency of zero
// are treated as if they had a frequency of one, so every byte value can
// always be encoded.
func New(freqs [numSymbols]uint32) (*Coder, error) {
	var weights [numSymbols]uint64
	for i, f := range freqs {
		weights[i] = uint64(f)
		if weights[i] == 0 {
			weights[i] = 1
		}
	}

	var lengths [numSymbols]uint8
	for attempt := 0; ; attempt++ {
		lengths = codeLengths(weights)

		longest := uint8(0)
		for _, l := range lengths {
			if l > longest {
				longest = l
			}
		}
		if longest <= MaxCodeLength {
			break
		}

		if attempt > 64 {
			return nil, fmt.Errorf("huffman: could not limit code lengths")
		}

		for i := range weights {
			weights[i] = weights[i]/2 + 1
		}
	}

	c := &Coder{}
	c.assign(lengths)
	return c, nil
}

// assign gives out canonical codes: shorter codes first, ties in symbol order.
func (c *Coder) assign(lengths [numSymbols]uint8) {
	for _, l := range lengths {
		c.counts[l]++
	}
	c.counts[0] = 0

	c.symbols = make([]byte, 0, numSymbols)
	order := make([]int, numSymbols)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return lengths[order[i]] < lengths[order[j]]
	})
	for _, symbol := range order {
		c.symbols = append(c.symbols, byte(symbol))
	}

	var next [MaxCodeLength + 2]uint32
	bits := uint32(0)
	for l := 1; l <= MaxCodeLength; l++ {
		bits = (bits + uint32(c.counts[l-1])) << 1
		next[l] = bits
	}

	for _, symbol := range c.symbols {
		l := lengths[symbol]
		c.codes[symbol] = code{bits: next[l], length: l}
		next[l]++
	}
}

// CodeLength reports how many bits the coder spends on a symbol.
func (c *Coder) CodeLength(symbol byte) int {
	return int(c.codes[symbol].length)
}

type bitWriter struct {
	out  []byte
	acc  uint64
	used uint
}

func (w *bitWriter) write(c code) {
	// codes are emitted most significant bit first
	for i := int(c.length) - 1; i >= 0; i-- {
		w.acc |= uint64((c.bits>>uint(i))&1) << w.used
		w.used++
		if w.used == 8 {
			w.out = append(w.out, byte(w.acc))
			w.acc = 0
			w.used = 0
		}
	}
}

func (w *bitWriter) flush() []byte {
	if w.used > 0 {
		w.out = append(w.out, byte(w.acc))
		w.acc = 0
		w.used = 0
	}
	return w.out
}

// Encode compresses data. The output starts with the original length so
// that Decode knows when to stop.
func (c *Coder) Encode(data []byte) []byte {
	w := bitWriter{out: make([]byte, headerSize, headerSize+len(data))}
	binary.LittleEndian.PutUint32(w.out, uint32(len(data)))

	for _, b := range data {
		w.write(c.codes[b])
	}

	return w.flush()
}

// Decode is the inverse of Encode. It never reads past the end of data.
func (c *Coder) Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, &DecodeError{Reason: "truncated header"}
	}

	size := binary.LittleEndian.Uint32(data)
	payload := data[headerSize:]
	limit := len(payload) * 8

	// every symbol takes at least one bit
	if uint64(size) > uint64(limit) {
		return nil, &DecodeError{Reason: fmt.Sprintf("declared size %d exceeds payload", size)}
	}

	out := make([]byte, 0, size)
	cursor := 0
	for uint32(len(out)) < size {
		var (
			value int
			first int
			index int
		)

		found := false
		for l := 1; l <= MaxCodeLength; l++ {
			if cursor >= limit {
				return nil, &DecodeError{Offset: cursor, Reason: "bit cursor past end of buffer"}
			}
			bit := int(payload[cursor>>3]>>(uint(cursor)&7)) & 1
			cursor++

			value |= bit
			count := int(c.counts[l])
			if value-count < first {
				out = append(out, c.symbols[index+(value-first)])
				found = true
				break
			}
			index += count
			first += count
			first <<= 1
			value <<= 1
		}

		if !found {
			return nil, &DecodeError{Offset: cursor, Reason: "invalid code"}
		}
	}

	return out, nil
}
