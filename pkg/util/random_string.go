package utils

import (
	"math/rand"
	"sync"
)

// Short random IDs used to correlate log lines for a single peer session.

type RandomStringGenerator struct {
	mut sync.Mutex
	gen *rand.Rand
}

func CreateRandomStringGenerator(seed int64) *RandomStringGenerator {
	return &RandomStringGenerator{
		mut: sync.Mutex{},
		gen: rand.New(rand.NewSource(seed)),
	}
}

var letters = []rune("123456789abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ")

func (g *RandomStringGenerator) GetRandomString(n int) string {
	g.mut.Lock()
	defer g.mut.Unlock()

	b := make([]rune, n)
	for i := range b {
		b[i] = letters[g.gen.Intn(len(letters))]
	}
	return string(b)
}
