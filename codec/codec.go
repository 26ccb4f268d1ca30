// Package codec turns payload values into bytes and back.
package codec

import (
	"fmt"
	"sync"
)

// A Codec encodes and decodes payloads.
type Codec interface {
	// Name identifies the codec on the wire.
	Name() string
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

var registryLock sync.RWMutex
var registry = map[string]Codec{}

func init() {
	Register(NewJSONCodec())
}

// Register makes a codec available to decode payloads that name it. It
// panics if a codec with the same name is already registered.
func Register(c Codec) {
	registryLock.Lock()
	defer registryLock.Unlock()

	if _, found := registry[c.Name()]; found {
		panic(fmt.Sprintf("codec %s already registered", c.Name()))
	}

	registry[c.Name()] = c
}

// Lookup finds a registered codec by name.
func Lookup(name string) (Codec, bool) {
	registryLock.RLock()
	defer registryLock.RUnlock()

	c, found := registry[name]

	return c, found
}
