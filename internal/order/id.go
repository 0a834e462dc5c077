package order

import (
	"fmt"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
)

// IDGenerator issues platform order ids: a second-resolution timestamp
// followed by five random digits.
type IDGenerator struct {
	digits func() string
	tag    func() string
	now    func() time.Time
}

func NewIDGenerator() (*IDGenerator, error) {
	digits, err := nanoid.CustomASCII("0123456789", 5)
	if err != nil {
		return nil, fmt.Errorf("failed to build order id generator: %w", err)
	}
	tag, err := nanoid.Standard(12)
	if err != nil {
		return nil, fmt.Errorf("failed to build tag generator: %w", err)
	}
	return &IDGenerator{digits: digits, tag: tag, now: time.Now}, nil
}

func (g *IDGenerator) OrderID() string {
	return g.now().Format("20060102150405") + g.digits()
}

// UnattributedID is the merchant reference given to payments that matched
// no pending order.
func (g *IDGenerator) UnattributedID() string {
	return "unattributed-" + g.tag()
}
