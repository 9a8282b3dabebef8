package canon

import (
	"github.com/oklog/ulid/v2"
)

// comparable
// ids are ulids so that ids from the same process order by creation time.
// Each subscription gets an id which tags its log lines.
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func (self Id) String() string {
	return ulid.ULID(self).String()
}
