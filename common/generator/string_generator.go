package generator

import (
	"github.com/satori/go.uuid"
)

type StringGenerator struct {
}

func (n *StringGenerator) GenerateUuid() string {
	id, err := uuid.NewV4()
	if err != nil {
		panic(err)
	}
	return id.String()
}
