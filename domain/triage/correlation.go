package triage

import "github.com/google/uuid"

type CorrelationGenerator interface {
	NewID() string
}

type CorrelationGeneratorFunc func() string

func (f CorrelationGeneratorFunc) NewID() string {
	return f()
}

type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.NewString()
}

func NewCorrelationGenerator() CorrelationGenerator {
	return uuidGenerator{}
}
