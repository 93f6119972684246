package infectionmanager

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

var _ InfectionManagerClient = (*InfectionManagerMock)(nil)

// InfectionManagerMock records the pids it was asked to infect and never
// runs the task.
type InfectionManagerMock struct {
	Infected mapset.Set[int]
}

func CreateInfectionManagerMock() *InfectionManagerMock {
	return &InfectionManagerMock{Infected: mapset.NewSet[int]()}
}

func (m *InfectionManagerMock) Infect(_ context.Context, pid int, _ Task) error {
	m.Infected.Add(pid)
	return nil
}

func (m *InfectionManagerMock) InfectAll(_ context.Context, pids []int, _ Task) error {
	m.Infected.Append(pids...)
	return nil
}

func (m *InfectionManagerMock) Active() []int {
	return nil
}

func (m *InfectionManagerMock) Ready() bool {
	return true
}

func (m *InfectionManagerMock) Close() {
}
