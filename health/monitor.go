package health

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Check computes a status on demand.
type Check func() Status

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checks   map[string]Check
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checks:   make(map[string]Check),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Register adds a pulled check. It replaces any pushed status of that name.
func (m *Monitor) Register(name string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	m.checks[name] = check
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	status, ok := m.statuses[name]
	check, isCheck := m.checks[name]
	m.mu.RUnlock()

	if isCheck {
		return evaluate(name, check), true
	}
	return status, ok
}

func evaluate(name string, check Check) Status {
	status := check()
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	return status
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := make(map[string]Status, len(m.statuses)+len(m.checks))
	for name, status := range m.statuses {
		result[name] = status
	}
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	// checks run without the lock; they may call back into other components
	for name, check := range checks {
		result[name] = evaluate(name, check)
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.checks, name)
}

// AggregateHealth returns an aggregated health status for the entire system.
// Sub-statuses are ordered by component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	all := m.GetAll()
	subStatuses := make([]Status, 0, len(all))
	for _, status := range all {
		subStatuses = append(subStatuses, status)
	}
	slices.SortFunc(subStatuses, func(a, b Status) int {
		switch {
		case a.Component < b.Component:
			return -1
		case a.Component > b.Component:
			return 1
		}
		return 0
	})
	return Aggregate(systemName, subStatuses)
}

// ListComponents returns the monitored component names, sorted.
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.statuses)+len(m.checks))
	for name := range m.statuses {
		names = append(names, name)
	}
	for name := range m.checks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses) + len(m.checks)
}

// Track mirrors a connection-state feed into the named status until ctx is
// done or states is closed. The component starts unhealthy.
func (m *Monitor) Track(ctx context.Context, name string, states <-chan bool) {
	started := time.Now()
	var reconnects int
	var up, seenUp bool

	m.UpdateUnhealthy(name, "waiting for connection")
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-states:
			if !ok {
				m.UpdateUnhealthy(name, "state feed closed")
				return
			}
			if next == up && seenUp {
				continue
			}
			if next && seenUp && !up {
				reconnects++
			}
			up = next
			seenUp = seenUp || next

			status := NewUnhealthy(name, "disconnected")
			if up {
				status = NewHealthy(name, "connected")
			}
			now := time.Now()
			m.Update(name, status.WithMetrics(&Metrics{
				Uptime:     now.Sub(started),
				Reconnects: reconnects,
				LastChange: now,
			}))
		}
	}
}
