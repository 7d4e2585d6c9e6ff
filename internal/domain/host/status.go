package host

import (
	"github.com/noxsuite/noxhost/internal/domain/plugin"
	"github.com/noxsuite/noxhost/internal/domain/security"
)

// Row summarizes one loaded plugin for status reporting.
type Row struct {
	Status      plugin.Status       `json:"status"`
	Version     string              `json:"version"`
	Category    string              `json:"category"`
	Priority    string              `json:"priority"`
	Description string              `json:"description"`
	Author      string              `json:"author"`
	Trust       security.TrustLevel `json:"trust"`
	Violations  int                 `json:"violations"`
}

// Summary is the host-wide plugin status report.
type Summary struct {
	TotalPlugins    int            `json:"total_plugins"`
	ActivePlugins   int            `json:"active_plugins"`
	InactivePlugins int            `json:"inactive_plugins"`
	ErrorPlugins    int            `json:"error_plugins"`
	Plugins         map[string]Row `json:"plugins"`
}

// Status reports the registry's current shape.
func (m *Manager) Status() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	summary := Summary{Plugins: make(map[string]Row, len(m.instances))}
	for name, inst := range m.instances {
		summary.TotalPlugins++
		switch inst.Status() {
		case plugin.StatusActive:
			summary.ActivePlugins++
		case plugin.StatusInactive:
			summary.InactivePlugins++
		case plugin.StatusError:
			summary.ErrorPlugins++
		}

		man := inst.Manifest()
		row := Row{
			Status:      inst.Status(),
			Version:     man.Version,
			Category:    man.Category,
			Priority:    man.Priority.String(),
			Description: man.Description,
			Author:      man.Author,
			Violations:  len(inst.Monitor().Violations()),
		}
		if report, ok := m.reports[name]; ok {
			row.Trust = report.Trust
		}
		summary.Plugins[name] = row
	}
	return summary
}
