package domain

import (
	"fmt"
	"regexp"
)

var idPattern = regexp.MustCompile(`^[a-z0-9._-]+$`)

// ModuleDescriptor describes an upstream module: what it provides, how it
// hooks into the request pipeline, and how it can be launched.
type ModuleDescriptor struct {
	ID   string   `json:"id"`
	Name string   `json:"name,omitempty"`
	Tags []string `json:"tags,omitempty"`

	Env      []EnvEntry        `json:"env,omitempty"`
	Requires []ModuleInterface `json:"requires,omitempty"`
	Provides []ModuleInterface `json:"provides,omitempty"`

	// RoutingEntries is the deprecated top-level form; use Provides with
	// proxy interfaces instead.
	RoutingEntries []RoutingEntry `json:"routingEntries,omitempty"`
	Filters        []RoutingEntry `json:"filters,omitempty"`

	PermissionSets []Permission `json:"permissionSets,omitempty"`
	// ModulePermissions at the top level is deprecated; per-entry
	// modulePermissions replace it.
	ModulePermissions []string `json:"modulePermissions,omitempty"`

	LaunchDescriptor *LaunchDescriptor `json:"launchDescriptor,omitempty"`
	UIDescriptor     *UIDescriptor     `json:"uiDescriptor,omitempty"`
}

// ModuleInterface is an interface a module provides or requires.
type ModuleInterface struct {
	ID             string         `json:"id"`
	Version        string         `json:"version,omitempty"`
	InterfaceType  string         `json:"interfaceType,omitempty"`
	Handlers       []RoutingEntry `json:"handlers,omitempty"`
	RoutingEntries []RoutingEntry `json:"routingEntries,omitempty"`
}

// EnvEntry is a single environment variable for a launched module.
type EnvEntry struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// Permission names a permission a module defines.
type Permission struct {
	PermissionName string   `json:"permissionName"`
	DisplayName    string   `json:"displayName,omitempty"`
	Description    string   `json:"description,omitempty"`
	SubPermissions []string `json:"subPermissions,omitempty"`
}

// LaunchDescriptor carries launch information for deployment backends. The
// gateway core treats it as opaque data.
type LaunchDescriptor struct {
	Exec         string     `json:"exec,omitempty"`
	CmdlineStart string     `json:"cmdlineStart,omitempty"`
	CmdlineStop  string     `json:"cmdlineStop,omitempty"`
	DockerImage  string     `json:"dockerImage,omitempty"`
	DockerPull   *bool      `json:"dockerPull,omitempty"`
	Env          []EnvEntry `json:"env,omitempty"`
}

// UIDescriptor carries UI metadata; opaque to the gateway.
type UIDescriptor struct {
	NPMSnippet string `json:"npmSnippet,omitempty"`
}

// NameOrID returns the module's display name, falling back to its id.
func (m *ModuleDescriptor) NameOrID() string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// Type returns the effective interface type, defaulting to proxy.
func (i *ModuleInterface) Type() string {
	if i.InterfaceType == "" {
		return "proxy"
	}
	return i.InterfaceType
}

// Entries returns the interface's routing entries, accepting both the
// handlers form and the older routingEntries form.
func (i *ModuleInterface) Entries() []RoutingEntry {
	all := make([]RoutingEntry, 0, len(i.Handlers)+len(i.RoutingEntries))
	all = append(all, i.Handlers...)
	all = append(all, i.RoutingEntries...)
	return all
}

// Validate checks the interface when declared in the given section
// ("provides" or "requires").
func (i *ModuleInterface) Validate(section string) error {
	if i.ID == "" {
		return fmt.Errorf("missing id in %s interface", section)
	}
	for k := range i.Handlers {
		if err := i.Handlers[k].Validate(section); err != nil {
			return err
		}
	}
	for k := range i.RoutingEntries {
		if err := i.RoutingEntries[k].Validate(section); err != nil {
			return err
		}
	}
	return nil
}

// ProxyRoutingEntries collects every routing entry that takes part in the
// request pipeline: top-level entries, filters, and entries of provided
// proxy interfaces.
func (m *ModuleDescriptor) ProxyRoutingEntries() []*RoutingEntry {
	var all []*RoutingEntry
	for i := range m.RoutingEntries {
		all = append(all, &m.RoutingEntries[i])
	}
	for i := range m.Filters {
		all = append(all, &m.Filters[i])
	}
	for i := range m.Provides {
		p := &m.Provides[i]
		if p.Type() != "proxy" {
			continue
		}
		for j := range p.Handlers {
			all = append(all, &p.Handlers[j])
		}
		for j := range p.RoutingEntries {
			all = append(all, &p.RoutingEntries[j])
		}
	}
	return all
}

// SystemInterface returns the named provided system interface, or nil.
func (m *ModuleDescriptor) SystemInterface(interfaceID string) *ModuleInterface {
	for i := range m.Provides {
		p := &m.Provides[i]
		if p.Type() == "system" && p.ID == interfaceID {
			return p
		}
	}
	return nil
}

// Validate checks invariants of the descriptor: a well-formed id and valid
// provided/required interfaces and routing entries.
func (m *ModuleDescriptor) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("no id in module")
	}
	if !idPattern.MatchString(m.ID) {
		return fmt.Errorf("invalid module id %q", m.ID)
	}
	for i := range m.Provides {
		if err := m.Provides[i].Validate("provides"); err != nil {
			return err
		}
	}
	for i := range m.Requires {
		if err := m.Requires[i].Validate("requires"); err != nil {
			return err
		}
	}
	for i := range m.RoutingEntries {
		if err := m.RoutingEntries[i].Validate("toplevel"); err != nil {
			return err
		}
	}
	for i := range m.Filters {
		if err := m.Filters[i].Validate("filters"); err != nil {
			return err
		}
	}
	return nil
}

// Brief is the reduced form used in module listings.
type Brief struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Brief returns the listing form of the descriptor.
func (m *ModuleDescriptor) Brief() Brief {
	return Brief{ID: m.ID, Name: m.Name}
}
