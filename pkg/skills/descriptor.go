// Copyright 2026 © The Skillmesh Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/mcp"
)

// Tier classifies how a skill is reached.
type Tier string

const (
	// TierInstruction skills contribute prompt text and never connect.
	TierInstruction Tier = "instruction"
	// TierStdio skills run as a local subprocess.
	TierStdio Tier = "stdio"
	// TierSidecar skills listen on HTTP inside the same pod.
	TierSidecar Tier = "sidecar"
	// TierService skills are remote HTTP services.
	TierService Tier = "service"
)

// Owner records who created a descriptor.
type Owner string

const (
	OwnerSystem    Owner = "system"
	OwnerAgent     Owner = "agent"
	OwnerExtension Owner = "extension"
)

// Descriptor configures one skill.
type Descriptor struct {
	ID        string            `json:"id" yaml:"id" toml:"id"`
	Name      string            `json:"name" yaml:"name" toml:"name"`
	Version   string            `json:"version,omitempty" yaml:"version,omitempty" toml:"version,omitempty"`
	Tier      Tier              `json:"tier" yaml:"tier" toml:"tier"`
	Transport mcp.TransportKind `json:"transport,omitempty" yaml:"transport,omitempty" toml:"transport,omitempty"`
	Enabled   bool              `json:"enabled" yaml:"enabled" toml:"enabled"`
	Config    map[string]any    `json:"config,omitempty" yaml:"config,omitempty" toml:"config,omitempty"`

	// stdio
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`

	// sidecar and service
	URL     string            `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty" toml:"headers,omitempty"`

	// instruction
	Content     string `json:"content,omitempty" yaml:"content,omitempty" toml:"content,omitempty"`
	ContentPath string `json:"content_path,omitempty" yaml:"content_path,omitempty" toml:"content_path,omitempty"`

	Owner     Owner     `json:"owner,omitempty" yaml:"owner,omitempty" toml:"owner,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty" toml:"tags,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty" yaml:"-" toml:"-"`
}

// Connects reports whether the tier opens a tool connection.
func (d Descriptor) Connects() bool {
	return d.Tier != TierInstruction
}

// Validate checks the tier-specific parameters.
func (d Descriptor) Validate() error {
	invalid := func(msg string) error {
		return errors.New(errors.CodeInvalidInput, msg, nil).WithContext("skill_id", d.ID)
	}
	if d.ID == "" {
		return errors.New(errors.CodeInvalidInput, "skill id is required", nil)
	}
	switch d.Tier {
	case TierInstruction:
		if d.Content == "" && d.ContentPath == "" {
			return invalid("instruction skill needs content or content_path")
		}
	case TierStdio:
		if d.Command == "" {
			return invalid("stdio skill needs a command")
		}
		if d.Transport != "" && d.Transport != mcp.TransportStdio {
			return invalid(fmt.Sprintf("stdio skill cannot use transport %q", d.Transport))
		}
	case TierSidecar, TierService:
		if d.URL == "" {
			return invalid(fmt.Sprintf("%s skill needs a url", d.Tier))
		}
		switch d.Transport {
		case "", mcp.TransportStreamableHTTP, mcp.TransportSSE:
		default:
			return invalid(fmt.Sprintf("%s skill cannot use transport %q", d.Tier, d.Transport))
		}
	default:
		return invalid(fmt.Sprintf("unknown tier %q", d.Tier))
	}
	switch d.Owner {
	case "", OwnerSystem, OwnerAgent, OwnerExtension:
	default:
		return invalid(fmt.Sprintf("unknown owner %q", d.Owner))
	}
	return nil
}

// sameEndpoint reports whether two descriptors reach the same server, in
// which case an update does not need to reconnect.
func sameEndpoint(a, b Descriptor) bool {
	return a.Tier == b.Tier &&
		a.Transport == b.Transport &&
		a.Command == b.Command &&
		slices.Equal(a.Args, b.Args) &&
		maps.Equal(a.Env, b.Env) &&
		a.URL == b.URL &&
		maps.Equal(a.Headers, b.Headers)
}

// Clone returns a deep copy of d.
func (d Descriptor) Clone() Descriptor {
	d.Config = maps.Clone(d.Config)
	d.Args = slices.Clone(d.Args)
	d.Env = maps.Clone(d.Env)
	d.Headers = maps.Clone(d.Headers)
	d.Tags = slices.Clone(d.Tags)
	return d
}
