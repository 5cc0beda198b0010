// Package discovery lets extension skills announce themselves at runtime.
// Announcements and heartbeats travel on a Bus; a Tracker turns them into
// extension-owned skill descriptors and disables skills that go quiet.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jllopis/skillmesh/pkg/errors"
	"github.com/jllopis/skillmesh/pkg/mcp"
	"github.com/jllopis/skillmesh/pkg/skills"
)

// Kind distinguishes announcement messages.
type Kind string

const (
	KindAnnounce  Kind = "announce"
	KindHeartbeat Kind = "heartbeat"
	KindWithdraw  Kind = "withdraw"
)

// Announcement is published by an extension skill server.
type Announcement struct {
	Kind      Kind              `json:"kind"`
	ID        string            `json:"id" binding:"required"`
	Name      string            `json:"name,omitempty"`
	Version   string            `json:"version,omitempty"`
	Tier      skills.Tier       `json:"tier,omitempty"`
	Transport mcp.TransportKind `json:"transport,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Tools     []string          `json:"tools,omitempty"`
	SentAt    time.Time         `json:"sent_at,omitempty"`
}

// Validate checks the fields required by the message kind.
func (a Announcement) Validate() error {
	if a.ID == "" {
		return errors.New(errors.CodeInvalidInput, "announcement id is required", nil)
	}
	switch a.Kind {
	case KindAnnounce:
		if a.URL == "" {
			return errors.New(errors.CodeInvalidInput, "announcement url is required", nil).WithContext("skill_id", a.ID)
		}
		switch a.Tier {
		case "", skills.TierSidecar, skills.TierService:
		default:
			return errors.New(errors.CodeInvalidInput, fmt.Sprintf("extension skills cannot use tier %q", a.Tier), nil).
				WithContext("skill_id", a.ID)
		}
	case KindHeartbeat, KindWithdraw:
	default:
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown announcement kind %q", a.Kind), nil).
			WithContext("skill_id", a.ID)
	}
	return nil
}

// Descriptor is the extension-owned skill the announcement describes.
func (a Announcement) Descriptor() skills.Descriptor {
	tier := a.Tier
	if tier == "" {
		tier = skills.TierService
	}
	name := a.Name
	if name == "" {
		name = a.ID
	}
	return skills.Descriptor{
		ID:        a.ID,
		Name:      name,
		Version:   a.Version,
		Tier:      tier,
		Transport: a.Transport,
		Enabled:   true,
		URL:       a.URL,
		Headers:   a.Headers,
		Owner:     skills.OwnerExtension,
		Tags:      a.Tools,
	}
}

func encode(a Announcement) ([]byte, error) {
	return json.Marshal(a)
}

func decode(raw []byte) (Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, err
	}
	return a, nil
}

// Bus carries announcements between extension servers and agents.
type Bus interface {
	Publish(ctx context.Context, a Announcement) error
	// Subscribe delivers announcements until ctx ends, then closes the
	// channel.
	Subscribe(ctx context.Context) (<-chan Announcement, error)
	Close() error
}
