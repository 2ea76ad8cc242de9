package service

import (
	"fmt"
	"os"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"

	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML document accepted by chatctl seed.
type SeedFile struct {
	Tenants []SeedTenant `yaml:"tenants"`
}

type SeedTenant struct {
	ID                string      `yaml:"id"`
	Name              string      `yaml:"name"`
	BusinessContext   string      `yaml:"business_context"`
	WebhookURL        string      `yaml:"webhook_url"`
	NotificationEmail string      `yaml:"notification_email"`
	SlackChannel      string      `yaml:"slack_channel"`
	Agents            []SeedAgent `yaml:"agents"`
}

type SeedAgent struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Persona string `yaml:"persona"`
}

// LoadSeedFile reads and parses a seed file from path.
func LoadSeedFile(path string) (SeedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SeedFile{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	return ParseSeedFile(data)
}

func ParseSeedFile(data []byte) (SeedFile, error) {
	var file SeedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return SeedFile{}, fmt.Errorf("seed: parse: %w", err)
	}
	return file, file.Validate()
}

func (f SeedFile) Validate() error {
	seen := make(map[string]bool, len(f.Tenants))
	for i, t := range f.Tenants {
		if trimmed(t.ID) == "" || trimmed(t.Name) == "" {
			return apperr.Validation(fmt.Sprintf("tenants[%d]: id and name are required", i))
		}
		if seen[t.ID] {
			return apperr.Validation(fmt.Sprintf("tenants[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true

		agentSeen := make(map[string]bool, len(t.Agents))
		for j, a := range t.Agents {
			if trimmed(a.ID) == "" || trimmed(a.Name) == "" {
				return apperr.Validation(fmt.Sprintf("tenants[%d].agents[%d]: id and name are required", i, j))
			}
			if agentSeen[a.ID] {
				return apperr.Validation(fmt.Sprintf("tenants[%d].agents[%d]: duplicate id %q", i, j, a.ID))
			}
			agentSeen[a.ID] = true
		}
	}
	return nil
}

func (t SeedTenant) tenant() repository.Tenant {
	return repository.Tenant{
		ID:                trimmed(t.ID),
		Name:              trimmed(t.Name),
		BusinessContext:   trimmed(t.BusinessContext),
		WebhookURL:        trimmed(t.WebhookURL),
		NotificationEmail: trimmed(t.NotificationEmail),
		SlackChannel:      trimmed(t.SlackChannel),
	}
}

func (a SeedAgent) agent(tenantID string) repository.Agent {
	return repository.Agent{
		ID:       trimmed(a.ID),
		TenantID: trimmed(tenantID),
		Name:     trimmed(a.Name),
		Persona:  trimmed(a.Persona),
	}
}
