package app

import (
	"context"
	"strings"

	"ignisos/api/internal/roster"
)

const defaultMemberColor = "bg-blue-500"

type SettingsPatchInput struct {
	Theme        *string `json:"theme"`
	ToggleTheme  bool    `json:"toggleTheme"`
	OpenAIAPIKey *string `json:"openaiApiKey"`
}

func (s *Service) Settings(ctx context.Context) (map[string]any, error) {
	theme, err := s.settings.Theme(ctx)
	if err != nil {
		return nil, err
	}
	key, err := s.settings.OpenAIAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"theme":           theme,
		"openaiApiKeySet": key != "" || s.cfg.OpenAIAPIKey != "",
		"openaiApiKeyEnv": s.cfg.OpenAIAPIKey != "",
	}, nil
}

// UpdateSettings applies a theme change and/or stores the OpenAI key. The key
// never leaves the device store; responses only say whether one is set.
func (s *Service) UpdateSettings(ctx context.Context, input SettingsPatchInput) (map[string]any, error) {
	switch {
	case input.ToggleTheme:
		if _, err := s.settings.ToggleTheme(ctx); err != nil {
			return nil, err
		}
	case input.Theme != nil:
		theme := strings.TrimSpace(*input.Theme)
		if err := oneOf("theme", theme, roster.ThemeDark, roster.ThemeLight); err != nil {
			return nil, err
		}
		if err := s.settings.SetTheme(ctx, theme); err != nil {
			return nil, err
		}
	}
	if input.OpenAIAPIKey != nil {
		if err := s.settings.SetOpenAIAPIKey(ctx, strings.TrimSpace(*input.OpenAIAPIKey)); err != nil {
			return nil, err
		}
	}
	return s.Settings(ctx)
}

func (s *Service) TeamMembers(ctx context.Context) ([]roster.Member, error) {
	return s.settings.Members(ctx)
}

func (s *Service) AddTeamMember(ctx context.Context, name, color string) (roster.Member, error) {
	name = strings.TrimSpace(name)
	if err := required("name", name); err != nil {
		return roster.Member{}, err
	}
	color = strings.TrimSpace(color)
	if color == "" {
		color = defaultMemberColor
	}
	return s.settings.Add(ctx, name, color)
}

func (s *Service) UpdateTeamMember(ctx context.Context, id string, patch roster.MemberPatch) (roster.Member, error) {
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if err := required("name", name); err != nil {
			return roster.Member{}, err
		}
		patch.Name = &name
	}
	member, found, err := s.settings.Update(ctx, id, patch)
	if err != nil {
		return roster.Member{}, err
	}
	if !found {
		return roster.Member{}, notFound("Team member")
	}
	return member, nil
}

func (s *Service) RemoveTeamMember(ctx context.Context, id string) error {
	removed, err := s.settings.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return notFound("Team member")
	}
	return nil
}
