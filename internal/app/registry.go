package app

import (
	"fmt"

	"SpectrumRanker/internal/comparator"
	"SpectrumRanker/internal/config"
	"SpectrumRanker/internal/domain"
	"SpectrumRanker/internal/infrastructure/llm"
	"SpectrumRanker/internal/infrastructure/ml"
	"SpectrumRanker/internal/usecase"
)

// buildRegistry registers the human comparator and one comparator per configured model.
func buildRegistry(cfg config.Config, prompter comparator.Prompter) (*comparator.Registry, error) {
	openai := llm.NewClient(cfg.OpenAI)
	hf := ml.NewClient(cfg.HuggingFace)

	registry := comparator.NewRegistry(comparator.NewHumanComparator(prompter))
	for _, m := range cfg.Models {
		switch m.Kind {
		case config.KindEmbedding:
			tie, err := comparator.ParseTieBreak(m.TieBreak)
			if err != nil {
				return nil, fmt.Errorf("model %s: %w", m.Name, err)
			}
			registry.Register(comparator.NewEmbeddingComparator(m.Name, m.Backend, openai, tie))
		case config.KindZeroShot:
			registry.Register(comparator.NewZeroShotComparator(m.Name, m.Backend, hf))
		case config.KindChat:
			registry.Register(comparator.NewChatComparator(m.Name, m.Backend, openai, comparator.PromptStyle(m.PromptStyle)))
		default:
			return nil, fmt.Errorf("model %s: unknown kind %q", m.Name, m.Kind)
		}
	}
	return registry, nil
}

func scheduledRuns(jobs []config.JobConfig) []usecase.ScheduledRun {
	out := make([]usecase.ScheduledRun, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, usecase.ScheduledRun{
			Spec: j.Cron,
			Request: usecase.RankRequest{
				ContainerID: domain.ContainerID(j.ContainerID),
				CriterionID: domain.CriterionID(j.CriterionID),
				Model:       j.Model,
				Actionable:  j.Actionable,
			},
		})
	}
	return out
}
